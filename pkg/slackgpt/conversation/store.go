// Package conversation holds the per-scope and per-thread conversation state
// of the bot: ordered turn history plus configuration options, with a
// snapshot/restore lifecycle for persistence.
//
// A scope is a top-level container (a channel); a thread is a reply chain
// inside it. Scopes copy the global defaults when created and threads copy
// their scope's options when created. Later changes at a higher level do not
// reach threads that already exist.
package conversation

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
)

// ErrNotFound is returned when an operation needs a thread (or a turn) that
// does not exist.
var ErrNotFound = errors.New("conversation not found")

// Turn is one message stored in a thread's history.
type Turn struct {
	// Author is the platform user ID of the sender, or the bot's own ID.
	Author string `json:"author"`

	// Text is the raw message body.
	Text string `json:"text"`
}

// Thread is a sub-conversation inside a scope.
type Thread struct {
	mu      sync.Mutex
	options Options
	history []Turn
}

// Scope is a top-level conversation container.
type Scope struct {
	mu      sync.RWMutex
	options Options
	threads map[string]*Thread
}

// Store maps (scope, thread) pairs to history and options.
//
// Locks are taken in the order store, scope, thread. Each thread has its own
// mutex so that conversations in different threads never wait on each other.
type Store struct {
	mu       sync.RWMutex
	defaults Options
	scopes   map[string]*Scope

	// version increases on every mutation; the autosaver compares it with
	// the version it last wrote.
	version atomic.Uint64

	logger *slog.Logger
}

// NewStore creates an empty store with the given global defaults.
func NewStore(defaults Options, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		defaults: defaults,
		scopes:   make(map[string]*Scope),
		logger:   logger.With("component", "conversation"),
	}
}

// Version returns the mutation counter.
func (s *Store) Version() uint64 {
	return s.version.Load()
}

func (s *Store) touch() {
	s.version.Add(1)
}

// EnsureScope creates the scope with a copy of the global defaults if it
// does not exist yet.
func (s *Store) EnsureScope(scopeID string) {
	s.ensureScope(scopeID)
}

func (s *Store) ensureScope(scopeID string) *Scope {
	s.mu.RLock()
	sc, ok := s.scopes[scopeID]
	s.mu.RUnlock()
	if ok {
		return sc
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock.
	if sc, ok := s.scopes[scopeID]; ok {
		return sc
	}
	sc = &Scope{
		options: s.defaults,
		threads: make(map[string]*Thread),
	}
	s.scopes[scopeID] = sc
	s.touch()

	s.logger.Debug("scope created", "scope", scopeID)
	return sc
}

// EnsureThread creates the scope and the thread if needed. A new thread
// takes a snapshot of its scope's options. Thread "" holds the scope-level
// history (top-level DMs, slash commands) and always reads the scope's
// options, so its snapshot is never consulted.
func (s *Store) EnsureThread(scopeID, threadID string) {
	s.ensureThread(scopeID, threadID)
}

func (s *Store) ensureThread(scopeID, threadID string) *Thread {
	sc := s.ensureScope(scopeID)

	sc.mu.RLock()
	th, ok := sc.threads[threadID]
	sc.mu.RUnlock()
	if ok {
		return th
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if th, ok := sc.threads[threadID]; ok {
		return th
	}
	th = &Thread{options: sc.options}
	sc.threads[threadID] = th
	s.touch()

	s.logger.Debug("thread created", "scope", scopeID, "thread", threadID)
	return th
}

// lookupThread returns an existing thread without creating anything.
func (s *Store) lookupThread(scopeID, threadID string) *Thread {
	s.mu.RLock()
	sc, ok := s.scopes[scopeID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.threads[threadID]
}

func (s *Store) lookupScope(scopeID string) *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scopes[scopeID]
}

// History returns a copy of the thread's turns. Unknown scopes and threads
// yield an empty slice.
func (s *Store) History(scopeID, threadID string) []Turn {
	th := s.lookupThread(scopeID, threadID)
	if th == nil {
		return []Turn{}
	}
	th.mu.Lock()
	defer th.mu.Unlock()

	out := make([]Turn, len(th.history))
	copy(out, th.history)
	return out
}

// AppendTurn adds one turn at the end of the thread, creating it if needed.
func (s *Store) AppendTurn(scopeID, threadID, author, text string) {
	s.AppendTurns(scopeID, threadID, Turn{Author: author, Text: text})
}

// AppendTurns adds several turns in one critical section, so concurrent
// writers to the same thread cannot interleave between them.
func (s *Store) AppendTurns(scopeID, threadID string, turns ...Turn) {
	if len(turns) == 0 {
		return
	}
	th := s.ensureThread(scopeID, threadID)

	th.mu.Lock()
	th.history = append(th.history, turns...)
	th.mu.Unlock()

	s.touch()
}

// ReplaceLastTurn overwrites the most recent turn of the thread.
func (s *Store) ReplaceLastTurn(scopeID, threadID, author, text string) error {
	th := s.lookupThread(scopeID, threadID)
	if th == nil {
		return fmt.Errorf("replace last turn in %s/%s: %w", scopeID, threadID, ErrNotFound)
	}

	th.mu.Lock()
	defer th.mu.Unlock()

	if len(th.history) == 0 {
		return fmt.Errorf("replace last turn in %s/%s: empty history: %w", scopeID, threadID, ErrNotFound)
	}
	th.history[len(th.history)-1] = Turn{Author: author, Text: text}
	s.touch()
	return nil
}

// ClearHistory drops every turn of the thread and keeps its options.
func (s *Store) ClearHistory(scopeID, threadID string) error {
	th := s.lookupThread(scopeID, threadID)
	if th == nil {
		return fmt.Errorf("clear history of %s/%s: %w", scopeID, threadID, ErrNotFound)
	}

	th.mu.Lock()
	th.history = nil
	th.mu.Unlock()

	s.touch()
	return nil
}

// Options returns the resolved options for the pair: the thread's when the
// thread exists, else the scope's, else the global defaults. An empty
// scopeID selects the defaults and an empty threadID selects the scope.
func (s *Store) Options(scopeID, threadID string) Options {
	if scopeID == "" {
		return s.Defaults()
	}
	sc := s.lookupScope(scopeID)
	if sc == nil {
		return s.Defaults()
	}

	sc.mu.RLock()
	th, ok := sc.threads[threadID]
	opts := sc.options
	sc.mu.RUnlock()

	if threadID == "" || !ok {
		return opts
	}
	th.mu.Lock()
	defer th.mu.Unlock()
	return th.options
}

// Option returns a single resolved option value.
func (s *Store) Option(scopeID, threadID string, name OptionName) (any, error) {
	return s.Options(scopeID, threadID).Get(name)
}

// Defaults returns the global default options.
func (s *Store) Defaults() Options {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// SetOption changes one option at a single level. With an empty scopeID the
// global default changes; with an empty threadID only the scope changes;
// with both the thread changes. Missing scopes and threads are created
// first, so the new thread snapshots the scope before the change applies.
func (s *Store) SetOption(scopeID, threadID string, name OptionName, value any) error {
	if scopeID == "" {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.defaults.Set(name, value); err != nil {
			return err
		}
		s.touch()
		return nil
	}

	if threadID == "" {
		sc := s.ensureScope(scopeID)
		sc.mu.Lock()
		defer sc.mu.Unlock()
		if err := sc.options.Set(name, value); err != nil {
			return err
		}
		s.touch()
		return nil
	}

	th := s.ensureThread(scopeID, threadID)
	th.mu.Lock()
	defer th.mu.Unlock()
	if err := th.options.Set(name, value); err != nil {
		return err
	}
	s.touch()
	return nil
}

// Scopes returns the known scope IDs, sorted.
func (s *Store) Scopes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.scopes))
	for id := range s.scopes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Threads returns the thread IDs of a scope, sorted.
func (s *Store) Threads(scopeID string) []string {
	sc := s.lookupScope(scopeID)
	if sc == nil {
		return nil
	}
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	ids := make([]string, 0, len(sc.threads))
	for id := range sc.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
