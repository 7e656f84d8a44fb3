package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Document is the persisted form of the whole store: scope ID to scope.
type Document map[string]ScopeDoc

// ScopeDoc is one persisted scope. Option fields sit next to "threads".
type ScopeDoc struct {
	Options
	Threads map[string]ThreadDoc `json:"threads"`
}

// ThreadDoc is one persisted thread. Option fields sit next to "history".
type ThreadDoc struct {
	Options
	History []Turn `json:"history"`
}

// Target receives serialized snapshots.
type Target interface {
	// Name identifies the target in logs.
	Name() string

	// Save stores one serialized document.
	Save(ctx context.Context, data []byte) error
}

// Source yields a previously saved document.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]byte, error)
}

// Snapshot captures a consistent copy of every scope and thread.
func (s *Store) Snapshot() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := make(Document, len(s.scopes))
	for scopeID, sc := range s.scopes {
		sc.mu.RLock()
		sd := ScopeDoc{
			Options: sc.options,
			Threads: make(map[string]ThreadDoc, len(sc.threads)),
		}
		for threadID, th := range sc.threads {
			th.mu.Lock()
			history := make([]Turn, len(th.history))
			copy(history, th.history)
			sd.Threads[threadID] = ThreadDoc{Options: th.options, History: history}
			th.mu.Unlock()
		}
		sc.mu.RUnlock()
		doc[scopeID] = sd
	}
	return doc
}

// Restore replaces the whole tree with the document's content. The global
// defaults are kept.
func (s *Store) Restore(doc Document) {
	scopes := make(map[string]*Scope, len(doc))
	for scopeID, sd := range doc {
		sc := &Scope{
			options: sd.Options,
			threads: make(map[string]*Thread, len(sd.Threads)),
		}
		for threadID, td := range sd.Threads {
			history := make([]Turn, len(td.History))
			copy(history, td.History)
			sc.threads[threadID] = &Thread{options: td.Options, history: history}
		}
		scopes[scopeID] = sc
	}

	s.mu.Lock()
	s.scopes = scopes
	s.mu.Unlock()
	s.touch()
}

// Persist writes one snapshot to every target. Each target is attempted even
// when an earlier one fails; failures are logged and returned joined.
func (s *Store) Persist(ctx context.Context, targets ...Target) error {
	data, err := json.MarshalIndent(s.Snapshot(), "", "    ")
	if err != nil {
		s.logger.Error("failed to encode history", "error", err)
		return fmt.Errorf("encode history: %w", err)
	}

	var errs []error
	for _, t := range targets {
		if err := t.Save(ctx, data); err != nil {
			s.logger.Error("failed to save history", "target", t.Name(), "error", err)
			errs = append(errs, fmt.Errorf("save to %s: %w", t.Name(), err))
			continue
		}
		s.logger.Debug("history saved", "target", t.Name(), "bytes", len(data))
	}
	return errors.Join(errs...)
}

// PersistPaths writes one snapshot to each file path.
func (s *Store) PersistPaths(ctx context.Context, paths ...string) error {
	targets := make([]Target, 0, len(paths))
	for _, p := range paths {
		targets = append(targets, NewFileTarget(p, time.Now()))
	}
	return s.Persist(ctx, targets...)
}

// Load replaces the store's content with the document read from src. When
// the source is missing or unreadable the store is left empty and the error
// is logged and returned; callers treat it as a cold start.
func (s *Store) Load(ctx context.Context, src Source) error {
	data, err := src.Load(ctx)
	if err != nil {
		s.Restore(nil)
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Info("no saved history, starting empty", "source", src.Name())
		} else {
			s.logger.Warn("failed to read history, starting empty", "source", src.Name(), "error", err)
		}
		return fmt.Errorf("load history from %s: %w", src.Name(), err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.Restore(nil)
		s.logger.Warn("corrupt history, starting empty", "source", src.Name(), "error", err)
		return fmt.Errorf("decode history from %s: %w", src.Name(), err)
	}

	s.Restore(doc)
	s.logger.Info("history loaded", "source", src.Name(), "scopes", len(doc))
	return nil
}

// LoadPath loads the store from a JSON file.
func (s *Store) LoadPath(ctx context.Context, path string) error {
	return s.Load(ctx, NewFileTarget(path, time.Now()))
}

// TimestampPlaceholder in a file target path is replaced by the creation
// time of the target.
const TimestampPlaceholder = "{timestamp}"

// TimestampLayout formats TimestampPlaceholder (month, day, year, then time).
const TimestampLayout = "01022006-150405"

// FileTarget saves and loads the document as a JSON file. Writes go to a
// temporary file in the same directory which is then renamed over the
// destination.
type FileTarget struct {
	Path string
}

// NewFileTarget expands TimestampPlaceholder in path using now.
func NewFileTarget(path string, now time.Time) *FileTarget {
	path = strings.ReplaceAll(path, TimestampPlaceholder, now.Format(TimestampLayout))
	return &FileTarget{Path: path}
}

// Name returns the file path.
func (f *FileTarget) Name() string {
	return f.Path
}

// Save writes data atomically, creating parent directories.
func (f *FileTarget) Save(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.Path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Load reads the file.
func (f *FileTarget) Load(_ context.Context) ([]byte, error) {
	return os.ReadFile(f.Path)
}
