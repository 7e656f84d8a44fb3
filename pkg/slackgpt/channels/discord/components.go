package discord

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
)

// customIDPrefix marks buttons created for a ChoiceSet.
const customIDPrefix = "choice:"

// DefaultComponentTTL bounds how long a choice button stays clickable.
const DefaultComponentTTL = 24 * time.Hour

// registeredChoice is the server-side payload of one button. Discord caps a
// custom_id at 100 characters, so the button carries only a random ID.
type registeredChoice struct {
	Kind         string
	Value        string
	RegisteredAt time.Time
}

// ComponentRegistry stores choice payloads by custom_id and drops them after
// their TTL.
type ComponentRegistry struct {
	mu         sync.RWMutex
	components map[string]*registeredChoice
	ttl        time.Duration
	now        func() time.Time
	logger     *slog.Logger
	stopCh     chan struct{}
	stopOnce   sync.Once
}

// NewComponentRegistry creates a registry and starts background TTL cleanup.
func NewComponentRegistry(ttl time.Duration, logger *slog.Logger) *ComponentRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultComponentTTL
	}
	r := &ComponentRegistry{
		components: make(map[string]*registeredChoice),
		ttl:        ttl,
		now:        time.Now,
		logger:     logger.With("component", "discord_components"),
		stopCh:     make(chan struct{}),
	}
	go r.cleanupLoop()
	return r
}

// Register stores a choice and returns the custom_id to put on its button.
func (r *ComponentRegistry) Register(kind, value string) string {
	id := customIDPrefix + uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.components[id] = &registeredChoice{Kind: kind, Value: value, RegisteredAt: r.now()}
	return id
}

// Get retrieves the choice if it exists and is not expired.
func (r *ComponentRegistry) Get(customID string) (kind, value string, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, found := r.components[customID]
	if !found || r.now().Sub(reg.RegisteredAt) > r.ttl {
		return "", "", false
	}
	return reg.Kind, reg.Value, true
}

// Len reports the number of registered choices, expired ones included.
func (r *ComponentRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

func (r *ComponentRegistry) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.cleanupExpired()
		}
	}
}

func (r *ComponentRegistry) cleanupExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var expired int
	for id, reg := range r.components {
		if now.Sub(reg.RegisteredAt) > r.ttl {
			delete(r.components, id)
			expired++
		}
	}
	if expired > 0 {
		r.logger.Debug("discord: cleaned up expired components", "count", expired)
	}
}

// Stop halts the cleanup loop.
func (r *ComponentRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// buildButtonRows lays out one button per option, five per row as Discord
// requires.
func buildButtonRows(ids, labels []string) []discordgo.MessageComponent {
	var rows []discordgo.MessageComponent
	var row []discordgo.MessageComponent
	for i, id := range ids {
		row = append(row, discordgo.Button{
			CustomID: id,
			Label:    truncate(labels[i], 80),
			Style:    discordgo.PrimaryButton,
		})
		if len(row) == 5 {
			rows = append(rows, discordgo.ActionsRow{Components: row})
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, discordgo.ActionsRow{Components: row})
	}
	return rows
}

func isChoiceID(customID string) bool {
	return strings.HasPrefix(customID, customIDPrefix)
}
