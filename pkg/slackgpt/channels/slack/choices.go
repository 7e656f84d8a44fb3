package slack

import (
	"sync"

	"github.com/google/uuid"
)

// choiceStore keeps button payloads server-side. Slack limits a button value
// to 2000 characters, which a model answer can exceed, so buttons carry a
// random reference instead. The oldest entries are evicted past max.
type choiceStore struct {
	mu      sync.Mutex
	max     int
	entries map[string]string
	order   []string
}

func newChoiceStore(limit int) *choiceStore {
	return &choiceStore{max: limit, entries: make(map[string]string)}
}

func (c *choiceStore) put(value string) string {
	ref := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[ref] = value
	c.order = append(c.order, ref)
	for len(c.order) > c.max {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	return ref
}

func (c *choiceStore) get(ref string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[ref]
	return v, ok
}
