package tokens

import (
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Registry answers token questions per model. It keeps one Estimator per
// encoding family; concurrent first lookups of a family share a single
// initialization.
type Registry struct {
	catalog *Catalog
	factory Factory
	logger  *slog.Logger

	mu         sync.RWMutex
	estimators map[string]Estimator
	group      singleflight.Group
}

// NewRegistry creates a registry. A nil catalog uses the defaults and a nil
// factory uses tiktoken with a character-estimate fallback.
func NewRegistry(catalog *Catalog, factory Factory, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if catalog == nil {
		catalog = NewCatalog()
	}
	if factory == nil {
		factory = FallbackFactory(TiktokenFactory, logger)
	}
	return &Registry{
		catalog:    catalog,
		factory:    factory,
		logger:     logger.With("component", "tokens"),
		estimators: make(map[string]Estimator),
	}
}

// Catalog returns the model table backing the registry.
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// EstimateTokens returns the token count of text under the model's encoding.
func (r *Registry) EstimateTokens(modelID, text string) int {
	return r.estimator(r.encodingFor(modelID)).Count(text)
}

// ContextWindow returns the model's context-window size. Unknown models get
// DefaultWindow.
func (r *Registry) ContextWindow(modelID string) int {
	if m, ok := r.catalog.Lookup(modelID); ok && m.Window > 0 {
		return m.Window
	}
	return DefaultWindow
}

// Kind returns whether the model uses the chat or completion API.
// Unknown models are treated as chat models unless their name says otherwise.
func (r *Registry) Kind(modelID string) Kind {
	if m, ok := r.catalog.Lookup(modelID); ok {
		return m.Kind
	}
	if strings.Contains(modelID, "instruct") || strings.HasPrefix(modelID, "text-") {
		return KindCompletion
	}
	return KindChat
}

func (r *Registry) encodingFor(modelID string) string {
	if m, ok := r.catalog.Lookup(modelID); ok && m.Encoding != "" {
		return m.Encoding
	}
	return familyFor(modelID)
}

// estimator returns the cached estimator of a family, creating it once.
func (r *Registry) estimator(encoding string) Estimator {
	r.mu.RLock()
	est, ok := r.estimators[encoding]
	r.mu.RUnlock()
	if ok {
		return est
	}

	v, _, _ := r.group.Do(encoding, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.estimators[encoding]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}

		created, err := r.factory(encoding)
		if err != nil || created == nil {
			r.logger.Warn("estimator factory failed", "encoding", encoding, "error", err)
			created = CharEstimator{}
		}

		r.mu.Lock()
		r.estimators[encoding] = created
		r.mu.Unlock()

		r.logger.Debug("estimator ready", "encoding", encoding)
		return created, nil
	})
	return v.(Estimator)
}
