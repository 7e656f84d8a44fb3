// Package tokens estimates token usage and context-window sizes for the
// models the bot can talk to. Estimation is delegated to one Estimator per
// encoding family, created lazily and cached by the Registry.
package tokens

import (
	"sort"
	"strings"
)

// Kind tells whether a model takes raw text or role-tagged chat messages.
type Kind string

const (
	KindChat       Kind = "chat"
	KindCompletion Kind = "completion"
)

// Encoding family names understood by the default estimator factory.
const (
	EncodingCL100K = "cl100k_base"
	EncodingP50K   = "p50k_base"
	EncodingR50K   = "r50k_base"
)

// DefaultWindow is used for models missing from the catalog.
const DefaultWindow = 4096

// ModelInfo describes one model of the catalog.
type ModelInfo struct {
	// ID is the provider model identifier (e.g. "gpt-4").
	ID string `yaml:"id"`

	// Kind selects the chat or completion endpoint.
	Kind Kind `yaml:"kind"`

	// Window is the context-window size in tokens.
	Window int `yaml:"window"`

	// Encoding is the tokenizer family used to count tokens.
	Encoding string `yaml:"encoding"`
}

// DefaultCatalog lists the models supported out of the box.
func DefaultCatalog() []ModelInfo {
	return []ModelInfo{
		{ID: "gpt-4", Kind: KindChat, Window: 8192, Encoding: EncodingCL100K},
		{ID: "gpt-4-0314", Kind: KindChat, Window: 8192, Encoding: EncodingCL100K},
		{ID: "gpt-4-0613", Kind: KindChat, Window: 8192, Encoding: EncodingCL100K},
		{ID: "gpt-4-32k", Kind: KindChat, Window: 32768, Encoding: EncodingCL100K},
		{ID: "gpt-4-32k-0314", Kind: KindChat, Window: 32768, Encoding: EncodingCL100K},
		{ID: "gpt-4-32k-0613", Kind: KindChat, Window: 32768, Encoding: EncodingCL100K},
		{ID: "gpt-4-1106-preview", Kind: KindChat, Window: 128000, Encoding: EncodingCL100K},
		{ID: "gpt-4-vision-preview", Kind: KindChat, Window: 128000, Encoding: EncodingCL100K},
		{ID: "gpt-3.5-turbo", Kind: KindChat, Window: 4096, Encoding: EncodingCL100K},
		{ID: "gpt-3.5-turbo-0301", Kind: KindChat, Window: 4096, Encoding: EncodingCL100K},
		{ID: "gpt-3.5-turbo-0613", Kind: KindChat, Window: 4096, Encoding: EncodingCL100K},
		{ID: "gpt-3.5-turbo-1106", Kind: KindChat, Window: 16385, Encoding: EncodingCL100K},
		{ID: "gpt-3.5-turbo-16k", Kind: KindChat, Window: 16384, Encoding: EncodingCL100K},
		{ID: "gpt-3.5-turbo-instruct", Kind: KindCompletion, Window: 4096, Encoding: EncodingCL100K},
		{ID: "text-davinci-003", Kind: KindCompletion, Window: 4097, Encoding: EncodingP50K},
		{ID: "text-davinci-002", Kind: KindCompletion, Window: 4097, Encoding: EncodingP50K},
		{ID: "code-davinci-002", Kind: KindCompletion, Window: 8001, Encoding: EncodingP50K},
		{ID: "text-curie-001", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
		{ID: "text-babbage-001", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
		{ID: "text-ada-001", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
		{ID: "davinci", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
		{ID: "curie", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
		{ID: "babbage", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
		{ID: "ada", Kind: KindCompletion, Window: 2049, Encoding: EncodingR50K},
	}
}

// Catalog is a lookup table of models keyed by ID.
type Catalog struct {
	models map[string]ModelInfo
}

// NewCatalog builds a catalog from the defaults overlaid with extra entries.
// Extra entries with an ID already present replace the default; zero fields
// are filled from the default entry when one exists.
func NewCatalog(extra ...ModelInfo) *Catalog {
	c := &Catalog{models: make(map[string]ModelInfo)}
	for _, m := range DefaultCatalog() {
		c.models[m.ID] = m
	}
	for _, m := range extra {
		if m.ID == "" {
			continue
		}
		base, ok := c.models[m.ID]
		if ok {
			if m.Kind == "" {
				m.Kind = base.Kind
			}
			if m.Window == 0 {
				m.Window = base.Window
			}
			if m.Encoding == "" {
				m.Encoding = base.Encoding
			}
		}
		if m.Kind == "" {
			m.Kind = KindChat
		}
		if m.Window == 0 {
			m.Window = DefaultWindow
		}
		if m.Encoding == "" {
			m.Encoding = familyFor(m.ID)
		}
		c.models[m.ID] = m
	}
	return c
}

// Lookup returns the catalog entry for a model.
func (c *Catalog) Lookup(modelID string) (ModelInfo, bool) {
	m, ok := c.models[modelID]
	return m, ok
}

// IDs returns the sorted model identifiers.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.models))
	for id := range c.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Has reports whether the model is known.
func (c *Catalog) Has(modelID string) bool {
	_, ok := c.models[modelID]
	return ok
}

// familyFor guesses the encoding of an unknown model from its name.
func familyFor(modelID string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.HasPrefix(id, "gpt-"), strings.HasPrefix(id, "text-embedding"):
		return EncodingCL100K
	case strings.HasPrefix(id, "text-davinci"), strings.HasPrefix(id, "code-"):
		return EncodingP50K
	default:
		return EncodingR50K
	}
}
