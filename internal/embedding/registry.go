package embedding

import (
	"errors"
	"fmt"
	"sort"
)

const (
	ProviderOpenAI = "openai"
	ProviderLocal  = "local"
)

// ErrProviderUnavailable is returned when a request names a provider that is
// unknown or not configured on this server.
var ErrProviderUnavailable = errors.New("embeddings provider unavailable")

// Registry resolves provider names to configured embedders.
type Registry struct {
	embedders map[string]Embedder
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{embedders: make(map[string]Embedder)}
}

// Register adds e under provider, replacing any previous entry.
func (r *Registry) Register(provider string, e Embedder) {
	r.embedders[provider] = e
}

// Get returns the embedder for provider.
func (r *Registry) Get(provider string) (Embedder, error) {
	e, ok := r.embedders[provider]
	if !ok || e == nil {
		return nil, fmt.Errorf("%w: %q", ErrProviderUnavailable, provider)
	}
	return e, nil
}

// Providers lists the registered provider names in sorted order.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.embedders))
	for name := range r.embedders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
