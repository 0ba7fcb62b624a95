package agent

import (
	"strings"
	"sync"

	"github.com/conversia-ai/conversia/ai/core/llm"
)

// Registry resolves which provider endpoint serves a given model name.
// Providers register once at startup; lookups are prefix-based so tenants
// can name any model their configured providers expose.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]llm.Provider
	defaultName string
}

// NewRegistry creates a registry whose unmatched models fall through to the
// named default provider.
func NewRegistry(defaultName string) *Registry {
	return &Registry{
		providers:   map[string]llm.Provider{},
		defaultName: defaultName,
	}
}

// Register adds one provider endpoint, keyed by Provider.Name().
func (r *Registry) Register(p llm.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Model-name prefixes that pin a model to a specific provider.
var modelProviderPrefixes = []struct {
	prefix   string
	provider string
}{
	{"deepseek", "deepseek"},
	{"llama", "groq"},
	{"mixtral", "groq"},
	{"gpt-", "openai"},
	{"o3", "openai"},
	{"o4", "openai"},
}

// For returns the provider serving the model, or nil when neither the
// prefix match nor the default is registered.
func (r *Registry) For(model string) llm.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lower := strings.ToLower(model)
	for _, m := range modelProviderPrefixes {
		if strings.HasPrefix(lower, m.prefix) {
			if p, ok := r.providers[m.provider]; ok {
				return p
			}
		}
	}
	return r.providers[r.defaultName]
}

// Providers returns all registered providers, for startup warmup.
func (r *Registry) Providers() []llm.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.Provider, 0, len(r.providers))
	for _, p := range r.providers {
		out = append(out, p)
	}
	return out
}
