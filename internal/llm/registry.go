package llm

import (
	"fmt"
	"slices"
	"sync"

	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/config"
	"github.com/prjuan627-wq/bot-masitaprex-wa.me/internal/logging"
)

// ProviderError is returned when a provider answers with an error status.
type ProviderError struct {
	Provider string
	Message  string
	Code     int // HTTP status code (401, 429, 500, etc.)
}

func (e *ProviderError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("%s: %d %s", e.Provider, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Registry manages provider clients and resolves model references to them.
type Registry struct {
	mu       sync.RWMutex
	clients  map[string]Client // provider name → client
	aliases  map[string]string // model alias → provider name
	fallback string            // default provider name
	log      *logging.Logger
}

// NewRegistry creates an empty provider registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		clients: make(map[string]Client),
		aliases: make(map[string]string),
		log:     log.Sub("llm.registry"),
	}
}

// Register adds a client under the given provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias maps a model name to a provider, e.g. Alias("gpt-4o-mini", "openai").
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[model] = provider
}

// SetFallback sets the provider Resolve uses when nothing else matches.
func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// Get returns the client registered under exactly this provider name.
func (r *Registry) Get(name string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	return c, ok
}

// Resolve returns the Client for the given model reference.
// Resolution order: exact provider name → alias → fallback.
func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.clients[model]; ok {
		return c, nil
	}
	if provider, ok := r.aliases[model]; ok {
		if c, ok := r.clients[provider]; ok {
			return c, nil
		}
	}
	if r.fallback != "" {
		if c, ok := r.clients[r.fallback]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns the sorted registered provider names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for n := range r.clients {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// NewRegistryFromConfig registers every provider that has an API key. The
// vision backend, when available, becomes the fallback.
func NewRegistryFromConfig(cfg config.InferenceConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)

	if p := cfg.Gemini; p.APIKey != "" {
		reg.Register("gemini", NewGeminiAPIClient(p.APIKey, p.Model, p.BaseURL))
		reg.Alias(p.Model, "gemini")
	}
	if p := cfg.OpenAI; p.APIKey != "" {
		reg.Register("openai", NewOpenAIAPIClient(p.APIKey, p.Model, p.BaseURL, p.Temperature))
		reg.Alias(p.Model, "openai")
	}
	if p := cfg.Cohere; p.APIKey != "" {
		reg.Register("cohere", NewCohereAPIClient(p.APIKey, p.Model, p.BaseURL))
		reg.Alias(p.Model, "cohere")
	}

	if _, ok := reg.Get(cfg.VisionBackend); ok {
		reg.SetFallback(cfg.VisionBackend)
	}
	if len(reg.List()) == 0 {
		reg.log.Warn().Msg("no inference provider configured, AI fallback will escalate")
	}
	return reg
}
