package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"warden/internal/domain"
	"warden/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicate, fmt.Sprintf("provider %q", name))
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Factory constructs the provider for one config entry.
type Factory func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error)

// DefaultFactory builds the providers compiled into every binary. Bedrock
// needs a build tag, so the caller passes it in.
func DefaultFactory(bedrock Factory) Factory {
	return func(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (domain.LLMProvider, error) {
		switch pc.Type {
		case "openai":
			return NewOpenAIProvider(pc, logger), nil
		case "gemini", "vertex":
			p, err := NewGeminiProvider(ctx, pc, logger)
			if err != nil {
				return nil, err
			}
			return p, nil
		case "bedrock":
			if bedrock == nil {
				return nil, fmt.Errorf("bedrock provider not available in this build")
			}
			return bedrock(ctx, pc, logger)
		default:
			return nil, fmt.Errorf("unknown provider type %q", pc.Type)
		}
	}
}

// Build registers every configured provider, wrapped in a circuit breaker
// when enabled, and returns the provider the agent should use: the default
// one, behind failover when fallbacks are configured.
func Build(ctx context.Context, cfg config.LLMConfig, factory Factory, logger *slog.Logger) (*Registry, domain.LLMProvider, error) {
	reg := NewRegistry()
	for _, pc := range cfg.Providers {
		p, err := factory(ctx, pc, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		if cfg.CircuitBreaker.Enabled {
			p = NewCircuitBreakerProvider(p, cfg.CircuitBreaker, logger)
		}
		if err := reg.Register(p); err != nil {
			return nil, nil, err
		}
		logger.Info("llm provider registered", "name", pc.Name, "type", pc.Type, "model", pc.Model)
	}

	primary, err := reg.Get(cfg.DefaultProvider)
	if err != nil {
		return nil, nil, err
	}
	if !cfg.Failover.Enabled || len(cfg.Failover.Fallbacks) == 0 {
		return reg, primary, nil
	}

	fallbacks := make([]domain.LLMProvider, 0, len(cfg.Failover.Fallbacks))
	for _, name := range cfg.Failover.Fallbacks {
		fb, err := reg.Get(name)
		if err != nil {
			return nil, nil, fmt.Errorf("failover: %w", err)
		}
		fallbacks = append(fallbacks, fb)
	}
	return reg, NewFailoverProvider(primary, fallbacks, logger), nil
}
