package main

import (
	"context"
	"log/slog"

	"warden/internal/adapter/llm"
	"warden/internal/domain"
	"warden/internal/infra/config"
	"warden/internal/infra/logger"
)

// LLMComponents holds all LLM-related components
type LLMComponents struct {
	Registry   *llm.Registry
	DefaultLLM domain.LLMProvider
}

// initLLM initializes LLM providers, registry, circuit breakers and failover.
func initLLM(ctx context.Context, cfg *config.Config, log *slog.Logger) (*LLMComponents, error) {
	llmLog := logger.Component(log, "llm")
	registry, defaultLLM, err := llm.Build(ctx, cfg.LLM, llm.DefaultFactory(createBedrockProvider), llmLog)
	if err != nil {
		return nil, err
	}

	if cfg.LLM.CircuitBreaker.Enabled {
		log.Info("llm circuit breaker enabled",
			"max_failures", cfg.LLM.CircuitBreaker.MaxFailures,
			"timeout", cfg.LLM.CircuitBreaker.Timeout,
			"interval", cfg.LLM.CircuitBreaker.Interval,
		)
	}
	if cfg.LLM.Failover.Enabled {
		log.Info("model failover enabled", "fallbacks", cfg.LLM.Failover.Fallbacks)
	}

	return &LLMComponents{
		Registry:   registry,
		DefaultLLM: defaultLLM,
	}, nil
}
