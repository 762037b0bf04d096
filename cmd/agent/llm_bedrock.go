//go:build bedrock

package main

import (
	"context"
	"log/slog"

	"warden/internal/adapter/llm"
	"warden/internal/domain"
	"warden/internal/infra/config"
)

func createBedrockProvider(ctx context.Context, pc config.ProviderConfig, log *slog.Logger) (domain.LLMProvider, error) {
	p, err := llm.NewBedrockProvider(ctx, pc, log)
	if err != nil {
		return nil, err
	}
	return p, nil
}
