//go:build !slack

package main

import (
	"fmt"
	"log/slog"

	"warden/internal/domain"
	"warden/internal/infra/config"
)

func buildSlackPlatform(_ config.PlatformConfig, _ *slog.Logger) (domain.Platform, error) {
	return nil, fmt.Errorf("slack platform requires build with -tags slack")
}
