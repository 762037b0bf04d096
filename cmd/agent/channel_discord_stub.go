//go:build !discord

package main

import (
	"fmt"
	"log/slog"

	"warden/internal/domain"
	"warden/internal/infra/config"
)

func buildDiscordPlatform(_ config.PlatformConfig, _ *slog.Logger) (domain.Platform, error) {
	return nil, fmt.Errorf("discord platform requires build with -tags discord")
}
