//go:build discord

package main

import (
	"fmt"
	"log/slog"

	"warden/internal/adapter/channel"
	"warden/internal/domain"
	"warden/internal/infra/config"
)

func buildDiscordPlatform(pc config.PlatformConfig, log *slog.Logger) (domain.Platform, error) {
	if pc.Discord == nil || pc.Discord.Token == "" {
		return nil, fmt.Errorf("discord.token is required")
	}
	var opts []channel.DiscordOption
	if pc.Discord.GuildID != "" {
		opts = append(opts, channel.WithDiscordGuild(pc.Discord.GuildID))
	}
	if len(pc.ChannelIDs) > 0 {
		opts = append(opts, channel.WithDiscordChannels(pc.ChannelIDs))
	}
	return channel.NewDiscordPlatform(pc.Discord.Token, log, opts...), nil
}
