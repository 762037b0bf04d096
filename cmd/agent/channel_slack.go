//go:build slack

package main

import (
	"fmt"
	"log/slog"

	"warden/internal/adapter/channel"
	"warden/internal/domain"
	"warden/internal/infra/config"
)

func buildSlackPlatform(pc config.PlatformConfig, log *slog.Logger) (domain.Platform, error) {
	if pc.Slack == nil || pc.Slack.BotToken == "" || pc.Slack.AppToken == "" {
		return nil, fmt.Errorf("slack.bot_token and slack.app_token are required")
	}
	var opts []channel.SlackOption
	if len(pc.ChannelIDs) > 0 {
		opts = append(opts, channel.WithSlackChannels(pc.ChannelIDs))
	}
	return channel.NewSlackPlatform(pc.Slack.BotToken, pc.Slack.AppToken, log, opts...), nil
}
