package main

import (
	"context"
	"fmt"
	"log/slog"

	"warden/internal/adapter/tool"
	"warden/internal/domain"
	"warden/internal/infra/config"
	"warden/internal/infra/logger"
	"warden/internal/usecase"
)

// AgentComponents holds the orchestrator and its collaborators.
type AgentComponents struct {
	Agent     *usecase.Agent
	Approvals *usecase.ApprovalManager
	Tools     *tool.Registry
}

// initPlatform builds the chat platform selected by platform.type.
func initPlatform(pc config.PlatformConfig, log *slog.Logger) (domain.Platform, error) {
	platLog := logger.Component(log, "platform")
	switch pc.Type {
	case "slack":
		return buildSlackPlatform(pc, platLog)
	case "discord":
		return buildDiscordPlatform(pc, platLog)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrPlatformNotFound, pc.Type)
	}
}

// initAgent builds the tool registry, approval manager and orchestrator.
func initAgent(
	ctx context.Context,
	cfg *config.Config,
	llmProvider domain.LLMProvider,
	platform domain.Platform,
	bus domain.EventBus,
	log *slog.Logger,
) (*AgentComponents, func(), error) {
	dir := directoryFromConfig(cfg)
	registry, cleanup, err := initTools(ctx, cfg, dir, log)
	if err != nil {
		return nil, nil, err
	}

	messages := messagesFromConfig(cfg.Agent.Messages)

	approvals := usecase.NewApprovalManager(usecase.ApprovalConfig{
		TTL:           cfg.Approval.TTL(),
		ApproveEmoji:  cfg.Approval.ApproveEmoji,
		DenyEmoji:     cfg.Approval.DenyEmoji,
		SweepSchedule: cfg.Approval.SweepSchedule,
		Groups:        approvalGroups(cfg, dir),
		Messages:      messages,
	}, usecase.ApprovalDeps{
		Platform: platform,
		Tools:    registry,
		Bus:      bus,
		Logger:   logger.Component(log, "approval"),
	})

	agentLog := logger.Component(log, "agent")
	agent := usecase.NewAgent(usecase.AgentDeps{
		LLM:           llmProvider,
		Tools:         registry,
		Platform:      platform,
		Approvals:     approvals,
		Conversation:  usecase.NewConversationBuilder(platform, cfg.Agent.SystemPrompt, agentLog).WithDirectory(dir),
		Locker:        usecase.NewThreadLocker(),
		Bus:           bus,
		Logger:        agentLog,
		MaxTokens:     cfg.Agent.MaxTokens,
		MaxIterations: cfg.Agent.MaxIterations,
		Messages:      messages,
		HandlingEmoji: cfg.Platform.HandlingEmoji,
		ErrorEmoji:    cfg.Platform.ErrorEmoji,
	})

	return &AgentComponents{
		Agent:     agent,
		Approvals: approvals,
		Tools:     registry,
	}, cleanup, nil
}

// initTools registers every configured tool and applies the approval policy.
// A non-empty directory adds the teams lookup tool.
func initTools(ctx context.Context, cfg *config.Config, dir *domain.Directory, log *slog.Logger) (*tool.Registry, func(), error) {
	toolLog := logger.Component(log, "tools")
	registry := tool.NewRegistry(toolLog)

	tools, cleanup, err := tool.BuildTools(ctx, cfg.Tools, toolLog)
	if err != nil {
		return nil, nil, err
	}
	if !dir.Empty() {
		tools = append(tools, tool.NewTeamsTool(dir, toolLog))
	}
	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	rules := make(map[string]domain.ApprovalRule, len(cfg.Approval.Rules))
	for op, r := range cfg.Approval.Rules {
		rules[op] = domain.ApprovalRule{Group: r.Group, Projects: r.Projects}
	}
	if err := registry.SetApprovalRules(rules, cfg.Approval.DefaultGroup); err != nil {
		cleanup()
		return nil, nil, err
	}

	levels := make(map[string]domain.RiskLevel, len(cfg.Approval.Risk))
	for op, s := range cfg.Approval.Risk {
		level, err := domain.ParseRiskLevel(s)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("approval.risk.%s: %w", op, err)
		}
		levels[op] = level
	}
	if err := registry.SetRiskLevels(levels); err != nil {
		cleanup()
		return nil, nil, err
	}
	registry.Freeze()

	if unknown := registry.Unknown(); len(unknown) > 0 {
		toolLog.Warn("approval config names unregistered operations", "operations", unknown)
	}
	toolLog.Info("tools registered", "tools", len(tools), "operations", len(registry.Operations()))
	return registry, cleanup, nil
}

// directoryFromConfig builds the people and teams directory. It returns nil
// when neither section is configured.
func directoryFromConfig(cfg *config.Config) *domain.Directory {
	if len(cfg.People) == 0 && len(cfg.Teams) == 0 {
		return nil
	}
	people := make(map[string]domain.Person, len(cfg.People))
	for id, p := range cfg.People {
		people[id] = domain.Person{Name: p.Name, Platforms: p.Platforms, Tools: p.Tools}
	}
	teams := make(map[string]domain.Team, len(cfg.Teams))
	for id, t := range cfg.Teams {
		teams[id] = domain.Team{Name: t.Name, Aliases: t.Aliases, Groups: t.Groups}
	}
	return domain.NewDirectory(people, teams)
}

// approvalGroups expands team references and person IDs in approval.groups
// into user IDs on the configured platform.
func approvalGroups(cfg *config.Config, dir *domain.Directory) map[string][]string {
	groups := make(map[string][]string, len(cfg.Approval.Groups))
	for name, entries := range cfg.Approval.Groups {
		groups[name] = dir.ResolveMembers(cfg.Platform.Type, entries)
	}
	return groups
}

func messagesFromConfig(m config.MessagesConfig) usecase.Messages {
	return usecase.Messages{
		PendingApproval:    m.PendingApproval,
		AwaitingApproval:   m.AwaitingApproval,
		IterationLimit:     m.IterationLimit,
		Error:              m.Error,
		EmptyResponse:      m.EmptyResponse,
		ApprovalRequest:    m.ApprovalRequest,
		ApprovalGranted:    m.ApprovalGranted,
		ApprovalDenied:     m.ApprovalDenied,
		ApprovalExpired:    m.ApprovalExpired,
		ApprovalGroupEmpty: m.ApprovalGroupEmpty,
	}
}
