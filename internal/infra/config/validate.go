package config

import (
	"fmt"
	"net"
	"strings"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateApproval(cfg, ve)
	validatePlatform(cfg, ve)
	validateLLM(cfg, ve)
	validateTools(cfg, ve)
	validateTeams(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	if cfg.Agent.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if cfg.Agent.MaxTokens < 0 {
		ve.Add("agent.max_tokens must be >= 0")
	}
	if strings.TrimSpace(cfg.Agent.SystemPrompt) == "" {
		ve.Add("agent.system_prompt must not be empty")
	}
}

var validRiskLevels = map[string]bool{
	"":         true,
	"minor":    true,
	"moderate": true,
	"high":     true,
}

func validateApproval(cfg *Config, ve *ValidationError) {
	a := cfg.Approval
	if a.TTLMinutes <= 0 {
		ve.Add("approval.ttl_minutes must be > 0")
	}
	if a.ApproveEmoji == "" {
		ve.Add("approval.approve_emoji must not be empty")
	}
	if a.DenyEmoji == "" {
		ve.Add("approval.deny_emoji must not be empty")
	}
	if a.ApproveEmoji != "" && a.ApproveEmoji == a.DenyEmoji {
		ve.Add("approval.approve_emoji and approval.deny_emoji must differ")
	}
	if a.SweepSchedule == "" {
		ve.Add("approval.sweep_schedule must not be empty")
	} else if _, err := cron.ParseStandard(a.SweepSchedule); err != nil {
		ve.Add("approval.sweep_schedule %q is invalid: %v", a.SweepSchedule, err)
	}

	if a.DefaultGroup != "" {
		if _, ok := a.Groups[a.DefaultGroup]; !ok {
			ve.Add("approval.default_group %q is not defined in approval.groups", a.DefaultGroup)
		}
	}
	for op, rule := range a.Rules {
		if rule.Group != "" {
			if _, ok := a.Groups[rule.Group]; !ok {
				ve.Add("approval.rules[%s].group %q is not defined in approval.groups", op, rule.Group)
			}
		}
		for project, group := range rule.Projects {
			if group == "" {
				continue
			}
			if _, ok := a.Groups[group]; !ok {
				ve.Add("approval.rules[%s].projects[%s] group %q is not defined in approval.groups", op, project, group)
			}
		}
	}
	for op, level := range a.Risk {
		lvl := strings.ToLower(strings.TrimSpace(level))
		if !validRiskLevels[lvl] {
			ve.Add("approval.risk[%s] %q is invalid (want minor, moderate or high)", op, level)
			continue
		}
		if lvl != "moderate" && lvl != "high" {
			continue
		}
		if _, ruled := a.Rules[op]; !ruled && a.DefaultGroup == "" {
			ve.Add("approval.risk[%s] is %s but neither approval.rules nor approval.default_group gates it", op, lvl)
		}
	}
}

func validateTeams(cfg *Config, ve *ValidationError) {
	for id, team := range cfg.Teams {
		for group, members := range team.Groups {
			for _, m := range members {
				if _, ok := cfg.People[m]; !ok {
					ve.Add("teams[%s].groups[%s] member %q is not defined in people", id, group, m)
				}
			}
		}
	}
	if len(cfg.Teams) == 0 {
		return
	}
	for name, entries := range cfg.Approval.Groups {
		for _, e := range entries {
			i := strings.LastIndex(e, ".")
			if i < 0 {
				continue
			}
			team, ok := cfg.Teams[e[:i]]
			if !ok {
				ve.Add("approval.groups[%s] entry %q names an undefined team", name, e)
				continue
			}
			if _, ok := team.Groups[e[i+1:]]; !ok && e[i+1:] != "default" {
				ve.Add("approval.groups[%s] entry %q names an undefined team group", name, e)
			}
		}
	}
}

func validatePlatform(cfg *Config, ve *ValidationError) {
	p := cfg.Platform
	switch p.Type {
	case "":
		// No platform configured; cmd/agent refuses to start, tests do not care.
	case "slack":
		if p.Slack == nil {
			ve.Add("platform.slack config is required when platform.type is slack")
			return
		}
		if p.Slack.BotToken == "" {
			ve.Add("platform.slack.bot_token must not be empty")
		}
		if p.Slack.AppToken == "" {
			ve.Add("platform.slack.app_token must not be empty (socket mode)")
		}
	case "discord":
		if p.Discord == nil || p.Discord.Token == "" {
			ve.Add("platform.discord.token must not be empty when platform.type is discord")
		}
	default:
		ve.Add("platform.type %q is invalid (want slack or discord)", p.Type)
	}
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"gemini":  true,
	"vertex":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	names := make(map[string]bool, len(cfg.LLM.Providers))
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
		} else if names[p.Name] {
			ve.Add("llm.providers[%d].name %q is duplicated", i, p.Name)
		}
		names[p.Name] = true

		if !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid", i, p.Type)
		}
		switch p.Type {
		case "openai", "gemini":
			if p.APIKey == "" {
				ve.Add("llm.providers[%d].api_key must not be empty for %s", i, p.Type)
			}
		case "vertex":
			if p.Project == "" {
				ve.Add("llm.providers[%d].project is required for vertex", i)
			}
			if p.Location == "" {
				ve.Add("llm.providers[%d].location is required for vertex", i)
			}
		case "bedrock":
			if p.Region == "" {
				ve.Add("llm.providers[%d].region is required for bedrock", i)
			}
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d].model must not be empty", i)
		}
		if p.ConnTimeout < 0 || p.RespTimeout < 0 {
			ve.Add("llm.providers[%d] timeouts must be >= 0", i)
		}
	}

	if len(cfg.LLM.Providers) > 0 && !names[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !names[fb] {
				ve.Add("llm.failover.fallbacks references unknown provider %q", fb)
			}
		}
	}
	if cb := cfg.LLM.CircuitBreaker; cb.Enabled {
		if cb.MaxFailures == 0 {
			ve.Add("llm.circuit_breaker.max_failures must be > 0")
		}
		if cb.Timeout <= 0 {
			ve.Add("llm.circuit_breaker.timeout must be > 0")
		}
	}
}

var validToolTypes = map[string]bool{
	"jira":       true,
	"confluence": true,
	"github":     true,
	"web_search": true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	names := make(map[string]bool)
	for i, t := range cfg.Tools.Entries {
		if t.Name == "" {
			ve.Add("tools.entries[%d].name must not be empty", i)
		} else if names[t.Name] {
			ve.Add("tools.entries[%d].name %q is duplicated", i, t.Name)
		}
		names[t.Name] = true
		if !validToolTypes[t.Type] {
			ve.Add("tools.entries[%d].type %q is invalid", i, t.Type)
		}
	}
	for i, s := range cfg.Tools.MCPServers {
		if s.Name == "" {
			ve.Add("tools.mcp_servers[%d].name must not be empty", i)
		} else if names[s.Name] {
			ve.Add("tools.mcp_servers[%d].name %q collides with another tool", i, s.Name)
		}
		names[s.Name] = true
		switch s.Transport {
		case "stdio":
			if s.Command == "" {
				ve.Add("tools.mcp_servers[%d].command is required for stdio transport", i)
			}
		case "http":
			if s.URL == "" {
				ve.Add("tools.mcp_servers[%d].url is required for http transport", i)
			}
		default:
			ve.Add("tools.mcp_servers[%d].transport %q is invalid (want stdio or http)", i, s.Transport)
		}
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		ve.Add("logger.level %q is invalid", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json":
	default:
		ve.Add("logger.format %q is invalid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q is invalid (want noop or stdout)", cfg.Tracer.Exporter)
	}
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be between 0 and 1")
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled {
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is invalid: %v", cfg.Metrics.Addr, err)
	}
	if cfg.Metrics.RequestsPerMin <= 0 {
		ve.Add("metrics.requests_per_min must be > 0")
	}
	if cfg.Metrics.Burst <= 0 {
		ve.Add("metrics.burst must be > 0")
	}
}
