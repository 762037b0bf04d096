package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidateDefaultsPass(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Defaults should pass validation: %v", err)
	}
}

func TestValidateAgentMaxIterationsZero(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.MaxIterations = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "agent.max_iterations must be > 0")
}

func TestValidateAgentSystemPromptEmpty(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.SystemPrompt = "   "
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "agent.system_prompt must not be empty")
}

func TestValidateApprovalTTL(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.TTLMinutes = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "approval.ttl_minutes must be > 0")
}

func TestValidateApprovalSameEmoji(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.DenyEmoji = cfg.Approval.ApproveEmoji
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "must differ")
}

func TestValidateApprovalBadSchedule(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.SweepSchedule = "every now and then"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "approval.sweep_schedule")
}

func TestValidateApprovalCronSchedule(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.SweepSchedule = "*/1 * * * *"
	if err := Validate(cfg); err != nil {
		t.Fatalf("standard cron spec should pass: %v", err)
	}
}

func TestValidateApprovalUnknownGroups(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.DefaultGroup = "ghosts"
	cfg.Approval.Groups = map[string][]string{"admins": {"U1"}}
	cfg.Approval.Rules = map[string]ApprovalRuleConfig{
		"jira_delete_issue": {Group: "nobody", Projects: map[string]string{"ALPHA": "phantoms", "BETA": ""}},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	assertContains(t, msg, `approval.default_group "ghosts"`)
	assertContains(t, msg, `approval.rules[jira_delete_issue].group "nobody"`)
	assertContains(t, msg, `projects[ALPHA] group "phantoms"`)
	if strings.Contains(msg, "projects[BETA]") {
		t.Errorf("explicit empty override should not be reported: %s", msg)
	}
}

func TestValidateApprovalEmptyGroupDeclared(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.Groups = map[string][]string{"admins": {}}
	cfg.Approval.Rules = map[string]ApprovalRuleConfig{"jira_delete_issue": {Group: "admins"}}
	if err := Validate(cfg); err != nil {
		t.Fatalf("declared empty group is a runtime concern, got %v", err)
	}
}

func TestValidateApprovalRiskLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.Risk = map[string]string{"jira_get_issue": "minor", "jira_delete_issue": "catastrophic"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `approval.risk[jira_delete_issue] "catastrophic"`)
}

func TestValidateApprovalUngatedRisk(t *testing.T) {
	cfg := Defaults()
	cfg.Approval.Groups = map[string][]string{"admins": {"U1"}}
	cfg.Approval.Rules = map[string]ApprovalRuleConfig{
		"jira_create_issue": {Projects: map[string]string{"BETA": ""}},
	}
	cfg.Approval.Risk = map[string]string{
		"jira_delete_issue": "High",
		"jira_create_issue": "high",
		"jira_search":       "minor",
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "approval.risk[jira_delete_issue] is high but neither")
	if strings.Contains(err.Error(), "approval.risk[jira_create_issue]") {
		t.Errorf("a rule with only an explicit none override still gates the operation: %v", err)
	}
	if strings.Contains(err.Error(), "approval.risk[jira_search]") {
		t.Errorf("minor risk needs no gate: %v", err)
	}

	cfg.Approval.DefaultGroup = "admins"
	if err := Validate(cfg); err != nil {
		t.Errorf("default group gates every unruled operation: %v", err)
	}
}

func TestValidateTeams(t *testing.T) {
	cfg := Defaults()
	cfg.People = map[string]PersonConfig{"alice": {Name: "Alice", Platforms: map[string]string{"slack": "U1"}}}
	cfg.Teams = map[string]TeamConfig{
		"backend": {Groups: map[string][]string{"default": {"alice", "zed"}, "leads": {"alice"}}},
	}
	cfg.Approval.Groups = map[string][]string{
		"admins": {"backend.leads", "backend.default", "U_RAW"},
		"ops":    {"frontend.leads", "backend.owners"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	assertContains(t, msg, `teams[backend].groups[default] member "zed" is not defined in people`)
	assertContains(t, msg, `approval.groups[ops] entry "frontend.leads" names an undefined team`)
	assertContains(t, msg, `approval.groups[ops] entry "backend.owners" names an undefined team group`)
	if strings.Contains(msg, "approval.groups[admins]") {
		t.Errorf("admins entries are all valid: %v", msg)
	}
}

func TestValidatePlatformInvalidType(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.Type = "irc"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `platform.type "irc" is invalid`)
}

func TestValidatePlatformSlackMissingTokens(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.Type = "slack"
	cfg.Platform.Slack = &SlackConfig{}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "platform.slack.bot_token must not be empty")
	assertContains(t, err.Error(), "platform.slack.app_token must not be empty")
}

func TestValidatePlatformSlackMissingSection(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.Type = "slack"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "platform.slack config is required")
}

func TestValidatePlatformDiscordMissingToken(t *testing.T) {
	cfg := Defaults()
	cfg.Platform.Type = "discord"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "platform.discord.token must not be empty")
}

func TestValidateLLMDuplicateProvider(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "a"
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "a", Type: "openai", APIKey: "k", Model: "m"},
		{Name: "a", Type: "openai", APIKey: "k", Model: "m"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `llm.providers[1].name "a" is duplicated`)
}

func TestValidateLLMInvalidType(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "a"
	cfg.LLM.Providers = []ProviderConfig{{Name: "a", Type: "anthropic", APIKey: "k", Model: "m"}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `llm.providers[0].type "anthropic" is invalid`)
}

func TestValidateLLMDefaultNotInProviders(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "missing"
	cfg.LLM.Providers = []ProviderConfig{{Name: "a", Type: "openai", APIKey: "k", Model: "m"}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `llm.default_provider "missing" does not match`)
}

func TestValidateLLMProviderRequirements(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "oa"
	cfg.LLM.Providers = []ProviderConfig{
		{Name: "oa", Type: "openai", Model: "m"},
		{Name: "vx", Type: "vertex", Model: "m"},
		{Name: "br", Type: "bedrock"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	assertContains(t, msg, "llm.providers[0].api_key must not be empty for openai")
	assertContains(t, msg, "llm.providers[1].project is required for vertex")
	assertContains(t, msg, "llm.providers[1].location is required for vertex")
	assertContains(t, msg, "llm.providers[2].region is required for bedrock")
	assertContains(t, msg, "llm.providers[2].model must not be empty")
}

func TestValidateLLMFailoverUnknown(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.DefaultProvider = "a"
	cfg.LLM.Providers = []ProviderConfig{{Name: "a", Type: "openai", APIKey: "k", Model: "m"}}
	cfg.LLM.Failover = FailoverConfig{Enabled: true, Fallbacks: []string{"b"}}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `unknown provider "b"`)
}

func TestValidateLLMCircuitBreaker(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.CircuitBreaker = CircuitBreakerConfig{Enabled: true, MaxFailures: 0, Timeout: 0, Interval: time.Minute}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), "llm.circuit_breaker.max_failures must be > 0")
	assertContains(t, err.Error(), "llm.circuit_breaker.timeout must be > 0")
}

func TestValidateToolsEntries(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Entries = []ToolConfig{
		{Name: "jira", Type: "jira", Enabled: true},
		{Name: "jira", Type: "confluence"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `tools.entries[1].name "jira" is duplicated`)
	assertContains(t, err.Error(), `tools.entries[1].type "confluence" is invalid`)
}

func TestValidateToolsMCPServers(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.MCPServers = []MCPServer{
		{Name: "fs", Transport: "stdio"},
		{Name: "remote", Transport: "http"},
		{Name: "odd", Transport: "carrier-pigeon"},
	}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	assertContains(t, msg, "tools.mcp_servers[0].command is required")
	assertContains(t, msg, "tools.mcp_servers[1].url is required")
	assertContains(t, msg, `tools.mcp_servers[2].transport "carrier-pigeon" is invalid`)
}

func TestValidateLogger(t *testing.T) {
	cfg := Defaults()
	cfg.Logger.Level = "verbose"
	cfg.Logger.Format = "xml"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `logger.level "verbose" is invalid`)
	assertContains(t, err.Error(), `logger.format "xml" is invalid`)
}

func TestValidateTracerExporter(t *testing.T) {
	cfg := Defaults()
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `tracer.exporter "jaeger" is invalid`)
}

func TestValidateMetrics(t *testing.T) {
	cfg := Defaults()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Addr = "nonsense"
	cfg.Metrics.RequestsPerMin = 0
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	assertContains(t, err.Error(), `metrics.addr "nonsense" is invalid`)
	assertContains(t, err.Error(), "metrics.requests_per_min must be > 0")
}

func TestValidationErrorAccumulates(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.MaxIterations = 0
	cfg.Approval.TTLMinutes = 0
	err := Validate(cfg)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("error type = %T, want *ValidationError", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2: %v", len(ve.Errors), ve.Errors)
	}
	if !strings.HasPrefix(ve.Error(), "config validation failed:") {
		t.Errorf("unexpected message: %s", ve.Error())
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
