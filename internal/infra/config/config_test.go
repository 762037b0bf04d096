package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("MaxIterations = %d, want 15", cfg.Agent.MaxIterations)
	}
	if cfg.Approval.TTLMinutes != 30 {
		t.Errorf("TTLMinutes = %d, want 30", cfg.Approval.TTLMinutes)
	}
	if cfg.Approval.TTL() != 30*time.Minute {
		t.Errorf("TTL() = %v, want 30m", cfg.Approval.TTL())
	}
	if cfg.Approval.ApproveEmoji != "white_check_mark" || cfg.Approval.DenyEmoji != "x" {
		t.Errorf("emojis = %q/%q", cfg.Approval.ApproveEmoji, cfg.Approval.DenyEmoji)
	}
	if cfg.LLM.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "openai")
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("expected defaults, got MaxIterations=%d", cfg.Agent.MaxIterations)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
agent:
  max_iterations: 20
  system_prompt: "test bot"
approval:
  ttl_minutes: 10
  default_group: ops
  groups:
    admins: ["U1", "U2"]
    ops: ["U3"]
  rules:
    jira_delete_issue:
      group: admins
      projects:
        ALPHA: ops
        BETA: null
  risk:
    jira_delete_issue: high
platform:
  type: slack
  slack:
    bot_token: xoxb-test
    app_token: xapp-test
llm:
  default_provider: "main"
  providers:
    - name: "main"
      type: "openai"
      base_url: "https://api.example.com/v1"
      api_key: "test-key"
      model: "gpt-4o-mini"
logger:
  level: "debug"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Agent.MaxIterations)
	}
	if cfg.Approval.TTLMinutes != 10 {
		t.Errorf("TTLMinutes = %d, want 10", cfg.Approval.TTLMinutes)
	}
	rule := cfg.Approval.Rules["jira_delete_issue"]
	if rule.Group != "admins" {
		t.Errorf("rule.Group = %q, want admins", rule.Group)
	}
	if g, ok := rule.Projects["BETA"]; !ok || g != "" {
		t.Errorf("BETA override = %q, %v; want explicit empty", g, ok)
	}
	if rule.Projects["ALPHA"] != "ops" {
		t.Errorf("ALPHA override = %q, want ops", rule.Projects["ALPHA"])
	}
	if len(cfg.Approval.Groups["admins"]) != 2 {
		t.Errorf("admins = %v", cfg.Approval.Groups["admins"])
	}
	if cfg.Platform.Slack == nil || cfg.Platform.Slack.AppToken != "xapp-test" {
		t.Errorf("slack config mismatch: %+v", cfg.Platform.Slack)
	}
	if len(cfg.LLM.Providers) != 1 || cfg.LLM.Providers[0].APIKey != "test-key" {
		t.Errorf("Providers mismatch: %+v", cfg.LLM.Providers)
	}
	// Unset fields keep their defaults.
	if cfg.Approval.SweepSchedule != "@every 30s" {
		t.Errorf("SweepSchedule = %q, want default", cfg.Approval.SweepSchedule)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WARDEN_KEY", "from-env")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
llm:
  default_provider: main
  providers:
    - name: main
      type: gemini
      api_key: ${TEST_WARDEN_KEY}
      model: gemini-2.0-flash
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.Providers[0].APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.LLM.Providers[0].APIKey)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error for 0666")
	}
}

func TestLoadValidationFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("error type = %T, want *ValidationError", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WARDEN_LLM_DEFAULT_PROVIDER", "backup")
	t.Setenv("WARDEN_LOGGER_LEVEL", "debug")
	t.Setenv("WARDEN_AGENT_MAX_ITERATIONS", "7")
	t.Setenv("WARDEN_APPROVAL_TTL_MINUTES", "5")
	t.Setenv("WARDEN_SLACK_BOT_TOKEN", "xoxb-env")
	t.Setenv("WARDEN_METRICS_ENABLED", "true")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.LLM.DefaultProvider != "backup" {
		t.Errorf("DefaultProvider = %q, want %q", cfg.LLM.DefaultProvider, "backup")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
	if cfg.Agent.MaxIterations != 7 {
		t.Errorf("MaxIterations = %d, want 7", cfg.Agent.MaxIterations)
	}
	if cfg.Approval.TTLMinutes != 5 {
		t.Errorf("TTLMinutes = %d, want 5", cfg.Approval.TTLMinutes)
	}
	if cfg.Platform.Slack == nil || cfg.Platform.Slack.BotToken != "xoxb-env" {
		t.Errorf("Slack = %+v", cfg.Platform.Slack)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled should be true")
	}
}

func TestEnvOverridesInvalidNumberIgnored(t *testing.T) {
	t.Setenv("WARDEN_AGENT_MAX_ITERATIONS", "lots")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("MaxIterations = %d, want 15", cfg.Agent.MaxIterations)
	}
}

func TestEnvOverridesProviderAPIKey(t *testing.T) {
	t.Setenv("WARDEN_LLM_PROVIDER_MY_OPENAI_API_KEY", "sk-env")
	cfg := Defaults()
	cfg.LLM.Providers = []ProviderConfig{{Name: "my-openai", Type: "openai"}}
	ApplyEnvOverrides(cfg)
	if cfg.LLM.Providers[0].APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want sk-env", cfg.LLM.Providers[0].APIKey)
	}
}

func TestEnvName(t *testing.T) {
	tests := map[string]string{
		"openai":     "OPENAI",
		"my-openai":  "MY_OPENAI",
		"vertex.eu1": "VERTEX_EU1",
	}
	for in, want := range tests {
		if got := envName(in); got != want {
			t.Errorf("envName(%q) = %q, want %q", in, got, want)
		}
	}
}
