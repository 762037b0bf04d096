package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	Approval ApprovalConfig `yaml:"approval"`
	Platform PlatformConfig `yaml:"platform"`
	LLM      LLMConfig      `yaml:"llm"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// People and Teams map humans across platforms and tools. Approval
	// group entries may name a person, a team or "<team>.<group>".
	People map[string]PersonConfig `yaml:"people,omitempty"`
	Teams  map[string]TeamConfig   `yaml:"teams,omitempty"`
}

// PersonConfig is one entry under people, keyed by a stable person ID.
type PersonConfig struct {
	Name      string                       `yaml:"name"`
	Platforms map[string]string            `yaml:"platforms"` // slack|discord → user ID
	Tools     map[string]map[string]string `yaml:"tools"`     // e.g. jira: {account_id: ...}
}

// TeamConfig is one entry under teams. Groups list person IDs; the
// "default" group holds every member.
type TeamConfig struct {
	Name    string              `yaml:"name"`
	Aliases []string            `yaml:"aliases"`
	Groups  map[string][]string `yaml:"groups"`
}

// AgentConfig holds orchestrator settings.
type AgentConfig struct {
	MaxIterations int            `yaml:"max_iterations"`
	SystemPrompt  string         `yaml:"system_prompt"`
	MaxTokens     int            `yaml:"max_tokens"`
	Messages      MessagesConfig `yaml:"messages"`
}

// MessagesConfig holds the user-facing reply templates. Placeholders are
// written as {name}. Empty fields keep the built-in template.
type MessagesConfig struct {
	PendingApproval    string `yaml:"pending_approval"`
	AwaitingApproval   string `yaml:"awaiting_approval"`
	IterationLimit     string `yaml:"iteration_limit"`
	Error              string `yaml:"error"`
	EmptyResponse      string `yaml:"empty_response"`
	ApprovalRequest    string `yaml:"approval_request"`
	ApprovalGranted    string `yaml:"approval_granted"`
	ApprovalDenied     string `yaml:"approval_denied"`
	ApprovalExpired    string `yaml:"approval_expired"`
	ApprovalGroupEmpty string `yaml:"approval_group_empty"`
}

// ApprovalConfig holds the human-approval workflow settings. Emoji are
// shortcodes without colons ("white_check_mark"), on every platform.
type ApprovalConfig struct {
	TTLMinutes    int    `yaml:"ttl_minutes"`
	ApproveEmoji  string `yaml:"approve_emoji"`
	DenyEmoji     string `yaml:"deny_emoji"`
	SweepSchedule string `yaml:"sweep_schedule"` // cron spec, e.g. "@every 30s"
	// DefaultGroup gates moderate/high risk operations that have no rule.
	DefaultGroup string                        `yaml:"default_group"`
	Groups       map[string][]string           `yaml:"groups"` // group name → platform user IDs
	Rules        map[string]ApprovalRuleConfig `yaml:"rules"`  // operation name → rule
	Risk         map[string]string             `yaml:"risk"`   // operation name → minor|moderate|high
}

// TTL returns the approval window as a duration.
func (a ApprovalConfig) TTL() time.Duration {
	return time.Duration(a.TTLMinutes) * time.Minute
}

// ApprovalRuleConfig is the per-operation approval rule.
// A project mapped to null or "" needs no approval.
type ApprovalRuleConfig struct {
	Group    string            `yaml:"group"`
	Projects map[string]string `yaml:"projects"`
}

// PlatformConfig selects and configures the chat platform.
type PlatformConfig struct {
	Type          string         `yaml:"type"` // "slack" or "discord"
	ChannelIDs    []string       `yaml:"channel_ids,omitempty"`
	HandlingEmoji string         `yaml:"handling_emoji"`
	ErrorEmoji    string         `yaml:"error_emoji"`
	Slack         *SlackConfig   `yaml:"slack,omitempty"`
	Discord       *DiscordConfig `yaml:"discord,omitempty"`
}

// SlackConfig holds Slack socket-mode credentials.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

// DiscordConfig holds Discord bot credentials.
type DiscordConfig struct {
	Token   string `yaml:"token"`
	GuildID string `yaml:"guild_id,omitempty"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // openai, gemini, vertex, bedrock
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`   // bedrock
	Project     string        `yaml:"project,omitempty"`  // vertex
	Location    string        `yaml:"location,omitempty"` // vertex
	Temperature float64       `yaml:"temperature,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
}

// ToolsConfig lists the tool integrations to register.
type ToolsConfig struct {
	Entries    []ToolConfig `yaml:"entries"`
	MCPServers []MCPServer  `yaml:"mcp_servers,omitempty"`
}

// ToolConfig configures one tool integration. Settings are decoded by the
// tool itself, so each type documents its own keys.
type ToolConfig struct {
	Name     string         `yaml:"name"`
	Type     string         `yaml:"type"` // jira, github, web_search
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings"`
}

// MCPServer configures an MCP server whose tools become operations.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	Output    string `yaml:"output"`
	AddSource bool   `yaml:"add_source"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Exporter    string  `yaml:"exporter"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Addr           string `yaml:"addr"`
	RequestsPerMin int    `yaml:"requests_per_min"`
	Burst          int    `yaml:"burst"`
}

// Defaults returns a configuration with sensible defaults for every field.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MaxIterations: 15,
			SystemPrompt: "You are a helpful assistant embedded in a team chat. " +
				"Use the available tools to answer questions and act on requests. " +
				"Some operations need human approval; when that happens, tell the user what is waiting.",
			MaxTokens: 4096,
		},
		Approval: ApprovalConfig{
			TTLMinutes:    30,
			ApproveEmoji:  "white_check_mark",
			DenyEmoji:     "x",
			SweepSchedule: "@every 30s",
		},
		Platform: PlatformConfig{
			HandlingEmoji: "eyes",
			ErrorEmoji:    "warning",
		},
		LLM: LLMConfig{
			DefaultProvider: "openai",
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			ServiceName: "warden",
			SampleRatio: 1.0,
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			Addr:           ":9090",
			RequestsPerMin: 120,
			Burst:          20,
		},
	}
}

// Load reads a YAML config file, expands ${VAR} references, applies env var
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps WARDEN_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WARDEN_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("WARDEN_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("WARDEN_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("WARDEN_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("WARDEN_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("WARDEN_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("WARDEN_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("WARDEN_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("WARDEN_APPROVAL_TTL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Approval.TTLMinutes = n
		}
	}
	if v := os.Getenv("WARDEN_PLATFORM_TYPE"); v != "" {
		cfg.Platform.Type = v
	}
	if v := os.Getenv("WARDEN_SLACK_BOT_TOKEN"); v != "" {
		if cfg.Platform.Slack == nil {
			cfg.Platform.Slack = &SlackConfig{}
		}
		cfg.Platform.Slack.BotToken = v
	}
	if v := os.Getenv("WARDEN_SLACK_APP_TOKEN"); v != "" {
		if cfg.Platform.Slack == nil {
			cfg.Platform.Slack = &SlackConfig{}
		}
		cfg.Platform.Slack.AppToken = v
	}
	if v := os.Getenv("WARDEN_DISCORD_TOKEN"); v != "" {
		if cfg.Platform.Discord == nil {
			cfg.Platform.Discord = &DiscordConfig{}
		}
		cfg.Platform.Discord.Token = v
	}

	// Per-provider API keys: WARDEN_LLM_PROVIDER_<NAME>_API_KEY
	for i := range cfg.LLM.Providers {
		name := envName(cfg.LLM.Providers[i].Name)
		if v := os.Getenv("WARDEN_LLM_PROVIDER_" + name + "_API_KEY"); v != "" {
			cfg.LLM.Providers[i].APIKey = v
		}
	}
}

// envName upper-cases a config name and replaces characters that are not
// valid in environment variable names.
func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}

func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
