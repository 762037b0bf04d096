package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"warden/internal/adapter/tool"
	"warden/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

var pingClient = &http.Client{Timeout: 10 * time.Second}

// runDoctor executes all health checks and writes a report to w.
func runDoctor(w io.Writer, cfgPath string) error {
	// Some checks work without a config.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "LLM credentials", Fn: checkLLMCredentials},
		{Name: "LLM connectivity", Fn: checkLLMConnectivity},
		{Name: "Platform", Fn: checkPlatform},
		{Name: "Approval groups", Fn: checkApprovalGroups},
		{Name: "Tool endpoints", Fn: checkToolEndpoints},
	}

	fmt.Fprintln(w, "warden doctor")
	fmt.Fprintln(w, strings.Repeat("=", 50))
	fmt.Fprintln(w)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(w, "  %s %s: %s\n", statusIcon(result.Status), result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(w, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 50))
	fmt.Fprintf(w, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file not found at %s", cfgPath),
				Fix:     "Create config.yaml or point WARDEN_CONFIG at an existing file",
			}
		}
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file error: %v", cfgErr),
				Fix:     "Check config.yaml syntax and the fields named above",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// needsAPIKey reports whether the provider type authenticates with an API key.
// Bedrock and Vertex use ambient cloud credentials.
func needsAPIKey(providerType string) bool {
	switch providerType {
	case "bedrock", "vertex":
		return false
	default:
		return true
	}
}

// checkLLMCredentials verifies every key-based provider has an API key configured.
func checkLLMCredentials(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.LLM.Providers) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: "no LLM providers configured",
			Fix:     "Add at least one provider in config.yaml under llm.providers",
		}
	}

	var ready, missing []string
	for _, p := range cfg.LLM.Providers {
		if !needsAPIKey(p.Type) || p.APIKey != "" {
			ready = append(ready, p.Name)
		} else {
			missing = append(missing, p.Name)
		}
	}

	if len(ready) == 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("no API keys found for providers: %s", strings.Join(missing, ", ")),
			Fix:     "Set api_key for each provider, e.g. api_key: ${OPENAI_API_KEY}",
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("credentials ready for [%s]; missing for [%s]", strings.Join(ready, ", "), strings.Join(missing, ", ")),
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("credentials ready for: %s", strings.Join(ready, ", ")),
	}
}

// checkLLMConnectivity tests if the default LLM provider is reachable.
func checkLLMConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}

	var provider *config.ProviderConfig
	for i := range cfg.LLM.Providers {
		if cfg.LLM.Providers[i].Name == cfg.LLM.DefaultProvider {
			provider = &cfg.LLM.Providers[i]
			break
		}
	}
	if provider == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("default provider %q not found in config", cfg.LLM.DefaultProvider),
		}
	}

	endpoint := providerEndpoint(provider)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no health endpoint for provider type %q, skipping", provider.Type),
		}
	}

	latency, err := ping(endpoint)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your network connection, proxy and base_url",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", provider.Name, latency.Milliseconds()),
	}
}

// providerEndpoint returns a URL that answers without authentication for the provider.
func providerEndpoint(p *config.ProviderConfig) string {
	if p.BaseURL != "" {
		return strings.TrimRight(p.BaseURL, "/")
	}
	switch p.Type {
	case "openai", "":
		return "https://api.openai.com/v1/models"
	case "gemini":
		return "https://generativelanguage.googleapis.com/"
	default:
		return ""
	}
}

// checkPlatform verifies the chat platform is selected and has credentials.
func checkPlatform(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	p := cfg.Platform
	switch p.Type {
	case "":
		return CheckResult{
			Status:  StatusFail,
			Message: "no platform selected",
			Fix:     "Set platform.type to slack or discord",
		}
	case "slack":
		if p.Slack == nil || p.Slack.BotToken == "" || p.Slack.AppToken == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "slack tokens missing",
				Fix:     "Set WARDEN_SLACK_BOT_TOKEN and WARDEN_SLACK_APP_TOKEN",
			}
		}
	case "discord":
		if p.Discord == nil || p.Discord.Token == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "discord token missing",
				Fix:     "Set WARDEN_DISCORD_TOKEN",
			}
		}
	}

	scope := "all channels"
	if len(p.ChannelIDs) > 0 {
		scope = fmt.Sprintf("%d channel(s)", len(p.ChannelIDs))
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s configured, listening on %s", p.Type, scope),
	}
}

// checkApprovalGroups warns about groups that gate operations but have no members,
// since gated calls for those groups can never be approved.
func checkApprovalGroups(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	a := cfg.Approval

	used := map[string]bool{}
	if a.DefaultGroup != "" {
		used[a.DefaultGroup] = true
	}
	for _, rule := range a.Rules {
		if rule.Group != "" {
			used[rule.Group] = true
		}
		for _, group := range rule.Projects {
			if group != "" {
				used[group] = true
			}
		}
	}
	if len(used) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no approval rules configured, every operation runs without approval",
		}
	}

	groups := approvalGroups(cfg, directoryFromConfig(cfg))
	var empty []string
	for group := range used {
		if len(groups[group]) == 0 {
			empty = append(empty, group)
		}
	}
	sort.Strings(empty)
	if len(empty) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("groups without members: %s", strings.Join(empty, ", ")),
			Fix:     "Add platform user IDs, people or team groups under approval.groups",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d approval group(s) in use, all have members", len(used)),
	}
}

// checkToolEndpoints pings the base URL of every enabled HTTP-backed tool.
func checkToolEndpoints(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}

	var checked int
	var failures []string
	for _, entry := range cfg.Tools.Entries {
		if !entry.Enabled {
			continue
		}
		endpoint := toolEndpoint(entry)
		if endpoint == "" {
			continue
		}
		checked++
		if _, err := ping(endpoint); err != nil {
			failures = append(failures, fmt.Sprintf("%s (%s): %v", entry.Name, endpoint, err))
		}
	}

	if checked == 0 {
		return CheckResult{
			Status:  StatusPass,
			Message: "no HTTP-backed tools enabled",
		}
	}
	if len(failures) > 0 {
		return CheckResult{
			Status:  StatusFail,
			Message: strings.Join(failures, "; "),
			Fix:     "Check the tool URLs under tools.entries and that the services are running",
		}
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d tool endpoint(s) reachable", checked),
	}
}

// toolEndpoint extracts the service URL from a tool entry's settings.
func toolEndpoint(entry config.ToolConfig) string {
	switch entry.Type {
	case "jira":
		var s tool.JiraSettings
		if err := tool.DecodeSettings(entry.Settings, &s); err != nil {
			return ""
		}
		return s.URL
	case "github":
		var s tool.GitHubSettings
		if err := tool.DecodeSettings(entry.Settings, &s); err != nil {
			return ""
		}
		if s.BaseURL == "" {
			return "https://api.github.com"
		}
		return s.BaseURL
	case "confluence":
		var s tool.ConfluenceSettings
		if err := tool.DecodeSettings(entry.Settings, &s); err != nil {
			return ""
		}
		return s.URL
	case "web_search":
		var s tool.WebSearchSettings
		if err := tool.DecodeSettings(entry.Settings, &s); err != nil {
			return ""
		}
		return s.InstanceURL
	default:
		return ""
	}
}

// ping issues a GET and reports latency. Any HTTP response counts as reachable.
func ping(endpoint string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	resp, err := pingClient.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()
	return time.Since(start), nil
}
