package tool

import (
	"context"
	"fmt"
	"log/slog"

	"warden/internal/domain"
	"warden/internal/infra/config"
)

// BuildTools constructs the enabled integrations and MCP servers from cfg.
// The returned close func releases MCP connections.
func BuildTools(ctx context.Context, cfg config.ToolsConfig, logger *slog.Logger) ([]domain.Tool, func(), error) {
	var tools []domain.Tool
	for _, entry := range cfg.Entries {
		if !entry.Enabled {
			logger.Debug("tool disabled", "name", entry.Name)
			continue
		}
		t, err := buildTool(entry, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("tool %q: %w", entry.Name, err)
		}
		tools = append(tools, t)
	}

	closer := func() {}
	if len(cfg.MCPServers) > 0 {
		bridge, err := NewMCPBridge(ctx, cfg.MCPServers, logger)
		if err != nil {
			return nil, nil, err
		}
		tools = append(tools, bridge.Tools()...)
		closer = bridge.Close
	}
	return tools, closer, nil
}

func buildTool(entry config.ToolConfig, logger *slog.Logger) (domain.Tool, error) {
	switch entry.Type {
	case "jira":
		var s JiraSettings
		if err := DecodeSettings(entry.Settings, &s); err != nil {
			return nil, err
		}
		if err := ValidateAll(RequireField("url", s.URL), ValidateURL("url", s.URL)); err != nil {
			return nil, err
		}
		return NewJiraTool(entry.Name, NewJiraREST(s), s.Projects, logger), nil
	case "confluence":
		var s ConfluenceSettings
		if err := DecodeSettings(entry.Settings, &s); err != nil {
			return nil, err
		}
		if err := ValidateAll(RequireField("url", s.URL), ValidateURL("url", s.URL)); err != nil {
			return nil, err
		}
		return NewConfluenceTool(entry.Name, NewConfluenceREST(s), s.Spaces, logger), nil
	case "github":
		var s GitHubSettings
		if err := DecodeSettings(entry.Settings, &s); err != nil {
			return nil, err
		}
		if err := ValidateURL("base_url", s.BaseURL); err != nil {
			return nil, err
		}
		return NewGitHubTool(entry.Name, NewGitHubREST(s), s, logger), nil
	case "web_search":
		var s WebSearchSettings
		if err := DecodeSettings(entry.Settings, &s); err != nil {
			return nil, err
		}
		if err := ValidateEnum("backend", s.Backend, "searxng"); err != nil {
			return nil, err
		}
		if err := ValidateAll(RequireField("instance_url", s.InstanceURL), ValidateURL("instance_url", s.InstanceURL)); err != nil {
			return nil, err
		}
		return NewWebSearchTool(entry.Name, NewSearXNGBackend(s.InstanceURL, s.Timeout, logger), s, logger), nil
	default:
		return nil, fmt.Errorf("unknown tool type %q", entry.Type)
	}
}
