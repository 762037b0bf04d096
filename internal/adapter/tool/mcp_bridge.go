package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"warden/internal/domain"
	"warden/internal/infra/config"
)

// mcpCallTimeout is the default per-call timeout for MCP tool execution.
const mcpCallTimeout = 30 * time.Second

// mcpClient abstracts the MCP client interface for testability.
type mcpClient interface {
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// MCPBridge connects to MCP servers. Each server becomes one domain.Tool
// whose operations are the server's tools, named mcp_<server>_<tool>.
type MCPBridge struct {
	servers []*MCPServerTool
	logger  *slog.Logger
}

// NewMCPBridge connects to every configured server and discovers its tools.
// A server that fails to connect aborts startup; a server whose discovery
// fails is skipped unless every server fails.
func NewMCPBridge(ctx context.Context, servers []config.MCPServer, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{logger: logger}

	var clients []mcpServerConn
	for _, srv := range servers {
		c, err := connectMCPServer(ctx, srv, logger)
		if err != nil {
			for _, conn := range clients {
				conn.client.Close()
			}
			return nil, fmt.Errorf("mcp server %q: %w", srv.Name, err)
		}
		clients = append(clients, mcpServerConn{name: srv.Name, client: c})
	}

	if err := b.discover(ctx, clients); err != nil {
		for _, conn := range clients {
			conn.client.Close()
		}
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	return b, nil
}

type mcpServerConn struct {
	name   string
	client mcpClient
}

// newMCPBridgeWithClients creates an MCPBridge with pre-built clients (for testing).
func newMCPBridgeWithClients(ctx context.Context, conns []mcpServerConn, logger *slog.Logger) (*MCPBridge, error) {
	b := &MCPBridge{logger: logger}
	if err := b.discover(ctx, conns); err != nil {
		return nil, err
	}
	return b, nil
}

func connectMCPServer(ctx context.Context, srv config.MCPServer, logger *slog.Logger) (mcpClient, error) {
	var c mcpClient

	switch srv.Transport {
	case "stdio":
		sc, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}
		c = sc
	case "http":
		t, err := transport.NewStreamableHTTP(srv.URL)
		if err != nil {
			return nil, fmt.Errorf("create http transport: %w", err)
		}
		hc := mcpclient.NewClient(t)
		if err := hc.Start(ctx); err != nil {
			return nil, fmt.Errorf("start http client: %w", err)
		}
		c = hc
	default:
		return nil, fmt.Errorf("unsupported transport %q", srv.Transport)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "warden", Version: "1.0.0"}

	if ic, ok := c.(interface {
		Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	}); ok {
		if _, err := ic.Initialize(ctx, initReq); err != nil {
			c.Close()
			return nil, domain.WrapOp("initialize", err)
		}
	}

	logger.Info("mcp server connected", "name", srv.Name, "transport", srv.Transport)
	return c, nil
}

func (b *MCPBridge) discover(ctx context.Context, conns []mcpServerConn) error {
	var errs []string
	for _, conn := range conns {
		result, err := conn.client.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			b.logger.Warn("mcp server discovery failed, skipping", "server", conn.name, "error", err)
			errs = append(errs, fmt.Sprintf("%s: %v", conn.name, err))
			continue
		}
		b.servers = append(b.servers, newMCPServerTool(conn.name, conn.client, result.Tools, b.logger))
		b.logger.Info("mcp tools discovered", "server", conn.name, "count", len(result.Tools))
	}
	if len(b.servers) == 0 && len(errs) > 0 {
		return fmt.Errorf("all mcp servers failed discovery: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Tools returns one tool per discovered server.
func (b *MCPBridge) Tools() []domain.Tool {
	out := make([]domain.Tool, len(b.servers))
	for i, s := range b.servers {
		out[i] = s
	}
	return out
}

// Close shuts down all MCP server connections.
func (b *MCPBridge) Close() {
	for _, s := range b.servers {
		if err := s.client.Close(); err != nil {
			b.logger.Warn("mcp server close error", "server", s.server, "error", err)
		}
	}
}

// MCPServerTool exposes the tools of one MCP server as operations.
type MCPServerTool struct {
	server  string
	client  mcpClient
	schemas []domain.ToolSchema
	remote  map[string]string // operation name → MCP tool name
	logger  *slog.Logger
}

func newMCPServerTool(server string, client mcpClient, tools []mcp.Tool, logger *slog.Logger) *MCPServerTool {
	s := &MCPServerTool{server: server, client: client, remote: make(map[string]string, len(tools)), logger: logger}
	for _, t := range tools {
		name := fmt.Sprintf("mcp_%s_%s", sanitizeName(server), sanitizeName(t.Name))
		if _, dup := s.remote[name]; dup {
			logger.Warn("mcp tool name collides after sanitizing, skipping", "server", server, "tool", t.Name)
			continue
		}
		desc := t.Description
		if desc == "" {
			desc = fmt.Sprintf("MCP tool %q from server %q", t.Name, server)
		}
		params := json.RawMessage(`{"type": "object"}`)
		if t.InputSchema.Properties != nil || t.InputSchema.Required != nil {
			if data, err := json.Marshal(t.InputSchema); err == nil {
				params = data
			}
		}
		s.schemas = append(s.schemas, domain.ToolSchema{Name: name, Description: desc, Parameters: params})
		s.remote[name] = t.Name
	}
	return s
}

func (s *MCPServerTool) Name() string { return "mcp_" + sanitizeName(s.server) }
func (s *MCPServerTool) Description() string {
	return fmt.Sprintf("Tools provided by MCP server %q", s.server)
}
func (s *MCPServerTool) Operations() []domain.ToolSchema {
	return append([]domain.ToolSchema(nil), s.schemas...)
}

func (s *MCPServerTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	remote, ok := s.remote[operation]
	if !ok {
		return nil, domain.NewDomainError("MCPServerTool.Run", domain.ErrUnknownOperation, operation)
	}

	callReq := mcp.CallToolRequest{}
	callReq.Params.Name = remote
	callReq.Params.Arguments = args

	s.logger.Debug("mcp tool call", "server", s.server, "tool", remote, "operation", operation)

	callCtx, cancel := context.WithTimeout(ctx, mcpCallTimeout)
	defer cancel()

	result, err := s.client.CallTool(callCtx, callReq)
	if err != nil {
		return &domain.ToolResult{
			Content: fmt.Sprintf("MCP tool error: %v (transient error, may succeed on retry)", err),
			IsError: true,
		}, nil
	}
	return &domain.ToolResult{Content: extractMCPContent(result), IsError: result.IsError}, nil
}

// extractMCPContent converts MCP CallToolResult content to a string.
func extractMCPContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			if data, err := json.Marshal(v); err == nil {
				parts = append(parts, string(data))
			}
		}
	}
	return strings.Join(parts, "\n")
}

// sanitizeName replaces characters that aren't valid in operation names.
func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// envSlice converts a map of env vars to KEY=VALUE slices.
func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
