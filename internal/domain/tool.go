package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ToolSchema describes one callable operation for the LLM function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents an LLM's request to invoke an operation.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the outcome of executing an operation.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name,omitempty"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// Tool groups one or more operations behind a single integration
// (an issue tracker, a code host, an MCP server).
type Tool interface {
	Name() string
	Description() string
	Operations() []ToolSchema
	Run(ctx context.Context, operation string, args map[string]any) (*ToolResult, error)
}

// ProjectResolver is implemented by tools whose operations target a project,
// repository or space. The returned key selects project-level approval overrides.
// An empty string means the call has no project context.
type ProjectResolver interface {
	ResolveProject(operation string, args map[string]any) string
}

// RiskLevel classifies how sensitive an operation is.
type RiskLevel string

const (
	RiskMinor    RiskLevel = "minor"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// ParseRiskLevel converts a config value into a RiskLevel. Empty means minor.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(s))) {
	case "", RiskMinor:
		return RiskMinor, nil
	case RiskModerate:
		return RiskModerate, nil
	case RiskHigh:
		return RiskHigh, nil
	default:
		return "", fmt.Errorf("risk level %q: %w", s, ErrInvalidInput)
	}
}

// ApprovalRule says which group must approve an operation.
//
// Projects overrides Group per project key. A key that is present with an
// empty value is an explicit "no approval" for that project.
type ApprovalRule struct {
	Group    string            `json:"group,omitempty" yaml:"group"`
	Projects map[string]string `json:"projects,omitempty" yaml:"projects"`
}

// Override returns the project-level group for projectKey and whether an
// override exists at all. ("", true) is an explicit "no approval".
// Project keys match case-insensitively.
func (r ApprovalRule) Override(projectKey string) (string, bool) {
	if projectKey == "" {
		return "", false
	}
	if group, ok := r.Projects[projectKey]; ok {
		return group, ok
	}
	for key, group := range r.Projects {
		if strings.EqualFold(key, projectKey) {
			return group, true
		}
	}
	return "", false
}

// Resolve applies the rule for projectKey: project override, then the
// operation default, then none. Returns "" when no approval is required.
func (r ApprovalRule) Resolve(projectKey string) string {
	if group, ok := r.Override(projectKey); ok {
		return group
	}
	return r.Group
}

// Gate is the approval decision for one tool call.
//
// Unassigned marks a moderate or high risk call that no rule and no default
// group covers. Such a call must neither run nor be parked.
type Gate struct {
	Operation  string
	Project    string
	Group      string
	Risk       RiskLevel
	Unassigned bool
}

// Required reports whether the call must wait for human approval.
func (g Gate) Required() bool { return g.Group != "" }

// ToolExecutor is the read-only view of the tool registry used while
// handling messages. Execute never returns an error: failures come back as
// a ToolResult with IsError set.
type ToolExecutor interface {
	Operations() []ToolSchema
	Gate(operation string, args map[string]any) Gate
	Execute(ctx context.Context, call ToolCall) ToolResult
}
