package tool

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"warden/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

// fakeTool is a configurable domain.Tool.
type fakeTool struct {
	name    string
	schemas []domain.ToolSchema
	project string
	run     func(ctx context.Context, op string, args map[string]any) (*domain.ToolResult, error)
	calls   []string
}

func newFakeTool(name string, ops ...string) *fakeTool {
	t := &fakeTool{name: name}
	for _, op := range ops {
		t.schemas = append(t.schemas, domain.ToolSchema{Name: op, Description: op})
	}
	return t
}

func (f *fakeTool) Name() string                    { return f.name }
func (f *fakeTool) Description() string             { return "fake " + f.name }
func (f *fakeTool) Operations() []domain.ToolSchema { return f.schemas }

func (f *fakeTool) Run(ctx context.Context, op string, args map[string]any) (*domain.ToolResult, error) {
	f.calls = append(f.calls, op)
	if f.run != nil {
		return f.run(ctx, op, args)
	}
	return &domain.ToolResult{Content: "ran " + op}, nil
}

// projectTool adds project resolution to fakeTool.
type projectTool struct {
	*fakeTool
}

func (p projectTool) ResolveProject(_ string, args map[string]any) string {
	if k, _ := args["project"].(string); k != "" {
		return k
	}
	return p.project
}
