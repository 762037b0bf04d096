package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
)

// Handler runs one operation with the raw arguments from the LLM.
type Handler func(ctx context.Context, args map[string]any) (*domain.ToolResult, error)

// Operation is one LLM-callable operation of a tool.
type Operation struct {
	Schema  domain.ToolSchema
	Handler Handler
}

// Op builds an Operation whose handler receives decoded params of type P.
// parameters is the JSON Schema of P as sent to the LLM.
//
// Usage:
//
//	Op("jira_get_issue", "Get one issue by key", jiraIssueKeySchema, t.logger, t.getIssue)
func Op[P any](
	name, description, parameters string,
	logger *slog.Logger,
	handler func(ctx context.Context, span trace.Span, p P) (any, error),
) Operation {
	return Operation{
		Schema: domain.ToolSchema{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(parameters),
		},
		Handler: func(ctx context.Context, args map[string]any) (*domain.ToolResult, error) {
			return Run(ctx, "tool."+name, logger, args, handler)
		},
	}
}

// OperationSet is the operation table of an integration. It keeps
// declaration order so the LLM sees a stable list.
type OperationSet struct {
	order  []domain.ToolSchema
	byName map[string]Handler
}

// NewOperationSet panics on a duplicate name: the table is static code.
func NewOperationSet(ops ...Operation) *OperationSet {
	s := &OperationSet{byName: make(map[string]Handler, len(ops))}
	for _, op := range ops {
		if _, dup := s.byName[op.Schema.Name]; dup {
			panic(fmt.Sprintf("tool: operation %q declared twice", op.Schema.Name))
		}
		s.order = append(s.order, op.Schema)
		s.byName[op.Schema.Name] = op.Handler
	}
	return s
}

// Schemas returns the operation schemas in declaration order.
func (s *OperationSet) Schemas() []domain.ToolSchema {
	return append([]domain.ToolSchema(nil), s.order...)
}

// Run dispatches operation to its handler.
func (s *OperationSet) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	h, ok := s.byName[operation]
	if !ok {
		return nil, domain.NewDomainError("OperationSet.Run", domain.ErrUnknownOperation, operation)
	}
	return h(ctx, args)
}
