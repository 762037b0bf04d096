package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"warden/internal/domain"
)

// SchemaValidatingTool wraps a Tool with JSON Schema validation.
// On Run, it validates args against the operation's compiled schema before delegating.
type SchemaValidatingTool struct {
	inner   domain.Tool
	schemas map[string]*jsonschema.Schema
}

// WithSchemaValidation wraps a tool so that Run validates arguments against
// the schema of the called operation before forwarding to the inner tool.
// Operations without a schema are passed through. Returns error if any
// schema fails to compile.
func WithSchemaValidation(t domain.Tool) (domain.Tool, error) {
	schemas := make(map[string]*jsonschema.Schema)
	for _, op := range t.Operations() {
		raw := op.Parameters
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		compiler := jsonschema.NewCompiler()
		url := op.Name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add schema resource for %q: %w", op.Name, err)
		}
		compiled, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema for %q: %w", op.Name, err)
		}
		schemas[op.Name] = compiled
	}
	if len(schemas) == 0 {
		return t, nil
	}
	return &SchemaValidatingTool{inner: t, schemas: schemas}, nil
}

func (s *SchemaValidatingTool) Name() string                    { return s.inner.Name() }
func (s *SchemaValidatingTool) Description() string             { return s.inner.Description() }
func (s *SchemaValidatingTool) Operations() []domain.ToolSchema { return s.inner.Operations() }

// Unwrap returns the validated tool.
func (s *SchemaValidatingTool) Unwrap() domain.Tool { return s.inner }

func (s *SchemaValidatingTool) Run(ctx context.Context, operation string, args map[string]any) (*domain.ToolResult, error) {
	schema, ok := s.schemas[operation]
	if !ok {
		return s.inner.Run(ctx, operation, args)
	}

	// Round-trip through JSON so the validator sees the same types the
	// model produced, whatever Go types the caller used.
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON: %v", err),
		}, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("invalid JSON: %v", err),
		}, nil
	}

	if err := schema.Validate(v); err != nil {
		return &domain.ToolResult{
			IsError: true,
			Content: fmt.Sprintf("schema validation failed: %v", err),
		}, nil
	}

	return s.inner.Run(ctx, operation, args)
}
