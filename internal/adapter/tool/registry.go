package tool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
)

type registeredTool struct {
	tool     domain.Tool
	resolver domain.ProjectResolver // nil when the tool has no project context
}

// Registry holds every tool and routes operation calls to their owner.
// It is filled at startup and read-only after Freeze.
type Registry struct {
	mu         sync.RWMutex
	tools      map[string]*registeredTool
	owners     map[string]*registeredTool // operation name → tool
	operations []domain.ToolSchema
	rules      map[string]domain.ApprovalRule
	risk       map[string]domain.RiskLevel
	defGroup   string
	frozen     bool
	logger     *slog.Logger
}

var _ domain.ToolExecutor = (*Registry)(nil)

// NewRegistry creates an empty tool registry. Tools are wrapped with schema
// validation on Register; compilation errors are logged and the tool is
// registered unwrapped. A nil logger falls back to slog.Default.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*registeredTool),
		owners: make(map[string]*registeredTool),
		rules:  make(map[string]domain.ApprovalRule),
		risk:   make(map[string]domain.RiskLevel),
		logger: logger,
	}
}

// Register adds every operation of t. A taken tool name fails with
// ErrDuplicateTool, a taken operation name with ErrDuplicateOperation.
// Nothing of t is added on failure.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return domain.NewDomainError("Registry.Register", domain.ErrRegistryFrozen, t.Name())
	}

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateTool, fmt.Sprintf("tool %q", name))
	}
	ops := t.Operations()
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if owner, exists := r.owners[op.Name]; exists {
			return domain.NewDomainError("Registry.Register", domain.ErrDuplicateOperation,
				fmt.Sprintf("%q already registered by tool %q", op.Name, owner.tool.Name()))
		}
		if seen[op.Name] {
			return domain.NewDomainError("Registry.Register", domain.ErrDuplicateOperation,
				fmt.Sprintf("%q declared twice by tool %q", op.Name, name))
		}
		seen[op.Name] = true
	}

	entry := &registeredTool{tool: t}
	if pr, ok := t.(domain.ProjectResolver); ok {
		entry.resolver = pr
	}
	wrapped, err := WithSchemaValidation(t)
	if err != nil {
		r.log().Warn("schema validation disabled for tool", "tool", name, "error", err)
	} else {
		entry.tool = wrapped
	}

	r.tools[name] = entry
	names := make([]string, 0, len(ops))
	for _, op := range ops {
		r.owners[op.Name] = entry
		r.operations = append(r.operations, op)
		names = append(names, op.Name)
	}
	r.log().Info("tool registered", "tool", name, "operations", names)
	return nil
}

// SetApprovalRules replaces the approval rules. defaultGroup gates
// moderate and high risk operations that have no rule of their own.
func (r *Registry) SetApprovalRules(rules map[string]domain.ApprovalRule, defaultGroup string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return domain.NewDomainError("Registry.SetApprovalRules", domain.ErrRegistryFrozen, "")
	}
	r.rules = make(map[string]domain.ApprovalRule, len(rules))
	for op, rule := range rules {
		r.rules[op] = rule
	}
	r.defGroup = defaultGroup
	return nil
}

// SetRiskLevels replaces the risk map. Unmapped operations are minor.
func (r *Registry) SetRiskLevels(levels map[string]domain.RiskLevel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return domain.NewDomainError("Registry.SetRiskLevels", domain.ErrRegistryFrozen, "")
	}
	r.risk = make(map[string]domain.RiskLevel, len(levels))
	for op, lvl := range levels {
		r.risk[op] = lvl
	}
	return nil
}

// Freeze makes the registry read-only. Later mutations fail with
// ErrRegistryFrozen.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Unknown reports rule and risk entries that name no registered operation.
func (r *Registry) Unknown() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for op := range r.rules {
		if _, ok := r.owners[op]; !ok {
			out = append(out, op)
		}
	}
	for op := range r.risk {
		if _, ok := r.owners[op]; !ok {
			out = append(out, op)
		}
	}
	return out
}

// Operations returns the flat operation list in registration order.
func (r *Registry) Operations() []domain.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ToolSchema(nil), r.operations...)
}

// ResolveProject asks the owning tool which project the call targets.
func (r *Registry) ResolveProject(operation string, args map[string]any) string {
	r.mu.RLock()
	entry := r.owners[operation]
	r.mu.RUnlock()
	if entry == nil || entry.resolver == nil {
		return ""
	}
	return entry.resolver.ResolveProject(operation, args)
}

// ResolveApproval returns the group that must approve operation on
// projectKey, or "" when none is needed. A project override wins, even an
// explicit empty one, then the operation default.
func (r *Registry) ResolveApproval(operation, projectKey string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	group, _ := r.resolveLocked(operation, projectKey)
	return group
}

func (r *Registry) resolveLocked(operation, projectKey string) (string, bool) {
	rule, ok := r.rules[operation]
	if !ok {
		return "", false
	}
	return rule.Resolve(projectKey), true
}

// Risk returns the risk level of operation.
func (r *Registry) Risk(operation string) domain.RiskLevel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if lvl, ok := r.risk[operation]; ok {
		return lvl
	}
	return domain.RiskMinor
}

// Gate combines project resolution, the approval rule and the risk level
// into the decision for one call. Operations without a rule fall back to
// the default group when their risk is moderate or high. With no default
// group such a call is marked Unassigned and must not run.
func (r *Registry) Gate(operation string, args map[string]any) domain.Gate {
	project := r.ResolveProject(operation, args)

	r.mu.RLock()
	defer r.mu.RUnlock()

	risk := domain.RiskMinor
	if lvl, ok := r.risk[operation]; ok {
		risk = lvl
	}
	gate := domain.Gate{Operation: operation, Project: project, Risk: risk}
	group, ruled := r.resolveLocked(operation, project)
	if !ruled && risk != domain.RiskMinor {
		group = r.defGroup
		gate.Unassigned = group == ""
	}
	gate.Group = group
	return gate
}

// Execute runs call on the owning tool. It never returns an error and never
// panics: unknown operations, tool errors and panics become error results.
func (r *Registry) Execute(ctx context.Context, call domain.ToolCall) (result domain.ToolResult) {
	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(tracer.StringAttr("tool.operation", call.Name)),
	)
	defer span.End()

	result = domain.ToolResult{ToolCallID: call.ID, Name: call.Name}

	r.mu.RLock()
	entry := r.owners[call.Name]
	r.mu.RUnlock()
	if entry == nil {
		err := domain.NewDomainError("Registry.Execute", domain.ErrUnknownOperation, call.Name)
		tracer.RecordError(span, err)
		result.Content, result.IsError = err.Error(), true
		return result
	}

	defer func() {
		if rec := recover(); rec != nil {
			err := domain.NewDomainError("Registry.Execute", domain.ErrToolExecution, fmt.Sprintf("%s panicked: %v", call.Name, rec))
			tracer.RecordError(span, err)
			r.log().Error("tool panicked", "operation", call.Name, "panic", rec, "stack", string(debug.Stack()))
			result = domain.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: err.Error(), IsError: true}
		}
	}()

	out, err := entry.tool.Run(ctx, call.Name, call.Arguments)
	switch {
	case err != nil:
		if !errors.Is(err, domain.ErrToolExecution) && !errors.Is(err, domain.ErrUnknownOperation) {
			err = fmt.Errorf("%w: %w", domain.ErrToolExecution, err)
		}
		err = domain.NewDomainError("Registry.Execute", err, call.Name)
		tracer.RecordError(span, err)
		r.log().Warn("tool failed", "operation", call.Name, "error", err)
		result.Content, result.IsError = err.Error(), true
	case out == nil:
		result.Content = ""
		tracer.SetOK(span)
	default:
		result.Content, result.IsError = out.Content, out.IsError
		if out.IsError {
			span.SetAttributes(tracer.BoolAttr("tool.is_error", true))
		} else {
			tracer.SetOK(span)
		}
	}
	return result
}

func (r *Registry) log() *slog.Logger {
	if r.logger == nil {
		return slog.Default()
	}
	return r.logger
}
