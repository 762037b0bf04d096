package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
	"warden/internal/usecase/eventbus"
)

const defaultMaxIterations = 15

// State is where an invocation of the agent loop stands.
type State string

const (
	StateBuildingContext State = "building_context"
	StateAwaitingLLM     State = "awaiting_llm"
	StateExecutingTools  State = "executing_tools"
	StateReplied         State = "replied"
	StatePendingApproval State = "pending_approval"
	StateRepliedPartial  State = "replied_partial"
	StateFailed          State = "failed"
)

// Approver parks gated tool calls. ApprovalManager is the implementation.
type Approver interface {
	Request(ctx context.Context, call domain.ToolCall, req domain.RequestContext, gate domain.Gate) (string, error)
}

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM          domain.LLMProvider
	Tools        domain.ToolExecutor
	Platform     domain.Platform
	Approvals    Approver             // nil = gated calls fail
	Conversation *ConversationBuilder // nil = built from Platform with no system prompt
	Locker       *ThreadLocker        // nil = no per-thread exclusion
	Bus          domain.EventBus      // optional
	Logger       *slog.Logger

	Model         string
	MaxTokens     int
	MaxIterations int
	Messages      Messages

	HandlingEmoji string // added while a message is being handled
	ErrorEmoji    string // added when handling fails
}

// Outcome summarizes one invocation.
type Outcome struct {
	State      State
	Reply      string
	Iterations int
	Executed   int
	Deferred   int
	Usage      domain.Usage
	Err        error
}

// Agent runs the think-act loop for messages addressed to the bot.
type Agent struct {
	deps AgentDeps
}

func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = defaultMaxIterations
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Conversation == nil {
		deps.Conversation = NewConversationBuilder(deps.Platform, "", deps.Logger)
	}
	deps.Messages = deps.Messages.withDefaults()
	return &Agent{deps: deps}
}

// HandleMessage answers msg in its thread. The reply, including failure
// notices, is always posted; the returned error is for logging only.
func (a *Agent) HandleMessage(ctx context.Context, msg domain.InboundMessage) (*Outcome, error) {
	req := domain.RequestContext{
		Platform:      a.deps.Platform.Name(),
		ChannelID:     msg.ChannelID,
		ThreadID:      msg.ReplyThread(),
		MessageID:     msg.ID,
		RequesterID:   msg.SenderID,
		RequesterName: msg.SenderName,
	}
	threadKey := req.ThreadKey()

	ctx, span := tracer.StartSpan(ctx, "agent.handle",
		trace.WithAttributes(
			tracer.StringAttr("thread", threadKey),
			tracer.StringAttr("platform", req.Platform),
		),
	)
	defer span.End()

	if a.deps.Locker != nil {
		unlock, err := a.deps.Locker.Lock(ctx, threadKey)
		if err != nil {
			tracer.RecordError(span, err)
			return nil, domain.NewDomainError("Agent.HandleMessage", err, "thread lock")
		}
		defer unlock()
	}

	ctx = domain.ContextWithRequest(ctx, req)
	a.deps.Logger.Info("message received", "thread", threadKey, "user", msg.SenderID, "message_id", msg.ID)
	eventbus.Emit(ctx, a.deps.Bus, domain.EventMessageReceived, threadKey, nil)
	a.react(ctx, msg, a.deps.HandlingEmoji, true)

	out := a.run(ctx, msg, req)

	if out.Reply != "" {
		if _, err := a.deps.Platform.SendMessage(ctx, msg.ChannelID, out.Reply, req.ThreadID); err != nil {
			a.deps.Logger.Error("send reply failed", "thread", threadKey, "error", err)
			if out.Err == nil {
				out.Err = domain.WrapOp("Agent.HandleMessage", err)
			}
			out.State = StateFailed
		}
	}

	a.react(ctx, msg, a.deps.HandlingEmoji, false)
	if out.State == StateFailed {
		a.react(ctx, msg, a.deps.ErrorEmoji, true)
	}

	payload := domain.RepliedPayload{
		State:      string(out.State),
		Iterations: out.Iterations,
		Executed:   out.Executed,
		Deferred:   out.Deferred,
		Usage:      out.Usage,
	}
	span.SetAttributes(
		tracer.StringAttr("state", string(out.State)),
		tracer.IntAttr("iterations", out.Iterations),
		tracer.IntAttr("tokens", out.Usage.TotalTokens),
	)
	if out.Err != nil {
		payload.Error = out.Err.Error()
		eventbus.Emit(ctx, a.deps.Bus, domain.EventAgentError, threadKey, payload)
		tracer.RecordError(span, out.Err)
		a.deps.Logger.Error("message failed", "thread", threadKey, "state", out.State, "error", out.Err)
		return out, out.Err
	}

	eventbus.Emit(ctx, a.deps.Bus, domain.EventAgentReplied, threadKey, payload)
	tracer.SetOK(span)
	a.deps.Logger.Info("message handled",
		"thread", threadKey,
		"state", out.State,
		"iterations", out.Iterations,
		"executed", out.Executed,
		"deferred", out.Deferred,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"total_tokens", out.Usage.TotalTokens,
	)
	return out, nil
}

func (a *Agent) run(ctx context.Context, msg domain.InboundMessage, req domain.RequestContext) *Outcome {
	out := &Outcome{State: StateBuildingContext}
	threadKey := req.ThreadKey()

	conv := a.deps.Conversation.Preamble(msg)
	conv = append(conv, a.deps.Conversation.Build(ctx, msg)...)
	operations := a.deps.Tools.Operations()

	for {
		if out.Iterations >= a.deps.MaxIterations {
			a.deps.Logger.Warn("iteration limit reached", "thread", threadKey, "iterations", out.Iterations)
			out.State = StateRepliedPartial
			out.Reply = a.withAwaiting(a.deps.Messages.IterationLimit, out.Deferred)
			return out
		}

		out.State = StateAwaitingLLM
		eventbus.Emit(ctx, a.deps.Bus, domain.EventLLMRequest, threadKey, domain.LLMResponsePayload{Iteration: out.Iterations})

		resp, err := a.callLLM(ctx, conv, operations, out.Iterations)
		if err != nil {
			out.State = StateFailed
			out.Err = err
			out.Reply = a.deps.Messages.Error
			return out
		}
		out.Usage = out.Usage.Add(resp.Usage)
		eventbus.Emit(ctx, a.deps.Bus, domain.EventLLMResponse, threadKey, domain.LLMResponsePayload{
			Iteration: out.Iterations,
			ToolCalls: len(resp.Message.ToolCalls),
			Usage:     resp.Usage,
		})

		if !resp.IsToolUse() {
			text := strings.TrimSpace(resp.Message.Content)
			if text == "" {
				a.deps.Logger.Warn("empty llm response", "thread", threadKey, "iteration", out.Iterations)
				text = a.deps.Messages.EmptyResponse
			}
			out.State = StateReplied
			out.Reply = a.withAwaiting(text, out.Deferred)
			return out
		}

		out.State = StateExecutingTools
		names := make([]string, len(resp.Message.ToolCalls))
		for i, c := range resp.Message.ToolCalls {
			names[i] = c.Name
		}
		a.deps.Logger.Info("tool calls requested", "thread", threadKey, "iteration", out.Iterations, "tools", names)
		eventbus.Emit(ctx, a.deps.Bus, domain.EventToolCallsRequested, threadKey, map[string]any{"tools": names})

		calls, results, deferred := a.dispatch(ctx, resp.Message.ToolCalls, req)
		out.Deferred += deferred
		out.Executed += len(calls)

		if len(calls) == 0 {
			out.State = StatePendingApproval
			out.Reply = render(a.deps.Messages.PendingApproval, "count", strconv.Itoa(out.Deferred))
			return out
		}

		now := time.Now()
		conv = append(conv,
			domain.Message{Role: domain.RoleAssistant, Content: resp.Message.Content, ToolCalls: calls, Timestamp: now},
			domain.Message{Role: domain.RoleTool, ToolResults: results, Timestamp: now},
		)
		out.Iterations++
	}
}

func (a *Agent) callLLM(ctx context.Context, conv []domain.Message, operations []domain.ToolSchema, iteration int) (*domain.ChatResponse, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.llm_call",
		trace.WithAttributes(
			tracer.StringAttr("provider", a.deps.LLM.Name()),
			tracer.IntAttr("iteration", iteration),
			tracer.IntAttr("messages", len(conv)),
		),
	)
	defer span.End()

	resp, err := a.deps.LLM.Chat(ctx, domain.ChatRequest{
		Model:     a.deps.Model,
		Messages:  conv,
		Tools:     operations,
		MaxTokens: a.deps.MaxTokens,
	})
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		tracer.RecordError(span, err)
		if !errors.Is(err, domain.ErrProviderError) {
			err = fmt.Errorf("%w: %w", domain.ErrProviderError, err)
		}
		return nil, domain.NewDomainError("Agent.HandleMessage", err, a.deps.LLM.Name())
	}

	a.deps.Logger.Debug("llm response",
		"iteration", iteration,
		"tool_calls", len(resp.Message.ToolCalls),
		"tokens", resp.Usage.TotalTokens,
	)
	tracer.SetOK(span)
	return resp, nil
}

// dispatch executes ungated calls and parks gated ones. It returns the calls
// that produced a result, their results in the same order, and the number of
// calls parked for approval.
func (a *Agent) dispatch(ctx context.Context, calls []domain.ToolCall, req domain.RequestContext) ([]domain.ToolCall, []domain.ToolResult, int) {
	threadKey := req.ThreadKey()
	var (
		done     []domain.ToolCall
		results  []domain.ToolResult
		deferred int
	)

	for _, call := range calls {
		gate := a.deps.Tools.Gate(call.Name, call.Arguments)

		if gate.Unassigned {
			a.deps.Logger.Warn("operation has no approval group", "operation", call.Name, "risk", gate.Risk)
			done = append(done, call)
			results = append(results, errorResult(call, fmt.Sprintf("%s is %s risk: %s", call.Name, gate.Risk, domain.ErrNoApprovalGroup)))
			continue
		}

		if !gate.Required() {
			result := a.deps.Tools.Execute(ctx, call)
			result.ToolCallID, result.Name = call.ID, call.Name
			a.deps.Logger.Info("tool executed", "operation", call.Name, "error", result.IsError)
			eventbus.Emit(ctx, a.deps.Bus, domain.EventToolExecuted, threadKey, domain.ToolExecutedPayload{
				Operation: call.Name,
				IsError:   result.IsError,
			})
			done = append(done, call)
			results = append(results, result)
			continue
		}

		if a.deps.Approvals == nil {
			done = append(done, call)
			results = append(results, errorResult(call, "operation requires approval but approvals are not configured"))
			continue
		}

		_, err := a.deps.Approvals.Request(ctx, call, req, gate)
		switch {
		case err == nil:
			deferred++
			eventbus.Emit(ctx, a.deps.Bus, domain.EventToolExecuted, threadKey, domain.ToolExecutedPayload{
				Operation: call.Name,
				Deferred:  true,
			})
		case errors.Is(err, domain.ErrApprovalGroupEmpty):
			a.deps.Logger.Warn("approval group empty", "group", gate.Group, "operation", call.Name)
			done = append(done, call)
			results = append(results, errorResult(call, render(a.deps.Messages.ApprovalGroupEmpty,
				"group", gate.Group,
				"operation", call.Name,
			)))
		default:
			a.deps.Logger.Error("approval request failed", "operation", call.Name, "error", err)
			done = append(done, call)
			results = append(results, errorResult(call, "could not request approval: "+err.Error()))
		}
	}
	return done, results, deferred
}

// withAwaiting appends the awaiting-approval note when calls were parked.
func (a *Agent) withAwaiting(text string, deferred int) string {
	if deferred == 0 {
		return text
	}
	return text + "\n\n" + render(a.deps.Messages.AwaitingApproval, "count", strconv.Itoa(deferred))
}

func (a *Agent) react(ctx context.Context, msg domain.InboundMessage, emoji string, add bool) {
	if emoji == "" {
		return
	}
	var err error
	if add {
		err = a.deps.Platform.AddReaction(ctx, msg.ChannelID, msg.ID, emoji)
	} else {
		err = a.deps.Platform.RemoveReaction(ctx, msg.ChannelID, msg.ID, emoji)
	}
	if err != nil {
		a.deps.Logger.Debug("reaction update failed", "emoji", emoji, "add", add, "error", err)
	}
}

func errorResult(call domain.ToolCall, content string) domain.ToolResult {
	return domain.ToolResult{ToolCallID: call.ID, Name: call.Name, Content: content, IsError: true}
}
