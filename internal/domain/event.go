package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventMessageReceived    EventType = "message.received"
	EventLLMRequest         EventType = "llm.request"
	EventLLMResponse        EventType = "llm.response"
	EventToolCallsRequested EventType = "tool.calls_requested"
	EventToolExecuted       EventType = "tool.executed"
	EventApprovalRequested  EventType = "approval.requested"
	EventApprovalGranted    EventType = "approval.granted"
	EventApprovalDenied     EventType = "approval.denied"
	EventApprovalExpired    EventType = "approval.expired"
	EventAgentReplied       EventType = "agent.replied"
	EventAgentError         EventType = "agent.error"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ThreadKey string          `json:"thread_key,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ToolExecutedPayload accompanies EventToolExecuted.
type ToolExecutedPayload struct {
	Operation string `json:"operation"`
	IsError   bool   `json:"is_error"`
	Deferred  bool   `json:"deferred,omitempty"`
}

// ApprovalPayload accompanies the approval.* events.
type ApprovalPayload struct {
	PendingID string    `json:"pending_id"`
	Operation string    `json:"operation"`
	Group     string    `json:"group"`
	Risk      RiskLevel `json:"risk"`
	UserID    string    `json:"user_id,omitempty"`
}

// LLMResponsePayload accompanies EventLLMResponse.
type LLMResponsePayload struct {
	Iteration int   `json:"iteration"`
	ToolCalls int   `json:"tool_calls"`
	Usage     Usage `json:"usage"`
}

// RepliedPayload accompanies EventAgentReplied and EventAgentError.
type RepliedPayload struct {
	State      string `json:"state"`
	Iterations int    `json:"iterations"`
	Executed   int    `json:"executed"`
	Deferred   int    `json:"deferred"`
	Usage      Usage  `json:"usage"`
	Error      string `json:"error,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
