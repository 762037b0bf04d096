package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"warden/internal/domain"
)

// --- Mocks ---

type sentMessage struct {
	ChannelID string
	ThreadID  string
	Text      string
	ID        string
}

type reactionCall struct {
	MessageID string
	Emoji     string
	Add       bool
}

type mockPlatform struct {
	mu         sync.Mutex
	botID      string
	sent       []sentMessage
	reactions  []reactionCall
	history    []domain.ThreadMessage
	historyErr error
	sendErr    error
	nextID     int
	onSend     func(channelID, messageID string) // runs after the message is stored, before SendMessage returns
}

func newMockPlatform() *mockPlatform {
	return &mockPlatform{botID: "BOT"}
}

func (p *mockPlatform) Name() string      { return "mock" }
func (p *mockPlatform) BotUserID() string { return p.botID }

func (p *mockPlatform) SendMessage(_ context.Context, channelID, text, threadID string) (string, error) {
	p.mu.Lock()
	if p.sendErr != nil {
		p.mu.Unlock()
		return "", p.sendErr
	}
	p.nextID++
	id := fmt.Sprintf("m%d", p.nextID)
	p.sent = append(p.sent, sentMessage{ChannelID: channelID, ThreadID: threadID, Text: text, ID: id})
	hook := p.onSend
	p.mu.Unlock()

	if hook != nil {
		hook(channelID, id)
	}
	return id, nil
}

func (p *mockPlatform) AddReaction(_ context.Context, _, messageID, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactions = append(p.reactions, reactionCall{MessageID: messageID, Emoji: emoji, Add: true})
	return nil
}

func (p *mockPlatform) RemoveReaction(_ context.Context, _, messageID, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactions = append(p.reactions, reactionCall{MessageID: messageID, Emoji: emoji, Add: false})
	return nil
}

func (p *mockPlatform) GetThreadMessages(_ context.Context, _, _ string) ([]domain.ThreadMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.historyErr != nil {
		return nil, p.historyErr
	}
	return append([]domain.ThreadMessage(nil), p.history...), nil
}

func (p *mockPlatform) OnMessage(domain.MessageHandler)   {}
func (p *mockPlatform) OnReaction(domain.ReactionHandler) {}
func (p *mockPlatform) Start(context.Context) error       { return nil }
func (p *mockPlatform) Stop(context.Context) error        { return nil }

func (p *mockPlatform) Sent() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

func (p *mockPlatform) Reactions() []reactionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]reactionCall(nil), p.reactions...)
}

// mockLLM replays scripted responses. An entry with a non-nil err fails
// that call.
type mockLLM struct {
	mu       sync.Mutex
	script   []llmStep
	requests []domain.ChatRequest
}

type llmStep struct {
	resp *domain.ChatResponse
	err  error
}

func (m *mockLLM) Chat(_ context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.Messages = append([]domain.Message(nil), req.Messages...)
	m.requests = append(m.requests, req)
	idx := len(m.requests) - 1
	if idx >= len(m.script) {
		return textResponse("fallback", 1), nil
	}
	return m.script[idx].resp, m.script[idx].err
}

func (m *mockLLM) Name() string { return "mock" }

func (m *mockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockLLM) Request(i int) domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func textResponse(text string, tokens int) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, Content: text},
		Usage:   domain.Usage{PromptTokens: tokens, CompletionTokens: tokens, TotalTokens: 2 * tokens},
	}
}

func toolUseResponse(tokens int, calls ...domain.ToolCall) *domain.ChatResponse {
	return &domain.ChatResponse{
		Message: domain.Message{Role: domain.RoleAssistant, ToolCalls: calls},
		Usage:   domain.Usage{PromptTokens: tokens, CompletionTokens: tokens, TotalTokens: 2 * tokens},
	}
}

func call(id, name string) domain.ToolCall {
	return domain.ToolCall{ID: id, Name: name, Arguments: map[string]any{"key": id}}
}

// mockTools is a ToolExecutor with static gates and results.
type mockTools struct {
	mu       sync.Mutex
	ops      []domain.ToolSchema
	gates    map[string]string // operation → group
	failing  map[string]bool
	executed []domain.ToolCall
	ctxReqs  []domain.RequestContext
}

func newMockTools(names ...string) *mockTools {
	t := &mockTools{gates: map[string]string{}, failing: map[string]bool{}}
	for _, n := range names {
		t.ops = append(t.ops, domain.ToolSchema{Name: n, Description: n})
	}
	return t
}

func (t *mockTools) Operations() []domain.ToolSchema { return t.ops }

func (t *mockTools) Gate(operation string, _ map[string]any) domain.Gate {
	return domain.Gate{Operation: operation, Group: t.gates[operation], Risk: domain.RiskMinor}
}

func (t *mockTools) Execute(ctx context.Context, c domain.ToolCall) domain.ToolResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed = append(t.executed, c)
	if req, ok := domain.RequestFromContext(ctx); ok {
		t.ctxReqs = append(t.ctxReqs, req)
	}
	if t.failing[c.Name] {
		return domain.ToolResult{ToolCallID: c.ID, Name: c.Name, Content: "boom", IsError: true}
	}
	return domain.ToolResult{ToolCallID: c.ID, Name: c.Name, Content: "result of " + c.Name}
}

func (t *mockTools) Executed() []domain.ToolCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ToolCall(nil), t.executed...)
}

// fakeClock is a settable clock for approval expiry tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
