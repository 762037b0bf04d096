package llm

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"warden/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockProvider struct {
	name     string
	chatFunc func(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error)

	mu    sync.Mutex
	calls []domain.ChatRequest
}

func (m *mockProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if m.chatFunc != nil {
		return m.chatFunc(ctx, req)
	}
	return &domain.ChatResponse{Message: domain.Message{Role: domain.RoleAssistant, Content: m.name}}, nil
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func failingProvider(name string, err error) *mockProvider {
	return &mockProvider{
		name: name,
		chatFunc: func(context.Context, domain.ChatRequest) (*domain.ChatResponse, error) {
			return nil, err
		},
	}
}
