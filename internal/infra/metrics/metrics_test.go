package metrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"warden/internal/domain"
	"warden/internal/infra/config"
	"warden/internal/infra/logger"
	"warden/internal/usecase/eventbus"
)

func event(t *testing.T, typ domain.EventType, payload any) domain.Event {
	t.Helper()
	e := domain.Event{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		e.Payload = raw
	}
	return e
}

func TestHandleToolOutcomes(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.Handle(ctx, event(t, domain.EventToolExecuted, domain.ToolExecutedPayload{Operation: "jira_get_issue"}))
	m.Handle(ctx, event(t, domain.EventToolExecuted, domain.ToolExecutedPayload{Operation: "jira_get_issue", IsError: true}))
	m.Handle(ctx, event(t, domain.EventToolExecuted, domain.ToolExecutedPayload{Operation: "jira_delete_issue", Deferred: true}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("jira_get_issue", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("jira_get_issue", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("jira_delete_issue", "deferred")))
}

func TestHandleApprovalLifecycle(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Handle(ctx, event(t, domain.EventApprovalRequested, domain.ApprovalPayload{PendingID: "p"}))
	}
	m.Handle(ctx, event(t, domain.EventApprovalGranted, domain.ApprovalPayload{PendingID: "p"}))
	m.Handle(ctx, event(t, domain.EventApprovalExpired, domain.ApprovalPayload{PendingID: "p"}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PendingApprovals))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsTotal.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsTotal.WithLabelValues("expired")))
}

func TestHandleLLMAndReplies(t *testing.T) {
	m := New(prometheus.NewRegistry())
	ctx := context.Background()

	m.Handle(ctx, event(t, domain.EventLLMResponse, domain.LLMResponsePayload{
		Iteration: 1,
		Usage:     domain.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}))
	m.Handle(ctx, event(t, domain.EventAgentReplied, domain.RepliedPayload{State: "completed", Iterations: 2}))
	m.Handle(ctx, event(t, domain.EventAgentError, domain.RepliedPayload{State: "failed", Iterations: 1}))
	// malformed payloads are ignored
	m.Handle(ctx, domain.Event{Type: domain.EventAgentReplied, Payload: json.RawMessage(`{`)})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.LLMCallsTotal))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("prompt")))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.TokensTotal.WithLabelValues("completion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepliesTotal.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RepliesTotal.WithLabelValues("failed")))
}

func TestSubscribeViaBus(t *testing.T) {
	m := New(prometheus.NewRegistry())
	bus := eventbus.New(logger.Discard())
	m.Subscribe(bus)

	bus.Publish(context.Background(), domain.Event{Type: domain.EventMessageReceived})
	bus.Close()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesTotal))
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.MessagesTotal.Inc()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := config.MetricsConfig{Addr: ":0", RequestsPerMin: 600, Burst: 10}
	srv := httptest.NewServer(Handler(ctx, cfg, reg, logger.Discard()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "warden_messages_received_total 1"), string(body))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok", string(body))
}
