// Package metrics exposes Prometheus counters fed by the event bus.
package metrics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"warden/internal/domain"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	MessagesTotal    prometheus.Counter
	LLMCallsTotal    prometheus.Counter
	TokensTotal      *prometheus.CounterVec
	ToolCallsTotal   *prometheus.CounterVec
	ApprovalsTotal   *prometheus.CounterVec
	PendingApprovals prometheus.Gauge
	RepliesTotal     *prometheus.CounterVec
	ReplyIterations  prometheus.Histogram
	UptimeSeconds    prometheus.GaugeFunc
	startTime        time.Time
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	m.MessagesTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "warden_messages_received_total",
		Help: "Chat messages that addressed the bot",
	})
	m.LLMCallsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "warden_llm_calls_total",
		Help: "Completed LLM chat calls",
	})
	m.TokensTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_llm_tokens_total",
		Help: "LLM tokens consumed",
	}, []string{"kind"})
	m.ToolCallsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_tool_calls_total",
		Help: "Tool operations by outcome",
	}, []string{"operation", "outcome"})
	m.ApprovalsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_approvals_total",
		Help: "Approval requests by final status",
	}, []string{"status"})
	m.PendingApprovals = f.NewGauge(prometheus.GaugeOpts{
		Name: "warden_approvals_pending",
		Help: "Approval requests currently waiting for a reaction",
	})
	m.RepliesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "warden_replies_total",
		Help: "Orchestrator runs by terminal state",
	}, []string{"state"})
	m.ReplyIterations = f.NewHistogram(prometheus.HistogramOpts{
		Name:    "warden_reply_iterations",
		Help:    "LLM iterations needed per reply",
		Buckets: []float64{1, 2, 3, 5, 8, 12, 15, 20},
	})
	m.UptimeSeconds = f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "warden_uptime_seconds",
		Help: "Seconds since the process started",
	}, func() float64 { return time.Since(m.startTime).Seconds() })

	return m
}

// Subscribe attaches the collector to bus. The returned func detaches it.
func (m *Metrics) Subscribe(bus domain.EventBus) func() {
	return bus.SubscribeAll(m.Handle)
}

// Handle updates collectors for a single event.
func (m *Metrics) Handle(_ context.Context, e domain.Event) {
	switch e.Type {
	case domain.EventMessageReceived:
		m.MessagesTotal.Inc()

	case domain.EventLLMResponse:
		var p domain.LLMResponsePayload
		if decode(e, &p) {
			m.LLMCallsTotal.Inc()
			m.TokensTotal.WithLabelValues("prompt").Add(float64(p.Usage.PromptTokens))
			m.TokensTotal.WithLabelValues("completion").Add(float64(p.Usage.CompletionTokens))
		}

	case domain.EventToolExecuted:
		var p domain.ToolExecutedPayload
		if decode(e, &p) {
			outcome := "ok"
			switch {
			case p.Deferred:
				outcome = "deferred"
			case p.IsError:
				outcome = "error"
			}
			m.ToolCallsTotal.WithLabelValues(p.Operation, outcome).Inc()
		}

	case domain.EventApprovalRequested:
		m.PendingApprovals.Inc()
	case domain.EventApprovalGranted:
		m.resolved(string(domain.ApprovalApproved))
	case domain.EventApprovalDenied:
		m.resolved(string(domain.ApprovalDenied))
	case domain.EventApprovalExpired:
		m.resolved(string(domain.ApprovalExpired))

	case domain.EventAgentReplied, domain.EventAgentError:
		var p domain.RepliedPayload
		if decode(e, &p) {
			m.RepliesTotal.WithLabelValues(p.State).Inc()
			m.ReplyIterations.Observe(float64(p.Iterations))
		}
	}
}

func (m *Metrics) resolved(status string) {
	m.PendingApprovals.Dec()
	m.ApprovalsTotal.WithLabelValues(status).Inc()
}

func decode(e domain.Event, v any) bool {
	if len(e.Payload) == 0 {
		return false
	}
	return json.Unmarshal(e.Payload, v) == nil
}
