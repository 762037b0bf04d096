package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"warden/internal/domain"
	"warden/internal/infra/tracer"
	"warden/internal/usecase/eventbus"
)

const (
	maxArgumentPreview = 500
	maxResultPreview   = 3000
)

// ApprovalConfig configures the human approval workflow.
type ApprovalConfig struct {
	TTL           time.Duration
	ApproveEmoji  string
	DenyEmoji     string
	SweepSchedule string              // cron spec; empty disables the periodic sweep
	Groups        map[string][]string // group name → user IDs
	Messages      Messages
}

// ApprovalDeps holds the collaborators of the ApprovalManager.
type ApprovalDeps struct {
	Platform domain.Platform
	Tools    domain.ToolExecutor
	Bus      domain.EventBus  // optional
	Logger   *slog.Logger
	Now      func() time.Time // optional, defaults to time.Now
}

// ApprovalManager tracks gated tool calls until a group member reacts.
//
// Requests never block the orchestrator: the call is parked, a request is
// posted to the thread and the invocation moves on. Reactions, expiry
// and execution happen later. Every status transition and the removal of
// the entry from the store happen inside one critical section, so each
// pending operation executes at most once.
type ApprovalManager struct {
	cfg  ApprovalConfig
	deps ApprovalDeps

	mu      sync.Mutex
	pending map[string]*domain.PendingOperation // channelID:messageID → op
	entropy io.Reader                           // guarded by mu

	// Reactions that arrive while a request is being posted may target the
	// message before it is indexed. They are held in early until the post
	// returns and then replayed.
	posting int
	early   map[string][]domain.Reaction

	cron *cron.Cron
}

func NewApprovalManager(cfg ApprovalConfig, deps ApprovalDeps) *ApprovalManager {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	cfg.Messages = cfg.Messages.withDefaults()
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &ApprovalManager{
		cfg:     cfg,
		deps:    deps,
		pending: make(map[string]*domain.PendingOperation),
		early:   make(map[string][]domain.Reaction),
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Members returns the user IDs of group.
func (m *ApprovalManager) Members(group string) []string {
	return m.cfg.Groups[group]
}

// Request parks call behind gate.Group and posts the approval request into
// the thread of req. It returns the pending operation ID without waiting for
// a decision. A group without members yields ErrApprovalGroupEmpty and
// nothing is posted.
func (m *ApprovalManager) Request(ctx context.Context, call domain.ToolCall, req domain.RequestContext, gate domain.Gate) (string, error) {
	ctx, span := tracer.StartSpan(ctx, "approval.request",
		trace.WithAttributes(
			tracer.StringAttr("operation", call.Name),
			tracer.StringAttr("group", gate.Group),
		),
	)
	defer span.End()

	members := m.Members(gate.Group)
	if len(members) == 0 {
		err := domain.NewDomainError("ApprovalManager.Request", domain.ErrApprovalGroupEmpty, gate.Group)
		tracer.RecordError(span, err)
		return "", err
	}

	now := m.deps.Now()
	m.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), m.entropy).String()
	m.mu.Unlock()

	op := &domain.PendingOperation{
		ID:        id,
		Operation: call.Name,
		Arguments: call.Arguments,
		Request:   req,
		Group:     gate.Group,
		Members:   append([]string(nil), members...),
		Risk:      gate.Risk,
		CreatedAt: now,
		ExpiresAt: now.Add(m.cfg.TTL),
		Status:    domain.ApprovalPending,
	}

	text := render(m.cfg.Messages.ApprovalRequest,
		"mentions", mentions(members),
		"group", gate.Group,
		"operation", call.Name,
		"risk", string(gate.Risk),
		"arguments", previewArguments(call.Arguments),
		"approve_emoji", m.cfg.ApproveEmoji,
		"deny_emoji", m.cfg.DenyEmoji,
		"ttl", humanDuration(m.cfg.TTL),
	)
	m.mu.Lock()
	m.posting++
	m.mu.Unlock()

	msgID, err := m.deps.Platform.SendMessage(ctx, req.ChannelID, text, req.ThreadID)

	var early []domain.Reaction
	m.mu.Lock()
	m.posting--
	if err == nil {
		op.MessageID = msgID
		key := pendingKey(req.ChannelID, msgID)
		m.pending[key] = op
		early = m.early[key]
		delete(m.early, key)
	}
	if m.posting == 0 {
		clear(m.early)
	}
	m.mu.Unlock()

	if err != nil {
		tracer.RecordError(span, err)
		return "", domain.WrapOp("ApprovalManager.Request", err)
	}

	m.deps.Logger.Info("approval requested",
		"id", id,
		"operation", call.Name,
		"group", gate.Group,
		"risk", gate.Risk,
		"message_id", msgID,
	)
	m.publish(ctx, domain.EventApprovalRequested, op, "")
	tracer.SetOK(span)

	for _, r := range early {
		if err := m.ResolveReaction(ctx, r); err != nil {
			m.deps.Logger.Warn("early reaction failed", "id", id, "user", r.UserID, "error", err)
		}
	}
	return id, nil
}

type decision int

const (
	decisionNone decision = iota
	decisionApprove
	decisionDeny
	decisionExpire
)

// ResolveReaction applies a reaction to the pending operation it targets.
// Approve from a group member executes the operation and posts the result.
// Deny from a group member or the original requester cancels it. A reaction
// on an operation whose window has passed expires it. Everything else,
// including duplicate reactions, is ignored.
func (m *ApprovalManager) ResolveReaction(ctx context.Context, r domain.Reaction) error {
	if r.Emoji != m.cfg.ApproveEmoji && r.Emoji != m.cfg.DenyEmoji {
		return nil
	}

	op, d := m.decide(r)
	switch d {
	case decisionNone:
		return nil
	case decisionExpire:
		return m.notifyExpired(ctx, op)
	case decisionDeny:
		m.deps.Logger.Info("approval denied", "id", op.ID, "operation", op.Operation, "user", r.UserID)
		m.publish(ctx, domain.EventApprovalDenied, op, r.UserID)
		return m.post(ctx, op, render(m.cfg.Messages.ApprovalDenied,
			"user", r.UserID,
			"operation", op.Operation,
		))
	default:
		return m.execute(ctx, op, r.UserID)
	}
}

// decide looks up, checks and transitions the targeted entry under the
// lock. A returned op has already been removed from the store.
func (m *ApprovalManager) decide(r domain.Reaction) (*domain.PendingOperation, decision) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pendingKey(r.ChannelID, r.MessageID)
	op, ok := m.pending[key]
	if !ok && m.posting > 0 {
		m.early[key] = append(m.early[key], r)
		return nil, decisionNone
	}
	if !ok || op.Status != domain.ApprovalPending {
		return nil, decisionNone
	}

	var d decision
	switch {
	case op.Expired(m.deps.Now()):
		op.Status = domain.ApprovalExpired
		d = decisionExpire
	case r.Emoji == m.cfg.ApproveEmoji && op.IsMember(r.UserID):
		op.Status = domain.ApprovalApproved
		d = decisionApprove
	case r.Emoji == m.cfg.DenyEmoji && (op.IsMember(r.UserID) || r.UserID == op.Request.RequesterID):
		op.Status = domain.ApprovalDenied
		d = decisionDeny
	default:
		m.deps.Logger.Debug("reaction ignored", "id", op.ID, "user", r.UserID, "emoji", r.Emoji)
		return nil, decisionNone
	}

	delete(m.pending, key)
	return op, d
}

func (m *ApprovalManager) execute(ctx context.Context, op *domain.PendingOperation, approver string) error {
	ctx, span := tracer.StartSpan(ctx, "approval.resolve",
		trace.WithAttributes(
			tracer.StringAttr("operation", op.Operation),
			tracer.StringAttr("approver", approver),
		),
	)
	defer span.End()

	m.deps.Logger.Info("approval granted", "id", op.ID, "operation", op.Operation, "user", approver)
	m.publish(ctx, domain.EventApprovalGranted, op, approver)

	ctx = domain.ContextWithRequest(ctx, op.Request)
	result := m.deps.Tools.Execute(ctx, domain.ToolCall{
		ID:        op.ID,
		Name:      op.Operation,
		Arguments: op.Arguments,
	})
	eventbus.Emit(ctx, m.deps.Bus, domain.EventToolExecuted, op.Request.ThreadKey(), domain.ToolExecutedPayload{
		Operation: op.Operation,
		IsError:   result.IsError,
	})
	if result.IsError {
		m.deps.Logger.Warn("approved operation failed", "id", op.ID, "operation", op.Operation, "error", result.Content)
	}

	err := m.post(ctx, op, render(m.cfg.Messages.ApprovalGranted,
		"user", approver,
		"operation", op.Operation,
		"result", truncate(result.Content, maxResultPreview),
	))
	if err != nil {
		tracer.RecordError(span, err)
		return err
	}
	tracer.SetOK(span)
	return nil
}

// SweepExpired expires every pending operation whose window has passed and
// posts a notice for each. It returns the number of operations expired.
func (m *ApprovalManager) SweepExpired(ctx context.Context) int {
	now := m.deps.Now()

	m.mu.Lock()
	var expired []*domain.PendingOperation
	for key, op := range m.pending {
		if op.Status == domain.ApprovalPending && op.Expired(now) {
			op.Status = domain.ApprovalExpired
			delete(m.pending, key)
			expired = append(expired, op)
		}
	}
	m.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	for _, op := range expired {
		if err := m.notifyExpired(ctx, op); err != nil {
			m.deps.Logger.Warn("expiry notice failed", "id", op.ID, "error", err)
		}
	}
	return len(expired)
}

func (m *ApprovalManager) notifyExpired(ctx context.Context, op *domain.PendingOperation) error {
	m.deps.Logger.Info("approval expired", "id", op.ID, "operation", op.Operation)
	m.publish(ctx, domain.EventApprovalExpired, op, "")
	return m.post(ctx, op, render(m.cfg.Messages.ApprovalExpired, "operation", op.Operation))
}

// Pending returns a snapshot of the operations still waiting, oldest first.
func (m *ApprovalManager) Pending() []domain.PendingOperation {
	m.mu.Lock()
	out := make([]domain.PendingOperation, 0, len(m.pending))
	for _, op := range m.pending {
		out = append(out, *op)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start runs SweepExpired on the configured cron schedule until Stop.
func (m *ApprovalManager) Start(ctx context.Context) error {
	if m.cfg.SweepSchedule == "" {
		return nil
	}
	sched, err := cron.ParseStandard(m.cfg.SweepSchedule)
	if err != nil {
		return fmt.Errorf("approval sweep schedule %q: %w", m.cfg.SweepSchedule, err)
	}
	m.cron = cron.New()
	m.cron.Schedule(sched, cron.FuncJob(func() {
		sweepCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if n := m.SweepExpired(sweepCtx); n > 0 {
			m.deps.Logger.Info("approval sweep", "expired", n)
		}
	}))
	m.cron.Start()
	return nil
}

// Stop halts the sweep and waits for a running sweep to finish.
func (m *ApprovalManager) Stop() {
	if m.cron == nil {
		return
	}
	<-m.cron.Stop().Done()
}

func (m *ApprovalManager) post(ctx context.Context, op *domain.PendingOperation, text string) error {
	if _, err := m.deps.Platform.SendMessage(ctx, op.Request.ChannelID, text, op.Request.ThreadID); err != nil {
		return domain.WrapOp("ApprovalManager.post", err)
	}
	return nil
}

func (m *ApprovalManager) publish(ctx context.Context, t domain.EventType, op *domain.PendingOperation, user string) {
	eventbus.Emit(ctx, m.deps.Bus, t, op.Request.ThreadKey(), domain.ApprovalPayload{
		PendingID: op.ID,
		Operation: op.Operation,
		Group:     op.Group,
		Risk:      op.Risk,
		UserID:    user,
	})
}

func pendingKey(channelID, messageID string) string {
	return channelID + ":" + messageID
}

func mentions(userIDs []string) string {
	parts := make([]string, len(userIDs))
	for i, id := range userIDs {
		parts[i] = "<@" + id + ">"
	}
	return strings.Join(parts, " ")
}

func previewArguments(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Sprintf("%v", args)
	}
	return truncate(string(data), maxArgumentPreview)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}

// humanDuration prints 30m instead of 30m0s.
func humanDuration(d time.Duration) string {
	s := d.Round(time.Second).String()
	if strings.HasSuffix(s, "m0s") {
		s = strings.TrimSuffix(s, "0s")
	}
	if strings.HasSuffix(s, "h0m") {
		s = strings.TrimSuffix(s, "0m")
	}
	return s
}
