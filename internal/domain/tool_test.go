package domain

import (
	"errors"
	"testing"
	"time"
)

func TestApprovalRuleResolve(t *testing.T) {
	rule := ApprovalRule{
		Group:    "admins",
		Projects: map[string]string{"BETA": "", "OPS": "sre"},
	}

	tests := []struct {
		project string
		want    string
	}{
		{"BETA", ""},
		{"OPS", "sre"},
		{"ALPHA", "admins"},
		{"", "admins"},
	}
	for _, tt := range tests {
		if got := rule.Resolve(tt.project); got != tt.want {
			t.Errorf("Resolve(%q) = %q, want %q", tt.project, got, tt.want)
		}
	}
}

func TestApprovalRuleOverride(t *testing.T) {
	rule := ApprovalRule{Projects: map[string]string{"BETA": ""}}

	group, ok := rule.Override("BETA")
	if !ok || group != "" {
		t.Errorf("Override(BETA) = (%q, %v), want explicit none", group, ok)
	}
	if _, ok := rule.Override("ALPHA"); ok {
		t.Error("Override(ALPHA) should not exist")
	}
	if _, ok := rule.Override(""); ok {
		t.Error("empty project key never matches an override")
	}
}

func TestApprovalRuleOverride_CaseInsensitive(t *testing.T) {
	rule := ApprovalRule{Group: "admins", Projects: map[string]string{"beta": "", "Ops": "sre"}}

	if got := rule.Resolve("BETA"); got != "" {
		t.Errorf("Resolve(BETA) = %q, want explicit none from lower-case key", got)
	}
	if got := rule.Resolve("OPS"); got != "sre" {
		t.Errorf("Resolve(OPS) = %q, want sre", got)
	}
	if got := rule.Resolve("ALPHA"); got != "admins" {
		t.Errorf("Resolve(ALPHA) = %q, want admins", got)
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    RiskLevel
		wantErr bool
	}{
		{"", RiskMinor, false},
		{"MINOR", RiskMinor, false},
		{"moderate", RiskModerate, false},
		{" High ", RiskHigh, false},
		{"critical", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRiskLevel(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParseRiskLevel(%q) err = %v, want ErrInvalidInput", tt.in, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("ParseRiskLevel(%q) = (%q, %v), want %q", tt.in, got, err, tt.want)
		}
	}
}

func TestGateRequired(t *testing.T) {
	if (Gate{Operation: "search"}).Required() {
		t.Error("gate without group should not require approval")
	}
	if !(Gate{Operation: "delete_issue", Group: "admins"}).Required() {
		t.Error("gate with group should require approval")
	}
	if (Gate{Operation: "delete_issue", Risk: RiskHigh, Unassigned: true}).Required() {
		t.Error("unassigned gate has no group to park on")
	}
}

func TestPendingOperation(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	p := &PendingOperation{
		Members:   []string{"U1", "U2"},
		ExpiresAt: now.Add(time.Minute),
		Status:    ApprovalPending,
	}

	if p.Expired(now) {
		t.Error("should not be expired before deadline")
	}
	if !p.Expired(now.Add(2 * time.Minute)) {
		t.Error("should be expired after deadline")
	}
	if !p.IsMember("U2") || p.IsMember("U3") {
		t.Error("membership check mismatch")
	}
	if p.Status.Terminal() {
		t.Error("pending is not terminal")
	}
	for _, s := range []ApprovalStatus{ApprovalApproved, ApprovalDenied, ApprovalExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}

func TestReplyThread(t *testing.T) {
	if got := (InboundMessage{ID: "m1"}).ReplyThread(); got != "m1" {
		t.Errorf("ReplyThread() = %q, want m1", got)
	}
	if got := (InboundMessage{ID: "m2", ThreadID: "t1"}).ReplyThread(); got != "t1" {
		t.Errorf("ReplyThread() = %q, want t1", got)
	}
}

func TestUsageAdd(t *testing.T) {
	u := Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	got := u.Add(Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5})
	if got != (Usage{PromptTokens: 13, CompletionTokens: 7, TotalTokens: 20}) {
		t.Errorf("Add = %+v", got)
	}
}
