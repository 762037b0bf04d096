package domain

import "time"

// ApprovalStatus is the lifecycle state of a pending operation.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExpired  ApprovalStatus = "expired"
)

// Terminal reports whether no further transition is allowed.
func (s ApprovalStatus) Terminal() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalExpired
}

// RequestContext identifies where and by whom a tool call was requested.
type RequestContext struct {
	Platform      string `json:"platform"`
	ChannelID     string `json:"channel_id"`
	ThreadID      string `json:"thread_id"`
	MessageID     string `json:"message_id"`
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name,omitempty"`
}

// ThreadKey identifies the conversation thread of the request.
func (r RequestContext) ThreadKey() string {
	return r.ChannelID + ":" + r.ThreadID
}

// PendingOperation is a gated tool call waiting for a human decision.
type PendingOperation struct {
	ID        string         `json:"id"`
	Operation string         `json:"operation"`
	Arguments map[string]any `json:"arguments"`
	Request   RequestContext `json:"request"`
	Group     string         `json:"group"`
	Members   []string       `json:"members"`
	Risk      RiskLevel      `json:"risk"`
	MessageID string         `json:"message_id"`
	CreatedAt time.Time      `json:"created_at"`
	ExpiresAt time.Time      `json:"expires_at"`
	Status    ApprovalStatus `json:"status"`
}

// Expired reports whether the approval window has passed at now.
func (p *PendingOperation) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// IsMember reports whether userID may approve the operation.
func (p *PendingOperation) IsMember(userID string) bool {
	for _, m := range p.Members {
		if m == userID {
			return true
		}
	}
	return false
}
