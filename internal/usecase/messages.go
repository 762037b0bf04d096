package usecase

import (
	"strings"
)

// Messages are the user-facing reply templates. Placeholders use {name}
// syntax; unknown placeholders are left untouched.
type Messages struct {
	PendingApproval    string // {count}
	AwaitingApproval   string // {count}
	IterationLimit     string
	Error              string
	EmptyResponse      string
	ApprovalRequest    string // {mentions} {group} {operation} {risk} {arguments} {approve_emoji} {deny_emoji} {ttl}
	ApprovalGranted    string // {user} {operation} {result}
	ApprovalDenied     string // {user} {operation}
	ApprovalExpired    string // {operation}
	ApprovalGroupEmpty string // {group} {operation}
}

// DefaultMessages returns the built-in English templates.
func DefaultMessages() Messages {
	return Messages{
		PendingApproval:  "{count} operation(s) need approval before I can continue. I'll post the results here once they are approved.",
		AwaitingApproval: "_{count} operation(s) are awaiting approval._",
		IterationLimit:   "I couldn't finish this one within my step limit. Could you rephrase the question or break it into smaller parts?",
		Error:            "Sorry, something went wrong while handling your message. Please try again later.",
		EmptyResponse:    "I didn't come up with an answer for that. Could you give me a bit more detail?",
		ApprovalRequest: "{mentions} approval needed ({group}): *{operation}* [{risk}]\n" +
			"Arguments: `{arguments}`\nReact with :{approve_emoji}: to approve or :{deny_emoji}: to deny. Expires in {ttl}.",
		ApprovalGranted:    "Approved by <@{user}>. Result of *{operation}*:\n{result}",
		ApprovalDenied:     "*{operation}* was denied by <@{user}>.",
		ApprovalExpired:    "Approval for *{operation}* expired. The operation was cancelled.",
		ApprovalGroupEmpty: "Operation requires approval from group '{group}', but that group has no members.",
	}
}

// withDefaults fills empty templates from DefaultMessages.
func (m Messages) withDefaults() Messages {
	d := DefaultMessages()
	fill := func(dst *string, def string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = def
		}
	}
	fill(&m.PendingApproval, d.PendingApproval)
	fill(&m.AwaitingApproval, d.AwaitingApproval)
	fill(&m.IterationLimit, d.IterationLimit)
	fill(&m.Error, d.Error)
	fill(&m.EmptyResponse, d.EmptyResponse)
	fill(&m.ApprovalRequest, d.ApprovalRequest)
	fill(&m.ApprovalGranted, d.ApprovalGranted)
	fill(&m.ApprovalDenied, d.ApprovalDenied)
	fill(&m.ApprovalExpired, d.ApprovalExpired)
	fill(&m.ApprovalGroupEmpty, d.ApprovalGroupEmpty)
	return m
}

// render substitutes {key} placeholders in tmpl. kv alternates keys and values.
func render(tmpl string, kv ...string) string {
	if len(kv) == 0 {
		return tmpl
	}
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
