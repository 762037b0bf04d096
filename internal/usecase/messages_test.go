package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	assert.Equal(t, "2 waiting", render("{count} waiting", "count", "2"))
	assert.Equal(t, "{unknown} stays", render("{unknown} stays", "count", "2"))
	assert.Equal(t, "plain", render("plain"))
	assert.Equal(t, "a-b", render("{x}-{y}", "x", "a", "y", "b"))
}

func TestMessagesWithDefaults(t *testing.T) {
	m := Messages{IterationLimit: "custom limit", Error: "   "}.withDefaults()
	d := DefaultMessages()

	assert.Equal(t, "custom limit", m.IterationLimit)
	assert.Equal(t, d.Error, m.Error)
	assert.Equal(t, d.PendingApproval, m.PendingApproval)
	assert.Equal(t, d.ApprovalRequest, m.ApprovalRequest)
	assert.Contains(t, d.IterationLimit, "rephrase")
}
