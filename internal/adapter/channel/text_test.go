package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanMentions(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<@U123> deploy   please", "deploy please"},
		{"hey <@!456>, status?", "hey , status?"},
		{"", ""},
		{"no mentions", "no mentions"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanMentions(tt.in), tt.in)
	}
}
