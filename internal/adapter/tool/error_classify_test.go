package tool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"warden/internal/domain"
)

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"timeout sentinel", domain.ErrTimeout, true},
		{"wrapped provider error", fmt.Errorf("jira: %w", domain.ErrProviderError), true},
		{"rate limit", domain.ErrRateLimit, true},
		{"api 503", &APIError{Service: "github", Status: 503}, true},
		{"api 429", &APIError{Service: "github", Status: 429}, true},
		{"api 404", &APIError{Service: "github", Status: 404}, false},
		{"api 401", &APIError{Service: "jira", Status: 401}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"deadline", errors.New("context deadline exceeded"), true},
		{"case insensitive", errors.New("Service Unavailable"), true},
		{"permanent", errors.New("'repo' is required"), false},
		{"invalid input", domain.ErrInvalidInput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyToolError(tt.err))
		})
	}
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{429, domain.ErrRateLimit},
		{401, domain.ErrAuthInvalid},
		{403, domain.ErrAuthInvalid},
		{404, domain.ErrNotFound},
		{400, domain.ErrInvalidInput},
		{422, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		err := &APIError{Service: "x", Status: tt.status}
		assert.ErrorIs(t, err, tt.want, "status %d", tt.status)
	}
	assert.Nil(t, (&APIError{Status: 500}).Unwrap())
}

func TestAPIErrorMessageTruncated(t *testing.T) {
	body := make([]byte, 500)
	for i := range body {
		body[i] = 'b'
	}
	err := &APIError{Service: "jira", Status: 500, Body: string(body)}
	assert.Contains(t, err.Error(), "jira API error (HTTP 500)")
	assert.Less(t, len(err.Error()), 400)
}
