package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Registry.Execute", ErrToolExecution, "jira_create_issue")
	want := "Registry.Execute: jira_create_issue: tool execution failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Agent.Handle", ErrMaxIterations, "")
	want := "Agent.Handle: agent reached max iterations"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Registry.Register", ErrDuplicateOperation, "create_issue")
	if !errors.Is(err, ErrDuplicateOperation) {
		t.Error("errors.Is should match ErrDuplicateOperation")
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Error("errors.Is should match the ErrDuplicate category")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := WrapOp("startup", NewDomainError("LLM.Get", ErrProviderNotFound, "groq"))
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "LLM.Get" {
		t.Errorf("Op = %q, want %q", de.Op, "LLM.Get")
	}
}

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeUnknownOperation, ErrorCodeOf(ErrUnknownOperation))
	assert.Equal(t, CodeDuplicateOperation, ErrorCodeOf(ErrDuplicateOperation))
	assert.Equal(t, CodeRateLimit, ErrorCodeOf(ErrRateLimit))
	assert.Equal(t, CodeNotFound, ErrorCodeOf(ErrNotFound))
}

func TestErrorCodeOf_DomainError(t *testing.T) {
	err := NewDomainError("Registry.Execute", ErrUnknownOperation, "nope")
	assert.Equal(t, CodeUnknownOperation, ErrorCodeOf(err))
}

func TestErrorCodeOf_WrappedSpecificBeatsCategory(t *testing.T) {
	wrapped := fmt.Errorf("sweep: %w", ErrApprovalTimeout)
	assert.Equal(t, CodeApprovalTimeout, ErrorCodeOf(wrapped))

	wrapped = WrapOp("chat", ErrCircuitOpen)
	assert.Equal(t, CodeCircuitOpen, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestDomainError_Code(t *testing.T) {
	assert.Equal(t, CodeApprovalGroupEmpty, NewDomainError("Agent.gate", ErrApprovalGroupEmpty, "admins").Code())
	assert.Equal(t, CodeUnknown, NewDomainError("Op", fmt.Errorf("custom"), "detail").Code())
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	inner := WrapOp("inner", ErrToolExecution)
	outer := WrapOp("outer", inner)
	assert.Equal(t, "outer: inner: tool execution failed", outer.Error())
	assert.True(t, errors.Is(outer, ErrToolExecution))
	assert.Equal(t, CodeToolExecution, ErrorCodeOf(outer))
}

func TestIsRetryableError(t *testing.T) {
	assert.True(t, IsRetryableError(ErrRateLimit))
	assert.True(t, IsRetryableError(WrapOp("approval", ErrApprovalTimeout)))
	assert.False(t, IsRetryableError(ErrAuthInvalid))
	assert.False(t, IsRetryableError(nil))
}
