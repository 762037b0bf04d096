package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrDuplicate     = fmt.Errorf("duplicate")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound   = fmt.Errorf("llm provider not found")
	ErrPlatformNotFound   = fmt.Errorf("platform not found")
	ErrDuplicateOperation = fmt.Errorf("operation already registered: %w", ErrDuplicate)
	ErrDuplicateTool      = fmt.Errorf("tool already registered: %w", ErrDuplicate)
	ErrUnknownOperation   = fmt.Errorf("unknown operation: %w", ErrNotFound)
	ErrToolExecution      = fmt.Errorf("tool execution failed")
	ErrRegistryFrozen     = fmt.Errorf("tool registry is frozen")
	ErrMaxIterations      = fmt.Errorf("agent reached max iterations")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")

	// Approval lifecycle.
	ErrApprovalNotFound   = fmt.Errorf("pending operation not found: %w", ErrNotFound)
	ErrApprovalDenied     = fmt.Errorf("operation approval denied")
	ErrApprovalTimeout    = fmt.Errorf("operation approval timed out: %w", ErrTimeout)
	ErrApprovalGroupEmpty = fmt.Errorf("approval group has no members")
	ErrNoApprovalGroup    = fmt.Errorf("no approval group configured")

	// Resilience errors.
	ErrRateLimit   = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid = fmt.Errorf("authentication failed")
	ErrCircuitOpen = fmt.Errorf("circuit breaker open: %w", ErrProviderError)
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown            ErrorCode = "UNKNOWN"
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeDuplicate          ErrorCode = "DUPLICATE"
	CodeTimeout            ErrorCode = "TIMEOUT"
	CodeInvalidInput       ErrorCode = "INVALID_INPUT"
	CodeProviderError      ErrorCode = "PROVIDER_ERROR"
	CodeProviderNotFound   ErrorCode = "PROVIDER_NOT_FOUND"
	CodePlatformNotFound   ErrorCode = "PLATFORM_NOT_FOUND"
	CodeDuplicateOperation ErrorCode = "DUPLICATE_OPERATION"
	CodeDuplicateTool      ErrorCode = "DUPLICATE_TOOL"
	CodeUnknownOperation   ErrorCode = "UNKNOWN_OPERATION"
	CodeToolExecution      ErrorCode = "TOOL_EXECUTION"
	CodeRegistryFrozen     ErrorCode = "REGISTRY_FROZEN"
	CodeMaxIterations      ErrorCode = "MAX_ITERATIONS"
	CodeConfigLoad         ErrorCode = "CONFIG_LOAD"
	CodeApprovalNotFound   ErrorCode = "APPROVAL_NOT_FOUND"
	CodeApprovalDenied     ErrorCode = "APPROVAL_DENIED"
	CodeApprovalTimeout    ErrorCode = "APPROVAL_TIMEOUT"
	CodeApprovalGroupEmpty ErrorCode = "APPROVAL_GROUP_EMPTY"
	CodeNoApprovalGroup    ErrorCode = "NO_APPROVAL_GROUP"
	CodeRateLimit          ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid        ErrorCode = "AUTH_INVALID"
	CodeCircuitOpen        ErrorCode = "CIRCUIT_OPEN"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
// Specific sentinels wrap category sentinels, so lookups must try the
// specific ones first (see specificSentinels).
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrDuplicate:     CodeDuplicate,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,

	ErrProviderNotFound:   CodeProviderNotFound,
	ErrPlatformNotFound:   CodePlatformNotFound,
	ErrDuplicateOperation: CodeDuplicateOperation,
	ErrDuplicateTool:      CodeDuplicateTool,
	ErrUnknownOperation:   CodeUnknownOperation,
	ErrToolExecution:      CodeToolExecution,
	ErrRegistryFrozen:     CodeRegistryFrozen,
	ErrMaxIterations:      CodeMaxIterations,
	ErrConfigLoad:         CodeConfigLoad,
	ErrApprovalNotFound:   CodeApprovalNotFound,
	ErrApprovalDenied:     CodeApprovalDenied,
	ErrApprovalTimeout:    CodeApprovalTimeout,
	ErrApprovalGroupEmpty: CodeApprovalGroupEmpty,
	ErrNoApprovalGroup:    CodeNoApprovalGroup,
	ErrRateLimit:          CodeRateLimit,
	ErrAuthInvalid:        CodeAuthInvalid,
	ErrCircuitOpen:        CodeCircuitOpen,
}

var specificSentinels = []error{
	ErrDuplicateOperation,
	ErrDuplicateTool,
	ErrUnknownOperation,
	ErrApprovalNotFound,
	ErrApprovalTimeout,
	ErrCircuitOpen,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for _, sentinel := range specificSentinels {
		if errors.Is(err, sentinel) {
			return errorCodeMap[sentinel]
		}
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	return ErrorCodeOf(e.Err)
}
