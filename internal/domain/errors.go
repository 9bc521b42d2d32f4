package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Use with NewSubSystemError for subsystem-specific errors.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
	ErrRateLimit     = fmt.Errorf("rate limit exceeded")
	ErrCircuitOpen   = fmt.Errorf("circuit open")
)

// Sentinel errors for routing, delegation and tool execution.
var (
	ErrToolNotFound     = fmt.Errorf("tool not found")
	ErrAgentNotFound    = fmt.Errorf("agent not found")
	ErrAgentUnavailable = fmt.Errorf("agent not available")
	ErrToolExecution    = fmt.Errorf("tool execution failed")
	ErrPipelineStage    = fmt.Errorf("pipeline stage failed")
	ErrWorkflowNotFound = fmt.Errorf("workflow not found")
	ErrStoreUnavailable = fmt.Errorf("medication store unavailable")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Agent.UseTool")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "drugdb", "ocr"); used for ErrorCode dispatch
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

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
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
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrProviderError) || errors.Is(err, ErrCircuitOpen)
}

// ErrorCode is a machine-parseable error category for monitoring and API consumers.
type ErrorCode string

const (
	CodeUnknown          ErrorCode = "UNKNOWN"
	CodeToolNotFound     ErrorCode = "TOOL_NOT_FOUND"
	CodeAgentNotFound    ErrorCode = "AGENT_NOT_FOUND"
	CodeAgentUnavailable ErrorCode = "AGENT_UNAVAILABLE"
	CodeToolExecution    ErrorCode = "TOOL_EXECUTION"
	CodePipelineStage    ErrorCode = "PIPELINE_STAGE"
	CodeWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// Subsystem-specific codes resolved through subSystemCodeMap.
	CodeDrugSourceTimeout ErrorCode = "DRUG_SOURCE_TIMEOUT"
	CodeOCRTimeout        ErrorCode = "OCR_TIMEOUT"
	CodeWorkflowInvalid   ErrorCode = "WORKFLOW_INVALID"

	// Category codes, used when no subsystem-specific code matches.
	CodeNotFound      ErrorCode = "NOT_FOUND"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeInvalidInput  ErrorCode = "INVALID_INPUT"
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	CodeRateLimit     ErrorCode = "RATE_LIMIT"
	CodeCircuitOpen   ErrorCode = "CIRCUIT_OPEN"
)

var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:      CodeNotFound,
	ErrTimeout:       CodeTimeout,
	ErrInvalidInput:  CodeInvalidInput,
	ErrProviderError: CodeProviderError,
	ErrRateLimit:     CodeRateLimit,
	ErrCircuitOpen:   CodeCircuitOpen,

	ErrToolNotFound:     CodeToolNotFound,
	ErrAgentNotFound:    CodeAgentNotFound,
	ErrAgentUnavailable: CodeAgentUnavailable,
	ErrToolExecution:    CodeToolExecution,
	ErrPipelineStage:    CodePipelineStage,
	ErrWorkflowNotFound: CodeWorkflowNotFound,
	ErrStoreUnavailable: CodeStoreUnavailable,
}

type subSystemKey struct {
	subsystem string
	sentinel  error
}

var subSystemCodeMap = map[subSystemKey]ErrorCode{
	{"drugdb", ErrTimeout}:       CodeDrugSourceTimeout,
	{"ocr", ErrTimeout}:          CodeOCRTimeout,
	{"workflow", ErrInvalidInput}: CodeWorkflowInvalid,
}

// ErrorCodeOf returns the ErrorCode for err. Subsystem-tagged DomainErrors are
// checked first; otherwise the first sentinel in the chain decides.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}

	var de *DomainError
	if errors.As(err, &de) && de.SubSystem != "" {
		for key, code := range subSystemCodeMap {
			if key.subsystem == de.SubSystem && errors.Is(de.Err, key.sentinel) {
				return code
			}
		}
	}

	// Specific sentinels win over categories when both are in the chain.
	for _, sentinel := range []error{
		ErrToolNotFound, ErrAgentNotFound, ErrAgentUnavailable, ErrToolExecution,
		ErrPipelineStage, ErrWorkflowNotFound, ErrStoreUnavailable,
	} {
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
