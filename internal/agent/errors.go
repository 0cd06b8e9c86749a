package agent

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the single error taxonomy shared by the orchestrator and the mesh
// fabric. Earlier iterations of this codebase split tool-execution and
// loop-lifecycle errors into two parallel schemes; one coherent engine gets
// one taxonomy.
type Kind string

const (
	// KindInvalidArgument is a contract violation at the API boundary.
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindOutOfMemory is arena or host allocator exhaustion.
	KindOutOfMemory Kind = "OUT_OF_MEMORY"
	// KindParseError is a JSON or response parse failure.
	KindParseError Kind = "PARSE_ERROR"
	// KindInvalidUTF8 is a non-conforming byte sequence where text was required.
	KindInvalidUTF8 Kind = "INVALID_UTF8"
	// KindNotFound is a lookup by name or id that produced no result.
	KindNotFound Kind = "NOT_FOUND"
	// KindMaxIterations is an agent loop that exceeded its configured cap.
	KindMaxIterations Kind = "MAX_ITERATIONS"
	// KindCallbackFailed is a user-provided callback that returned false or errored.
	KindCallbackFailed Kind = "CALLBACK_FAILED"
	// KindCancelled is `stop` observed or a cooperative generator aborting.
	KindCancelled Kind = "CANCELLED"
	// KindNetworkError is a transport or timeout failure.
	KindNetworkError Kind = "NETWORK_ERROR"
	// KindServerError is a remote end reporting failure.
	KindServerError Kind = "SERVER_ERROR"
	// KindRateLimited is relay throttling.
	KindRateLimited Kind = "RATE_LIMITED"
)

// IsRetryable reports whether an error of this kind suggests retrying the
// operation may succeed.
func (k Kind) IsRetryable() bool {
	switch k {
	case KindNetworkError, KindRateLimited:
		return true
	default:
		return false
	}
}

// Error is the structured error type returned across the orchestration core
// and mesh fabric.
type Error struct {
	Kind Kind

	// Detail is the short message carried by NETWORK_ERROR.
	// Code is the remote status/code carried by SERVER_ERROR.
	Detail string
	Code   string

	// Offset is the byte offset carried by PARSE_ERROR.
	Offset int

	Cause error
}

// New constructs an *Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Detail: message}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Kind))
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Offset != 0 {
		parts = append(parts, fmt.Sprintf("offset=%d", e.Offset))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error { return e.Cause }

// ParseError builds a KindParseError carrying the byte offset and message
// required for cancellation handling.
func ParseError(offset int, message string) *Error {
	return &Error{Kind: KindParseError, Offset: offset, Detail: message}
}

// NetworkError builds a KindNetworkError carrying a short detail message.
func NetworkError(detail string) *Error {
	return &Error{Kind: KindNetworkError, Detail: detail}
}

// ServerError builds a KindServerError carrying a remote code and detail.
func ServerError(code, detail string) *Error {
	return &Error{Kind: KindServerError, Code: code, Detail: detail}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Common sentinel errors used outside the Kind taxonomy for plain Go
// control flow (errors.Is checks against library-level conditions rather
// than orchestrator-level outcomes).
var (
	// ErrToolNotFound indicates a requested tool doesn't exist in a registry.
	ErrToolNotFound = errors.New("tool not found")
	// ErrAlreadyProcessing indicates Run was called concurrently on a State
	// that is already executing a run.
	ErrAlreadyProcessing = errors.New("run already in progress for this state")
)

// classifyNetworkErr maps a generic transport error's message to the
// network/server distinction used when a Backend doesn't already return a
// structured *Error (see providers/errors.go for the same string-pattern
// classification idiom).
func classifyNetworkErr(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return &Error{Kind: KindRateLimited, Detail: err.Error(), Cause: err}
	}
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection") || strings.Contains(msg, "refused") ||
		strings.Contains(msg, "unreachable") {
		return &Error{Kind: KindNetworkError, Detail: err.Error(), Cause: err}
	}
	return &Error{Kind: KindServerError, Detail: err.Error(), Cause: err}
}
