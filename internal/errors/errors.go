package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the category of an investigation error. The kind decides the
// propagation policy: local kinds are recorded and execution continues,
// fatal kinds terminate the investigation.
type Kind int

const (
	// KindInvalidFormat - entity normalization rejected the raw value.
	KindInvalidFormat Kind = iota
	// KindAnalyzerFailure - a domain analyzer raised; becomes evidence.
	KindAnalyzerFailure
	// KindInsufficientDataWindowA - window A resolved to zero transactions.
	KindInsufficientDataWindowA
	// KindInsufficientDataWindowB - window B resolved to zero transactions.
	KindInsufficientDataWindowB
	// KindInsufficientDataBothWindows - both comparison windows empty.
	KindInsufficientDataBothWindows
	// KindWarehouseUnavailable - warehouse query failed or pool is down.
	KindWarehouseUnavailable
	// KindTimeout - an external call exceeded its deadline.
	KindTimeout
	// KindTooManyRows - result count exceeded the gateway safety factor.
	KindTooManyRows
	// KindLLMContextLengthExceeded - prompt exceeded the model context.
	KindLLMContextLengthExceeded
	// KindLLMModelNotFound - the configured model does not exist.
	KindLLMModelNotFound
	// KindLLMAPIError - any other LLM transport or API failure.
	KindLLMAPIError
	// KindRecursionLimit - the orchestrator hit its iteration cap.
	KindRecursionLimit
	// KindCancelled - the request scope was cancelled.
	KindCancelled
	// KindNoAnalysisData - confidence requested with zero real factors.
	KindNoAnalysisData
	// KindConfig - missing or invalid configuration.
	KindConfig
	// KindInternal - unexpected internal state.
	KindInternal
)

// Error is a structured investigation error with a kind and context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can use errors.Is with sentinel values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Fatal reports whether this error must terminate the investigation.
// The analyzer-failure-becomes-evidence rule is the sole recovery path;
// everything else listed fatal in the taxonomy stays fatal.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindWarehouseUnavailable, KindTimeout,
		KindLLMContextLengthExceeded, KindLLMModelNotFound, KindLLMAPIError,
		KindRecursionLimit, KindCancelled, KindInternal:
		return true
	}
	return false
}

// Category returns the stable string code surfaced in responses and logs.
func (e *Error) Category() string {
	return kindString(e.Kind)
}

func kindString(k Kind) string {
	switch k {
	case KindInvalidFormat:
		return "INVALID_FORMAT"
	case KindAnalyzerFailure:
		return "ANALYZER_FAILURE"
	case KindInsufficientDataWindowA:
		return "INSUFFICIENT_DATA_WINDOW_A"
	case KindInsufficientDataWindowB:
		return "INSUFFICIENT_DATA_WINDOW_B"
	case KindInsufficientDataBothWindows:
		return "INSUFFICIENT_DATA_BOTH_WINDOWS"
	case KindWarehouseUnavailable:
		return "WAREHOUSE_UNAVAILABLE"
	case KindTimeout:
		return "TIMEOUT"
	case KindTooManyRows:
		return "TOO_MANY_ROWS"
	case KindLLMContextLengthExceeded:
		return "LLM_CONTEXT_LENGTH_EXCEEDED"
	case KindLLMModelNotFound:
		return "LLM_MODEL_NOT_FOUND"
	case KindLLMAPIError:
		return "LLM_API_ERROR"
	case KindRecursionLimit:
		return "RECURSION_LIMIT"
	case KindCancelled:
		return "CANCELLED"
	case KindNoAnalysisData:
		return "NO_ANALYSIS_DATA"
	case KindConfig:
		return "CONFIG"
	case KindInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// DetailedString renders the error with its context for process logs.
func (e *Error) DetailedString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Category(), e.Message))
	if e.Cause != nil {
		sb.WriteString(fmt.Sprintf(" (caused by: %v)", e.Cause))
	}
	for k, v := range e.Context {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, v))
	}
	return sb.String()
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error under a kind. Returns nil for nil input.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf wraps with formatting.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// IsKind reports whether err (anywhere in its chain) has the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind extracts the kind from err, defaulting to KindInternal.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsFatal reports whether err must terminate the investigation. Unknown
// error values are treated as fatal; the only survivable failures are the
// ones the taxonomy names.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return true
}
