package scheduler

import (
	"errors"
	"fmt"
	"net/http"

	"llamacore/pkg/types"
)

// Kind classifies scheduler failures.
type Kind int

const (
	KindInvalidRequest Kind = iota + 1
	KindExceedsContext
	KindNotSupported
	KindUnavailable
	KindEngineFailure
	// KindCancelled is internal: the caller went away. It is never written
	// to a sink.
	KindCancelled
)

// Error is the single error type produced by the scheduler. Validation
// failures and failed engine results share it, so callers see one envelope.
type Error struct {
	Kind    Kind
	Message string
	// Set for KindExceedsContext.
	NPromptTokens int
	NCtx          int
}

func (e *Error) Error() string { return e.Message }

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindInvalidRequest, KindExceedsContext:
		return http.StatusBadRequest
	case KindNotSupported:
		return http.StatusNotImplemented
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Type is the envelope "type" string.
func (e *Error) Type() string {
	switch e.Kind {
	case KindInvalidRequest:
		return "invalid_request_error"
	case KindExceedsContext:
		return "exceed_context_size_error"
	case KindNotSupported:
		return "not_supported_error"
	case KindUnavailable:
		return "unavailable_error"
	default:
		return "server_error"
	}
}

// Response renders the error envelope.
func (e *Error) Response() types.ErrorResponse {
	return types.ErrorResponse{Error: types.ErrorBody{
		Code:          e.StatusCode(),
		Message:       e.Message,
		Type:          e.Type(),
		NPromptTokens: e.NPromptTokens,
		NCtx:          e.NCtx,
	}}
}

func newError(k Kind, format string, args ...any) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func invalidRequest(format string, args ...any) *Error {
	return newError(KindInvalidRequest, format, args...)
}

func exceedsContext(nPrompt, nCtx int) *Error {
	return &Error{
		Kind:          KindExceedsContext,
		Message:       "the request exceeds the available context size, try increasing it",
		NPromptTokens: nPrompt,
		NCtx:          nCtx,
	}
}

var (
	errStopped   = &Error{Kind: KindUnavailable, Message: "engine is not running"}
	errShutdown  = &Error{Kind: KindUnavailable, Message: "engine stopped"}
	errCancelled = &Error{Kind: KindCancelled, Message: "request cancelled"}
)

// ErrAlreadyRunning is returned by Start on a running scheduler.
var ErrAlreadyRunning = errors.New("engine already running")

// ErrNotRunning is returned by Stop on a stopped scheduler.
var ErrNotRunning = errors.New("engine not running")

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func isKind(err error, k Kind) bool {
	got, ok := kindOf(err)
	return ok && got == k
}

// AsError extracts a scheduler Error from err.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// ErrorFor returns err as a scheduler Error. Errors from outside the
// taxonomy are engine failures.
func ErrorFor(err error) *Error {
	if e, ok := AsError(err); ok {
		return e
	}
	return &Error{Kind: KindEngineFailure, Message: err.Error()}
}

func IsInvalidRequest(err error) bool { return isKind(err, KindInvalidRequest) }
func IsExceedsContext(err error) bool { return isKind(err, KindExceedsContext) }
func IsNotSupported(err error) bool   { return isKind(err, KindNotSupported) }
func IsUnavailable(err error) bool    { return isKind(err, KindUnavailable) }
func IsEngineFailure(err error) bool  { return isKind(err, KindEngineFailure) }
func IsCancelled(err error) bool      { return isKind(err, KindCancelled) }
