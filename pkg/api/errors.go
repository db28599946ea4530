package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/networktap/networktap/pkg/auth"
	"github.com/networktap/networktap/pkg/capture"
	"github.com/networktap/networktap/pkg/config"
	"github.com/networktap/networktap/pkg/host"
	"github.com/networktap/networktap/pkg/mode"
	"github.com/networktap/networktap/pkg/tail"
)

// Kind is the error category surfaced to clients. The UI renders it as
// a badge and derives retry guidance from it.
type Kind string

const (
	KindInvalidConfig     Kind = "InvalidConfig"
	KindUnauthenticated   Kind = "Unauthenticated"
	KindForbidden         Kind = "Forbidden"
	KindNotFound          Kind = "NotFound"
	KindConflict          Kind = "Conflict"
	KindValidation        Kind = "ValidationError"
	KindSourceUnavailable Kind = "SourceUnavailable"
	KindExternalCommand   Kind = "ExternalCommand"
	KindIOFailure         Kind = "IOFailure"
	KindThrottled         Kind = "Throttled"
	KindInternal          Kind = "Internal"
)

// Error is a classified API failure. Handlers either return one
// directly or let classify derive it from a component error.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`

	status int
	cause  error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.cause }

// Status maps the kind to its HTTP status code.
func (e *Error) Status() int {
	if e.status != 0 {
		return e.status
	}
	return statusFor(e.Kind)
}

func statusFor(k Kind) int {
	switch k {
	case KindValidation, KindInvalidConfig:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindThrottled:
		return http.StatusTooManyRequests
	case KindSourceUnavailable:
		return http.StatusServiceUnavailable
	case KindExternalCommand, KindIOFailure:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Errf builds a classified error with a client-facing message.
func Errf(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// WithDetails attaches structured detail to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// classify maps component errors onto API error kinds. Unknown errors
// become Internal with a generic message; the cause is logged, not
// leaked.
func classify(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}

	var cfgErr *config.InvalidConfigError
	switch {
	case errors.As(err, &cfgErr):
		e := Errf(KindInvalidConfig, cfgErr.Error())
		if cfgErr.Key != "" {
			e.Details = map[string]string{"key": cfgErr.Key}
		}
		e.cause = err
		return e
	case errors.Is(err, auth.ErrUnauthenticated):
		return &Error{Kind: KindUnauthenticated, Message: "authentication required", cause: err}
	case errors.Is(err, host.ErrPathEscapes):
		return &Error{Kind: KindForbidden, Message: "path outside allowed root", cause: err}
	case errors.Is(err, capture.ErrAlreadyRunning):
		return &Error{Kind: KindConflict, Message: "capture already running", cause: err}
	case errors.Is(err, mode.ErrBusy):
		return &Error{Kind: KindConflict, Message: "mode transition in progress", cause: err}
	case errors.Is(err, mode.ErrDegraded):
		return &Error{Kind: KindConflict, Message: "mode controller degraded, manual intervention required", cause: err}
	case errors.Is(err, tail.ErrUnavailable):
		return &Error{Kind: KindSourceUnavailable, Message: "log source unavailable", cause: err}
	case errors.Is(err, host.ErrUnknownScript):
		return &Error{Kind: KindNotFound, Message: "unknown operation", cause: err}
	case os.IsNotExist(err):
		return &Error{Kind: KindNotFound, Message: "not found", cause: err}
	case os.IsPermission(err):
		return &Error{Kind: KindIOFailure, Message: "filesystem permission denied", cause: err}
	}

	var terr *mode.TransitionError
	if errors.As(err, &terr) {
		return &Error{
			Kind:    KindExternalCommand,
			Message: "mode switch failed",
			Details: map[string]string{
				"from":  string(terr.From),
				"to":    string(terr.To),
				"stage": terr.Stage,
			},
			cause: err,
		}
	}

	return &Error{Kind: KindInternal, Message: "internal error", cause: err}
}
