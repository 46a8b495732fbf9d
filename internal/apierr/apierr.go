// Package apierr classifies errors raised by the sync protocol into the HTTP
// status codes defined by the routing shell, using sentinel errors plus a
// wrapping struct (error -> status, the inverse of the usual status ->
// error classification).
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the taxonomy in the error handling design. Check with
// errors.Is(err, apierr.ErrSessionMissing) etc.
var (
	ErrAuthFailure    = errors.New("ankisyncd: auth failure")
	ErrSessionMissing = errors.New("ankisyncd: session missing")
	ErrProtocolDecode = errors.New("ankisyncd: protocol decode")
	ErrProtocolState  = errors.New("ankisyncd: protocol state")
	ErrStorage        = errors.New("ankisyncd: storage failure")
	ErrNotFound       = errors.New("ankisyncd: not found")
)

// StatusError pairs a sentinel error with the HTTP status code the routing
// shell should answer with, and an optional message safe to show a client.
// Internal detail (paths, stack traces) must never go in Message.
type StatusError struct {
	Status  int
	Message string
	Err     error
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Err, e.Message)
	}

	return e.Err.Error()
}

func (e *StatusError) Unwrap() error {
	return e.Err
}

// Wrap builds a StatusError from one of the package sentinels (or an error
// wrapping one), deriving the HTTP status from it. An err that matches no
// sentinel gets status 500.
func Wrap(err error, message string) *StatusError {
	return &StatusError{Status: statusFor(err), Message: message, Err: err}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAuthFailure):
		return http.StatusNonAuthoritativeInfo
	case errors.Is(err, ErrSessionMissing):
		return http.StatusForbidden
	case errors.Is(err, ErrProtocolDecode):
		return http.StatusBadRequest
	case errors.Is(err, ErrProtocolState):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrStorage):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// StatusOf returns the HTTP status that should be sent for err. Errors not
// wrapped as a *StatusError and not matching a known sentinel map to 500,
// consistent with the "no internal errors leak details" policy.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}

	return statusFor(err)
}
