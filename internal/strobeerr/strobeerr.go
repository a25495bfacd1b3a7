// Package strobeerr defines the fixed error-code taxonomy surfaced verbatim
// to RPC clients, and the thin wrapper that carries a code alongside a
// normal Go error chain.
package strobeerr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Code is one of the fixed machine-readable error codes from the spec's
// error taxonomy (§7). Clients match on Code, never on Message text.
type Code string

const (
	NoDebugSymbols     Code = "NO_DEBUG_SYMBOLS"
	SIPBlocked         Code = "SIP_BLOCKED"
	SessionExists      Code = "SESSION_EXISTS"
	SessionNotFound    Code = "SESSION_NOT_FOUND"
	ProcessExited      Code = "PROCESS_EXITED"
	AttachFailed       Code = "FRIDA_ATTACH_FAILED"
	InvalidPattern     Code = "INVALID_PATTERN"
	ValidationError    Code = "VALIDATION_ERROR"
	NoCodeAtLine       Code = "NO_CODE_AT_LINE"
	OptimizedOut       Code = "OPTIMIZED_OUT"
	WatchFailed        Code = "WATCH_FAILED"
	ReadFailed         Code = "READ_FAILED"
	WriteFailed        Code = "WRITE_FAILED"
	Internal           Code = "INTERNAL_ERROR"
)

// Error pairs a taxonomy Code with a wrapped cause, so callers can keep
// using fmt.Errorf("...: %w", err) at every boundary while the RPC
// dispatcher can still recover the exact code with errors.As.
type Error struct {
	Code    Code
	Message string
	// CorrelationID is populated for Internal errors so a log line can be
	// found from the id surfaced to the client.
	CorrelationID string
	Cause         error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a taxonomy error with no wrapped cause. Internal errors get
// a correlation id so a log line can be found from the id surfaced to
// the client.
func New(code Code, format string, args ...any) *Error {
	e := &Error{Code: code, Message: fmt.Sprintf(format, args...)}
	if code == Internal {
		e.CorrelationID = uuid.NewString()
	}
	return e
}

// Wrap attaches a taxonomy code to an existing error.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
	if code == Internal {
		e.CorrelationID = uuid.NewString()
	}
	return e
}

// CodeOf extracts the taxonomy code from err, defaulting to Internal if
// err does not carry one.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Internal
}
