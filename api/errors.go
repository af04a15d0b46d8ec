// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy shared by channels, poll groups and the socket layer.

package api

import (
	"errors"
	"fmt"

	"code.hybscloud.com/iox"
)

// Sentinel errors. Every error returned by a channel operation matches
// exactly one of these with errors.Is.
var (
	ErrBind            = errors.New("bind failed")
	ErrConnect         = errors.New("connect failed")
	ErrAccept          = errors.New("accept failed")
	ErrState           = errors.New("operation invalid in current state")
	ErrQueueFull       = errors.New("queue full")
	ErrKindMismatch    = errors.New("message kind does not match destination")
	ErrIO              = errors.New("i/o failure")
	ErrTimeout         = errors.New("operation timeout")
	ErrDuplicateMember = errors.New("channel already in group")
	ErrCrossGroup      = errors.New("channel belongs to another group")
	ErrNoDestination   = errors.New("no destination registered")
	ErrBadFrame        = errors.New("malformed frame header")
	ErrNotSupported    = errors.New("operation not supported")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeBind
	ErrCodeConnect
	ErrCodeAccept
	ErrCodeState
	ErrCodeQueueFull
	ErrCodeKindMismatch
	ErrCodeIO
	ErrCodeTimeout
	ErrCodeDuplicateMember
	ErrCodeCrossGroup
	ErrCodeNoDestination
	ErrCodeNotSupported
	ErrCodeInvalidArgument
)

var codeSentinels = map[ErrorCode]error{
	ErrCodeBind:            ErrBind,
	ErrCodeConnect:         ErrConnect,
	ErrCodeAccept:          ErrAccept,
	ErrCodeState:           ErrState,
	ErrCodeQueueFull:       ErrQueueFull,
	ErrCodeKindMismatch:    ErrKindMismatch,
	ErrCodeIO:              ErrIO,
	ErrCodeTimeout:         ErrTimeout,
	ErrCodeDuplicateMember: ErrDuplicateMember,
	ErrCodeCrossGroup:      ErrCrossGroup,
	ErrCodeNoDestination:   ErrNoDestination,
	ErrCodeNotSupported:    ErrNotSupported,
	ErrCodeInvalidArgument: ErrInvalidArgument,
}

// Error represents a structured error with code, failing operation,
// underlying cause and optional context.
type Error struct {
	Code    ErrorCode
	Op      string
	Err     error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Op
	if s, ok := codeSentinels[e.Code]; ok {
		msg += ": " + s.Error()
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Is reports whether target is the sentinel for e.Code.
func (e *Error) Is(target error) bool {
	s, ok := codeSentinels[e.Code]
	return ok && s == target
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, op string, cause error) *Error {
	return &Error{Code: code, Op: op, Err: cause}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// CodeOf extracts the taxonomy code from err, or ErrCodeOK when err is nil
// or carries no code.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeOK
}

// IsPending reports whether err signals an incomplete transfer rather than
// a failure: nothing could move now (iox.ErrWouldBlock) or some bytes moved
// and more are expected (iox.ErrMore).
func IsPending(err error) bool {
	return errors.Is(err, iox.ErrWouldBlock) || errors.Is(err, iox.ErrMore)
}

// IsRetryable reports whether the caller should retry after progress
// elsewhere: pending transfers, timeouts and queue backpressure.
func IsRetryable(err error) bool {
	return IsPending(err) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrQueueFull)
}
