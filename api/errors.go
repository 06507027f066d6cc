// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-tcp.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// Common errors used across the library.
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrReactorFailure    = errors.New("reactor failure")
	ErrHostCallFailure   = errors.New("host call failure")
	ErrNotSupported      = errors.New("operation not supported")

	ErrClosed       = errors.New("channel is closed")
	ErrReadPending  = errors.New("read operation is already pending")
	ErrWritePending = errors.New("write operation is already pending")
	ErrNotClosed    = errors.New("handle is not closed")
	ErrInvalidPort  = errors.New("port must be in range 0..65535")
	ErrInvalidState = errors.New("invalid state")
	ErrLoopRunning  = errors.New("loop is running")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeReactorFailure
	ErrCodePreconditionViolation
	ErrCodeHostCallFailure
	ErrCodeNotSupported
	ErrCodeInternal
)

func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "OK"
	case ErrCodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case ErrCodeResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case ErrCodeReactorFailure:
		return "REACTOR_FAILURE"
	case ErrCodePreconditionViolation:
		return "PRECONDITION_VIOLATION"
	case ErrCodeHostCallFailure:
		return "HOST_CALL_FAILURE"
	case ErrCodeNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "INTERNAL"
	}
}

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches the sentinel error of the same category.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrResourceExhausted:
		return e.Code == ErrCodeResourceExhausted
	case ErrReactorFailure:
		return e.Code == ErrCodeReactorFailure
	case ErrHostCallFailure:
		return e.Code == ErrCodeHostCallFailure
	case ErrInvalidArgument:
		return e.Code == ErrCodeInvalidArgument
	}
	return false
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

// Precondition panics with ErrCodePreconditionViolation when cond is false.
// Broken invariants are not recoverable.
func Precondition(cond bool, message string) {
	if !cond {
		panic(NewError(ErrCodePreconditionViolation, message))
	}
}

// ReactorError carries a numbered OS or network error out of the reactor.
type ReactorError struct {
	Code    int
	Name    string
	Message string
}

// NewReactorError builds a ReactorError for errno code. name is the symbolic
// errno name, e.g. "EPIPE"; an empty name is rendered as "E<code>".
func NewReactorError(code int, name string) *ReactorError {
	if name == "" {
		name = fmt.Sprintf("E%d", code)
	}
	return &ReactorError{
		Code:    code,
		Name:    name,
		Message: syscall.Errno(code).Error(),
	}
}

func (e *ReactorError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Name, e.Message)
}

// Unwrap exposes the errno so errors.Is(err, syscall.EPIPE) works.
func (e *ReactorError) Unwrap() error { return syscall.Errno(e.Code) }

func (e *ReactorError) Is(target error) bool { return target == ErrReactorFailure }
