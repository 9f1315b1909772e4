// Package errors provides the client's error taxonomy.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrNoSelection      = errors.New("no stock selected")
	ErrNotConnected     = errors.New("push channel not connected")
	ErrDispatcherClosed = errors.New("dispatcher stopped")
	ErrConfigInvalid    = errors.New("invalid configuration")

	// ErrBackendUnavailable is returned without a request while the backend breaker is open.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// ValidationError represents bad local input. No network call is made.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// AuthError represents a login, register or resume rejected by the backend.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth error [%s]: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("auth error [%s]: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a new AuthError.
func NewAuthError(op, message string, err error) *AuthError {
	return &AuthError{
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// RequestError represents a transport failure or unexpected response on a fetch.
type RequestError struct {
	Method   string
	Endpoint string
	Status   int
	Err      error
}

func (e *RequestError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("request error [%s %s] status %d: %v", e.Method, e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("request error [%s %s]: %v", e.Method, e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError creates a new RequestError.
func NewRequestError(method, endpoint string, status int, err error) *RequestError {
	return &RequestError{
		Method:   method,
		Endpoint: endpoint,
		Status:   status,
		Err:      err,
	}
}

// RejectedError is a mutation the backend answered with success=false.
type RejectedError struct {
	Op      string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected [%s]: %s", e.Op, e.Message)
}

// NewRejectedError creates a new RejectedError.
func NewRejectedError(op, message string) *RejectedError {
	return &RejectedError{Op: op, Message: message}
}

// BusyError is returned when an operation is attempted while one is outstanding.
type BusyError struct {
	Op string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("busy: %s already in progress", e.Op)
}

// NewBusyError creates a new BusyError.
func NewBusyError(op string) *BusyError {
	return &BusyError{Op: op}
}

// ChannelError represents a push-channel transport fault.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel error [%s]: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// NewChannelError creates a new ChannelError.
func NewChannelError(op string, err error) *ChannelError {
	return &ChannelError{Op: op, Err: err}
}

// UserMessage returns the text shown to the user for err.
func UserMessage(err error) string {
	var (
		valErr  *ValidationError
		authErr *AuthError
		reqErr  *RequestError
		rejErr  *RejectedError
		busyErr *BusyError
		chanErr *ChannelError
	)
	switch {
	case errors.Is(err, ErrBackendUnavailable):
		return "Backend unavailable. Please try again shortly."
	case errors.As(err, &valErr):
		return valErr.Message
	case errors.As(err, &authErr):
		return authErr.Message
	case errors.As(err, &rejErr):
		return rejErr.Message
	case errors.As(err, &busyErr):
		return "Please wait for the current " + busyErr.Op + " to finish"
	case errors.As(err, &reqErr):
		return "Request failed. Please try again."
	case errors.As(err, &chanErr):
		return "Live prices unavailable"
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in first"
	case errors.Is(err, ErrNoSelection):
		return "Please select a stock first"
	default:
		return err.Error()
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}
