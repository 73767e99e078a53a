// Package errors provides the structured error taxonomy used throughout
// the scan engine: every error that crosses a component boundary is a
// *Error carrying a Code from the kinds named in the specification so
// callers can branch on recovery policy instead of on concrete types.
package errors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Code names one of the error kinds from the specification's taxonomy.
type Code string

const (
	// ConfigError: bad or missing config file, invalid schema. Fails
	// startup; never surfaces at runtime.
	ConfigError Code = "CONFIG_ERROR"
	// DataSourceError: fetch failure (network, auth, query).
	DataSourceError Code = "DATASOURCE_ERROR"
	// ChannelError: notification delivery failure.
	ChannelError Code = "CHANNEL_ERROR"
	// ThresholdError: malformed threshold configuration.
	ThresholdError Code = "THRESHOLD_ERROR"
	// CallbackError: a user-registered violation callback panicked or
	// returned an error.
	CallbackError Code = "CALLBACK_ERROR"
	// LoopError: unexpected exception surfacing from the scan loop.
	LoopError Code = "LOOP_ERROR"
)

// Error is a structured error carrying a taxonomy code, an optional
// cause, and enough context to log or trace it without re-deriving
// anything from the message string.
type Error struct {
	ID        string
	Code      Code
	Message   string
	Cause     error
	Retryable bool
	Context   map[string]interface{}
	Timestamp time.Time
	TraceID   string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair for structured logging.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTrace records the active span's trace ID, if any.
func (e *Error) WithTrace(ctx context.Context) *Error {
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		e.TraceID = spanCtx.TraceID().String()
	}
	return e
}

// New builds an Error of the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		ID:        uuid.New().String(),
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// Wrap builds an Error of the given code wrapping cause.
func Wrap(code Code, message string, cause error) *Error {
	return New(code, message).withCause(cause)
}

func (e *Error) withCause(cause error) *Error {
	e.Cause = cause
	return e
}

// NewDataSourceError wraps a fetch/connect failure from a named datasource.
func NewDataSourceError(datasource string, cause error) *Error {
	return Wrap(DataSourceError, fmt.Sprintf("datasource %q fetch failed", datasource), cause).
		WithContext("datasource", datasource)
}

// NewChannelError wraps a delivery failure from a named channel.
func NewChannelError(channel string, cause error) *Error {
	return Wrap(ChannelError, fmt.Sprintf("channel %q send failed", channel), cause).
		WithContext("channel", channel)
}

// NewConfigError wraps a configuration load/validation failure.
func NewConfigError(message string, cause error) *Error {
	return Wrap(ConfigError, message, cause)
}

// NewThresholdError reports a malformed threshold definition.
func NewThresholdError(alertName, message string) *Error {
	return New(ThresholdError, message).WithContext("alert_name", alertName)
}

// NewCallbackError wraps a panicking or failing violation callback.
func NewCallbackError(cause error) *Error {
	return Wrap(CallbackError, "violation callback failed", cause)
}

// NewLoopError wraps an unexpected error surfacing from the scan loop.
func NewLoopError(cause error) *Error {
	return Wrap(LoopError, "scan loop iteration failed", cause)
}

// IsRetryable reports whether err (or a wrapped *Error within it) is
// marked retryable.
func IsRetryable(err error) bool {
	var se *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			se = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return se != nil && se.Retryable
}
