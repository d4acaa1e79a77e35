// internal/utils/errors.go

// Package utils provides logging, structured errors, retry policies, and
// rate limiting shared across the internal package hierarchy.
package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorSeverity represents the severity level of an error.
type ErrorSeverity int

const (
	SeverityInfo ErrorSeverity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the error severity.
func (s ErrorSeverity) String() string {
	switch s {
	case SeverityInfo:
		return "INFO"
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ErrorCode categorizes errors for matching and propagation decisions.
type ErrorCode string

const (
	// Fetch and network failures. Transient errors are retried locally
	// with bounded backoff before surfacing.
	ErrCodeTransientFetch ErrorCode = "TRANSIENT_FETCH"
	ErrCodeFetchDenied    ErrorCode = "FETCH_DENIED"

	// Recovery outcomes. Validation failures are recorded on the
	// candidate itself; EscalationRequired is the terminal failure mode.
	ErrCodeValidationFailure  ErrorCode = "VALIDATION_FAILURE"
	ErrCodeEscalationRequired ErrorCode = "ESCALATION_REQUIRED"
	ErrCodeMapperUnavailable  ErrorCode = "MAPPER_UNAVAILABLE"

	// Storage failures always propagate to the caller, unlike
	// notification delivery failures which are swallowed and logged.
	ErrCodeStorage          ErrorCode = "STORAGE_ERROR"
	ErrCodeBaselineConflict ErrorCode = "BASELINE_CONFLICT"

	ErrCodeNotification ErrorCode = "NOTIFICATION_ERROR"
	ErrCodeConfig       ErrorCode = "CONFIG_ERROR"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// StructuredError carries a code, severity, and context alongside the
// message so callers can match on category instead of string contents.
type StructuredError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Severity  ErrorSeverity          `json:"severity"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	Retryable bool                   `json:"retryable"`
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *StructuredError) Unwrap() error {
	return e.Cause
}

// Is matches two structured errors by code.
func (e *StructuredError) Is(target error) bool {
	if se, ok := target.(*StructuredError); ok {
		return e.Code == se.Code
	}
	return false
}

// WithContext attaches contextual information to the error.
func (e *StructuredError) WithContext(key string, value interface{}) *StructuredError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// ErrorBuilder provides a fluent interface for creating structured errors.
type ErrorBuilder struct {
	err *StructuredError
}

// NewError starts building a structured error.
func NewError(code ErrorCode, message string) *ErrorBuilder {
	return &ErrorBuilder{
		err: &StructuredError{
			Code:      code,
			Message:   message,
			Severity:  SeverityError,
			Timestamp: time.Now(),
		},
	}
}

// WithSeverity sets the error severity.
func (eb *ErrorBuilder) WithSeverity(severity ErrorSeverity) *ErrorBuilder {
	eb.err.Severity = severity
	return eb
}

// WithCause sets the underlying cause.
func (eb *ErrorBuilder) WithCause(cause error) *ErrorBuilder {
	eb.err.Cause = cause
	return eb
}

// WithContext adds contextual information.
func (eb *ErrorBuilder) WithContext(key string, value interface{}) *ErrorBuilder {
	if eb.err.Context == nil {
		eb.err.Context = make(map[string]interface{})
	}
	eb.err.Context[key] = value
	return eb
}

// WithRetryable marks the error as retryable.
func (eb *ErrorBuilder) WithRetryable(retryable bool) *ErrorBuilder {
	eb.err.Retryable = retryable
	return eb
}

// Build returns the constructed error.
func (eb *ErrorBuilder) Build() *StructuredError {
	return eb.err
}

// WrapError wraps an existing error in a structured error.
func WrapError(err error, code ErrorCode, message string) *StructuredError {
	return NewError(code, message).WithCause(err).Build()
}

// NewStorageError wraps a storage-layer failure. Storage errors propagate;
// callers must not drop them silently.
func NewStorageError(op string, err error) *StructuredError {
	return NewError(ErrCodeStorage, op).
		WithCause(err).
		WithSeverity(SeverityCritical).
		Build()
}

// NewTransientFetchError marks a fetch failure whose retries are exhausted.
func NewTransientFetchError(url string, err error) *StructuredError {
	return NewError(ErrCodeTransientFetch, "fetch failed").
		WithCause(err).
		WithContext("url", url).
		WithRetryable(true).
		Build()
}

// CodeOf extracts the error code from err or any error it wraps.
// Returns ErrCodeInternal for plain errors and "" for nil.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}

// IsRetryableError reports whether an error is worth retrying. Structured
// errors carry the decision; plain errors are matched on common transient
// failure text.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var se *StructuredError
	if errors.As(err, &se) {
		return se.Retryable
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"502 bad gateway",
		"503 service unavailable",
		"504 gateway timeout",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// MultiError aggregates several errors into one, preserving each message.
type MultiError struct {
	errs []error
}

// Append adds a non-nil error to the aggregate.
func (me *MultiError) Append(err error) {
	if err != nil {
		me.errs = append(me.errs, err)
	}
}

// ErrorOrNil returns the aggregate as an error, or nil when empty.
func (me *MultiError) ErrorOrNil() error {
	if me == nil || len(me.errs) == 0 {
		return nil
	}
	return me
}

// Len returns the number of aggregated errors.
func (me *MultiError) Len() int {
	if me == nil {
		return 0
	}
	return len(me.errs)
}

// Error implements the error interface.
func (me *MultiError) Error() string {
	switch len(me.errs) {
	case 0:
		return "no errors"
	case 1:
		return me.errs[0].Error()
	}
	parts := make([]string, len(me.errs))
	for i, err := range me.errs {
		parts[i] = err.Error()
	}
	return fmt.Sprintf("%d errors: [%s]", len(me.errs), strings.Join(parts, "; "))
}

// Unwrap exposes the aggregated errors to errors.Is/As.
func (me *MultiError) Unwrap() []error {
	return me.errs
}
