// Package huberrors provides sentinel and custom error types for the application.
package huberrors

import (
	"errors"
	"strings"
)

// ErrNotFound represents a "not found" error.
// Use when a requested label or content category doesn't exist.
var ErrNotFound = &NotFoundError{}

// NotFoundError is a sentinel error for resources that are not found.
type NotFoundError struct {
	Resource string
	Message  string
}

// NewNotFoundError creates a new NotFoundError with a custom message.
func NewNotFoundError(resource, message string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		Message:  message,
	}
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Resource != "" {
		return e.Resource + " not found"
	}

	return "resource not found"
}

// Is implements the error interface for error comparison.
func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)

	return ok
}

// ErrValidation represents a validation error.
// Use when client input fails validation.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}

// ErrLimitExceeded is the sentinel for limit-exceeded errors (e.g. batch size over the cap).
// Use when an operation is rejected because a configured limit was reached.
var ErrLimitExceeded = &LimitExceededError{}

// LimitExceededError is a sentinel error for limit-exceeded conditions.
type LimitExceededError struct {
	Message string
}

// NewLimitExceededError creates a LimitExceededError with a custom message.
func NewLimitExceededError(message string) *LimitExceededError {
	return &LimitExceededError{Message: message}
}

// Error implements the error interface.
func (e *LimitExceededError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "limit exceeded"
}

// Is implements the error interface for error comparison.
func (e *LimitExceededError) Is(target error) bool {
	_, ok := target.(*LimitExceededError)

	return ok
}

// ProviderErrorKind classifies failures of external embedding and completion providers.
type ProviderErrorKind string

// Provider error kinds.
const (
	ProviderUnavailable ProviderErrorKind = "unavailable"
	ProviderRejected    ProviderErrorKind = "rejected"
	ProviderRateLimited ProviderErrorKind = "rate_limited"
)

// Sentinels for errors.Is. A sentinel matches any ProviderError of the same kind.
var (
	ErrProviderUnavailable = &ProviderError{Kind: ProviderUnavailable}
	ErrProviderRejected    = &ProviderError{Kind: ProviderRejected}
	ErrRateLimited         = &ProviderError{Kind: ProviderRateLimited}
)

// ProviderError is returned by provider clients after mapping SDK errors.
// Unreachable is set when the provider is confirmed down (connection refused, unknown host);
// such errors are not worth retrying even though they are "unavailable".
type ProviderError struct {
	Kind        ProviderErrorKind
	Provider    string
	StatusCode  int
	Unreachable bool
	Err         error
}

// NewProviderError creates a ProviderError wrapping err.
func NewProviderError(kind ProviderErrorKind, provider string, statusCode int, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, StatusCode: statusCode, Err: err}
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var b strings.Builder

	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}

	b.WriteString("provider ")
	b.WriteString(string(e.Kind))

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying SDK error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches another ProviderError with the same kind (or any kind when target has none).
func (e *ProviderError) Is(target error) bool {
	t, ok := target.(*ProviderError)
	if !ok {
		return false
	}

	return t.Kind == "" || t.Kind == e.Kind
}

// Transient reports whether retrying the call may succeed.
func (e *ProviderError) Transient() bool {
	if e.Unreachable {
		return false
	}

	return e.Kind == ProviderUnavailable || e.Kind == ProviderRateLimited
}

// IsTransient reports whether err is a retryable provider or store failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}

	return errors.Is(err, ErrStoreUnavailable)
}

// IsUnreachable reports whether err says the provider is confirmed down.
func IsUnreachable(err error) bool {
	var pe *ProviderError

	return errors.As(err, &pe) && pe.Unreachable
}

// ErrValidationFailed is the sentinel for generated content failing structural checks.
// It never reaches API callers; the orchestrator falls back instead.
var ErrValidationFailed = &ContentValidationError{}

// ContentValidationError lists the checks generated content failed.
type ContentValidationError struct {
	Violations []string
}

// NewContentValidationError creates a ContentValidationError.
func NewContentValidationError(violations []string) *ContentValidationError {
	return &ContentValidationError{Violations: violations}
}

// Error implements the error interface.
func (e *ContentValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "generated content failed validation"
	}

	return "generated content failed validation: " + strings.Join(e.Violations, "; ")
}

// Is implements the error interface for error comparison.
func (e *ContentValidationError) Is(target error) bool {
	_, ok := target.(*ContentValidationError)

	return ok
}

// ErrStoreUnavailable is the sentinel for vector store or cache backends being unreachable.
var ErrStoreUnavailable = &StoreUnavailableError{}

// StoreUnavailableError wraps a backend failure.
type StoreUnavailableError struct {
	Store string
	Err   error
}

// NewStoreUnavailableError creates a StoreUnavailableError.
func NewStoreUnavailableError(store string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Store: store, Err: err}
}

// Error implements the error interface.
func (e *StoreUnavailableError) Error() string {
	msg := "store unavailable"
	if e.Store != "" {
		msg = e.Store + " " + msg
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

// Unwrap returns the underlying error.
func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// Is implements the error interface for error comparison.
func (e *StoreUnavailableError) Is(target error) bool {
	_, ok := target.(*StoreUnavailableError)

	return ok
}
