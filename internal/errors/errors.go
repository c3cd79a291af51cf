// Package errors consolidates error definitions for the entire project.
//
// This package provides:
// - Sentinel errors for all error conditions
// - Error category checking functions (validation / conflict / transient)
// - HTTP status mapping for the API surface
// - Error wrapping utilities and a validation error collector
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrClientNotFound  = errors.New("client not found")
	ErrMachineNotFound = errors.New("machine not found")
	ErrAnomalyNotFound = errors.New("anomaly not found")
	ErrAlertNotFound   = errors.New("alert not found")
	ErrModelNotFound   = errors.New("model not found")

	// Already exists errors
	ErrAlreadyExists  = errors.New("already exists")
	ErrClientExists   = errors.New("client already exists")
	ErrMachineExists  = errors.New("machine already exists")

	// Validation errors
	ErrValidation       = errors.New("validation failed")
	ErrInvalidReference = errors.New("invalid reference")
	ErrInvalidValue     = errors.New("invalid value")
	ErrMissingField     = errors.New("missing required field")
	ErrNonFiniteValue   = errors.New("non-finite numeric value")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Conflict errors
	ErrConflict               = errors.New("conflict")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrQuotaExceeded          = errors.New("machine quota exceeded")
	ErrConcurrentModification = errors.New("concurrent modification detected (version mismatch)")

	// Transient errors
	ErrTransient   = errors.New("transient failure")
	ErrStorageBusy = errors.New("storage busy")
	ErrBufferFull  = errors.New("buffer full")
	ErrTimeout     = errors.New("timeout")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
	ErrClosed   = errors.New("service not running")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrMachineNotFound) ||
		errors.Is(err, ErrAnomalyNotFound) ||
		errors.Is(err, ErrAlertNotFound) ||
		errors.Is(err, ErrModelNotFound)
}

// IsAlreadyExists returns true if err is an already-exists error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrClientExists) ||
		errors.Is(err, ErrMachineExists)
}

// IsValidation returns true if err is a validation error. Writes that fail
// validation are rejected synchronously and never partially applied.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInvalidValue) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrNonFiniteValue) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsConflict returns true if err is a conflict error: the requested change
// contradicts current state and the state is left unchanged.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrConcurrentModification) ||
		IsAlreadyExists(err)
}

// IsTransient returns true if the error is retriable on the next scheduled
// run or by the worker pool.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrStorageBusy) ||
		errors.Is(err, ErrBufferFull) ||
		errors.Is(err, ErrTimeout)
}

// ============================================================================
// HTTP status mapping
// ============================================================================

// HTTPStatus maps an error to an HTTP status code for the API surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	case IsConflict(err):
		return http.StatusConflict
	case IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CategoryName returns the taxonomy category of an error.
func CategoryName(err error) string {
	switch {
	case err == nil:
		return "none"
	case IsNotFound(err):
		return "not_found"
	case IsValidation(err):
		return "validation"
	case IsConflict(err):
		return "conflict"
	case IsTransient(err):
		return "transient"
	default:
		return "internal"
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

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

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewAlreadyExists creates an already-exists error with context.
func NewAlreadyExists(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrAlreadyExists)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrValidation)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidValue)
}

// NewInvalidReference creates a referential validation error.
func NewInvalidReference(entityType, identifier, reason string) error {
	return fmt.Errorf("%s '%s': %s: %w", entityType, identifier, reason, ErrInvalidReference)
}

// NewInvalidTransition creates a state transition conflict error.
func NewInvalidTransition(entityType, from, to string) error {
	return fmt.Errorf("%s: %s -> %s: %w", entityType, from, to, ErrInvalidTransition)
}

// NewTransient creates a transient error with context.
func NewTransient(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrTransient)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes every collected error so errors.Is/As see all of them,
// not just the first.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}

// Is marks the collection itself as a validation failure even when a
// collected error carries no sentinel of its own.
func (v *ValidationErrors) Is(target error) bool {
	return target == ErrValidation
}
