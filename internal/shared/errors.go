package shared

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation marks malformed or missing input.
	ErrValidation = errors.New("validation failed")
	// ErrSettlementLock blocks edits of invoices with settlement activity.
	ErrSettlementLock = errors.New("invoice has settlement activity")
	// ErrForeignKey indicates dependent records block a delete.
	ErrForeignKey = errors.New("dependent records exist")
	// ErrDuplicatePendingRequest indicates an unresolved change request already targets the entity.
	ErrDuplicatePendingRequest = errors.New("a pending change request already exists for this record")
	// ErrPermissionDenied indicates the actor may not perform the action.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRequestResolved indicates the change request already reached a terminal state.
	ErrRequestResolved = errors.New("change request already resolved")
	// ErrDuplicateSubmission indicates an idempotency key was replayed.
	ErrDuplicateSubmission = errors.New("request already processed")
)

// ValidationError carries per-field messages for a rejected input.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError builds a ValidationError with a single field message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

// Add records a field message.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

// OrNil returns nil when no field failed.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
