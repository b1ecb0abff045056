package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError reports missing or malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// NotFoundError reports an absent booking, provider or notification.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidTransitionError reports an illegal status change. A lost
// conditional write surfaces as this error too.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// UnverifiedProviderError is returned when an unverified provider is assigned.
type UnverifiedProviderError struct {
	ProviderID string
}

func (e *UnverifiedProviderError) Error() string {
	return fmt.Sprintf("provider %s is not verified", e.ProviderID)
}

// InternalError wraps store or broadcast failures.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func Internal(op string, err error) error {
	return &InternalError{Op: op, Err: err}
}

// CheckError maps an error to its HTTP status code.
func CheckError(err error) int {
	var (
		validation *ValidationError
		notFound   *NotFoundError
		transition *InvalidTransitionError
		unverified *UnverifiedProviderError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &transition):
		return http.StatusConflict
	case errors.As(err, &unverified):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides internal details from API callers.
func PublicMessage(err error) string {
	if CheckError(err) == http.StatusInternalServerError {
		return "internal error, please retry"
	}
	return err.Error()
}

// IsRecoverable reports whether the caller can fix the request and retry.
func IsRecoverable(err error) bool {
	return CheckError(err) != http.StatusInternalServerError
}
