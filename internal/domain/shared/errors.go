// Package shared contains the error kinds shared by all domain packages.
// This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrInvalidFormat   = errors.New("invalid format")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "analytics", "improvement", "tracker"
	Op      string // Operation that failed, e.g., "Ingest", "CloseIssue"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Analytics ingestion errors. Malformed input is rejected here, before it
// ever reaches the aggregation code.
var (
	ErrEmptyUserID       = NewDomainError("analytics", "Validate", ErrEmptyValue, "user ID is required")
	ErrEmptyEventType    = NewDomainError("analytics", "Validate", ErrEmptyValue, "event type is required")
	ErrMissingEventDate  = NewDomainError("analytics", "Validate", ErrInvalidFormat, "event date is required")
	ErrNegativeStreak    = NewDomainError("analytics", "Validate", ErrNegativeValue, "streak cannot be negative")
	ErrNegativeGoal      = NewDomainError("analytics", "Validate", ErrNegativeValue, "weekly goal cannot be negative")
	ErrNegativeProgress  = NewDomainError("analytics", "Validate", ErrNegativeValue, "weekly progress cannot be negative")
	ErrUnknownTrendMode  = NewDomainError("analytics", "Trend", ErrInvalidInput, "unknown trend mode")
	ErrUnknownPeriod     = NewDomainError("leaderboard", "Summary", ErrInvalidInput, "unknown period")
	ErrUnknownHabitState = NewDomainError("intervention", "Decide", ErrInvalidInput, "unknown habit state")
)

// Improvement errors
var (
	ErrImprovementNotFound = NewDomainError("improvement", "Find", ErrNotFound, "improvement not found")
	ErrImprovementExists   = NewDomainError("improvement", "Create", ErrAlreadyExists, "improvement already tracked for lesson")
	ErrNegativeCost        = NewDomainError("improvement", "Measure", ErrNegativeValue, "estimated cost cannot be negative")
)

// Tracker errors
var (
	ErrIssueNotFound      = NewDomainError("tracker", "GetIssue", ErrNotFound, "issue not found")
	ErrTrackerUnavailable = NewDomainError("tracker", "Request", ErrServiceUnavailable, "issue tracker is unavailable")
	ErrTrackerRateLimited = NewDomainError("tracker", "Request", ErrRateLimited, "issue tracker rate limit exceeded")
	ErrEmptyIssueTitle    = NewDomainError("tracker", "CreateIssue", ErrEmptyValue, "issue title is required")
	ErrEmptyLabel         = NewDomainError("tracker", "AddLabel", ErrEmptyValue, "label cannot be empty")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
