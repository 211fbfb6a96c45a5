// Package apperrors defines the error taxonomy shared by the room coordinator,
// the cache-first repositories and the job runtime.
package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                  = errors.New("not found")
	ErrValidation                = errors.New("validation failed")
	ErrCapacityExceeded          = errors.New("agent capacity exceeded")
	ErrTransient                 = errors.New("transient infrastructure failure")
	ErrPermanentJobFailure       = errors.New("permanent job failure")
	ErrCircuitOpen               = errors.New("circuit open")
	ErrInfrastructureUnavailable = errors.New("infrastructure unavailable")
	ErrRateLimited               = errors.New("rate limited")
)

// NotFoundError reports an entity absent from both the cache and the durable store.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// Validation builds an ErrValidation carrying a formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// CapacityError is returned when admission control denies an agent.
type CapacityError struct {
	AgentID string
	Status  string
	Current int
	Max     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("agent %s cannot accept chat (status=%s, current=%d, max=%d)", e.AgentID, e.Status, e.Current, e.Max)
}

func (e *CapacityError) Is(target error) bool { return target == ErrCapacityExceeded }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent marks err as not worth retrying; the job runtime moves it straight to the failed set.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanentJobFailure, err)
}

// Unavailable reports that both the cache and the durable store failed.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInfrastructureUnavailable, op, err)
}

// IsRetryable reports whether a job handler error should be retried.
// Validation, not-found and capacity outcomes are deterministic and never
// retried unless explicitly marked Transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrPermanentJobFailure):
		return false
	case errors.Is(err, ErrTransient):
		return true
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRateLimited):
		return false
	}
	return true
}
