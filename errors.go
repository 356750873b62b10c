package turnstile

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("turnstile: account not found")
	ErrAccountExists = errors.New("turnstile: account already exists")
	ErrInvalidInput  = errors.New("turnstile: invalid input")

	// Concurrency errors
	ErrVersionConflict = errors.New("turnstile: version conflict")
	ErrContention      = errors.New("turnstile: contention: conflict retries exhausted")

	// Point ledger errors
	ErrInsufficientPoints = errors.New("turnstile: insufficient points")
	ErrInvalidAmount      = errors.New("turnstile: amount must be positive")
	ErrInvalidTransition  = errors.New("turnstile: invalid transition")
	ErrDuplicateReference = errors.New("turnstile: duplicate ledger reference")
	ErrEntryNotFound      = errors.New("turnstile: ledger entry not found")

	// Store errors
	ErrStoreNotReady     = errors.New("turnstile: store not ready")
	ErrStoreClosed       = errors.New("turnstile: store is closed")
	ErrTransactionFailed = errors.New("turnstile: transaction failed")
	ErrMigrationFailed   = errors.New("turnstile: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("turnstile: validation failed for %s: %s", e.Field, e.Message)
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "turnstile: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("turnstile: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// IsNotFound returns true if the error reports a missing account or entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsConflict returns true if the error is an optimistic-concurrency
// failure, either a single conflicted write or exhausted retries.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrContention)
}

// IsInsufficient returns true if the error reports a balance too low for
// the requested operation.
func IsInsufficient(err error) bool {
	return errors.Is(err, ErrInsufficientPoints)
}

// IsRetryable returns true if the error is transient and the whole
// operation can be safely retried by the caller. Contention is retryable:
// the engine already guarantees the conflicted attempt had no effect.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
