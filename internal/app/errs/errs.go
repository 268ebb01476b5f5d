// Package errs defines the error taxonomy shared by the engine services.
// State-machine violations are ordinary, recoverable results; callers are
// expected to branch on them with errors.Is.
package errs

import "errors"

var (
	// ErrDuplicateEvent signals an append whose dedup key already exists.
	// The prior event stands; the operation is an idempotent no-op.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrAlreadyCompletedToday signals a second habit completion for the
	// same calendar day.
	ErrAlreadyCompletedToday = errors.New("habit already completed today")

	// ErrAlreadyActive signals a quest accept while an active instance for
	// the same (user, quest) pair exists.
	ErrAlreadyActive = errors.New("quest already active")

	// ErrInvalidState signals a transition attempted on a terminal or
	// wrong-state instance.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrNotFound signals an unknown habit, achievement, quest or user
	// reference.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientBalance signals a debit exceeding the available points
	// total.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOutOfStock signals a redemption of a limited reward whose stock is
	// exhausted.
	ErrOutOfStock = errors.New("reward out of stock")

	// ErrConcurrencyConflict signals a conditional write that lost a race.
	// Services retry a bounded number of times before surfacing
	// ErrTransient.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTransient signals that internal retries were exhausted; the caller
	// may safely retry the whole operation.
	ErrTransient = errors.New("transient failure, retry")

	// ErrUnknownSource signals an action source outside the closed set.
	ErrUnknownSource = errors.New("unknown action source")
)

// Recoverable reports whether err is a state-machine violation that callers
// handle as a typed result rather than an unexpected failure.
func Recoverable(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrAlreadyCompletedToday) ||
		errors.Is(err, ErrAlreadyActive) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOutOfStock)
}
