package domain

import "errors"

// Error taxonomy. Callers branch with errors.Is; operations wrap these with
// context via fmt.Errorf("...: %w", Err...).
var (
	// ErrValidation: malformed input, rejected before any lock is taken.
	ErrValidation = errors.New("invalid input")

	// ErrNotFound: referenced product, campaign or allocation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientStock: requested quantity exceeds what is available at
	// whichever level is being decremented.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrInvalidState: operation against a campaign in the wrong lifecycle
	// state, including a second finalize.
	ErrInvalidState = errors.New("invalid campaign state")

	// ErrContention: lock wait timed out or the transaction deadlocked.
	// The operation rolled back completely and is safe to retry.
	ErrContention = errors.New("contention, retry")

	// ErrDuplicateRequest: idempotency key already seen.
	ErrDuplicateRequest = errors.New("duplicate request")
)
