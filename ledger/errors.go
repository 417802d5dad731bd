package ledger

import "errors"

// Engine-wide failure taxonomy. Every operation fails with exactly one of
// these (possibly wrapped); nothing is retried or silently recovered.
var (
	// ErrUnauthorized signals the caller lacks the required privilege or ownership.
	ErrUnauthorized = errors.New("ledger: unauthorized")
	// ErrAlreadyExists signals a key collision on create.
	ErrAlreadyExists = errors.New("ledger: key already exists")
	// ErrNotFound signals an operation on an unknown key.
	ErrNotFound = errors.New("ledger: record not found")
	// ErrInvalidInput signals a zero or negative amount, empty key, or empty principal.
	ErrInvalidInput = errors.New("ledger: invalid input")
	// ErrInvalidState signals the record's status forbids the operation.
	ErrInvalidState = errors.New("ledger: invalid record state")
	// ErrExpired signals the record's time bound has passed.
	ErrExpired = errors.New("ledger: record expired")
	// ErrCapacityExceeded signals event admission beyond the configured capacity.
	ErrCapacityExceeded = errors.New("ledger: capacity exceeded")
	// ErrTransferFailed signals the external payout substrate reported failure.
	ErrTransferFailed = errors.New("ledger: transfer failed")
)
