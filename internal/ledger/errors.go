package ledger

import "errors"

// Ledger operation errors.
var (
	// ErrInvalidAmount indicates a non-positive credit amount. This is a
	// caller bug and is rejected before any write.
	ErrInvalidAmount = errors.New("ledger: amount must be a positive integer")
	// ErrInvalidType indicates an unknown credit transaction type.
	ErrInvalidType = errors.New("ledger: invalid transaction type")
	// ErrInsufficientCredits indicates the balance cannot cover a spend.
	// The account is left unchanged; the caller may retry after top-up.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrAccountNotFound indicates an operation on an account that was
	// expected to exist.
	ErrAccountNotFound = errors.New("ledger: credit account not found")
)
