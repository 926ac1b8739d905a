package services

import "errors"

// Settlement failure taxonomy. Validation errors carry zero side
// effects; ErrLedgerConflict surfaces only after bounded internal
// retries; ErrPosUnavailable is post-commit and never fatal.
var (
	ErrInvalidInput   = errors.New("invalid order input")
	ErrInvalidItems   = errors.New("invalid cart items")
	ErrLedgerConflict = errors.New("loyalty ledger conflict")
	ErrPosUnavailable = errors.New("pos unavailable")
)
