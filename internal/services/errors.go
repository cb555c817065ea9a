package services

import "errors"

// Error taxonomy shared by every service. Mutators fail with one of these
// (wrapped with detail) instead of silently no-op-ing; retry policy belongs
// to the caller.
var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrValidation        = errors.New("validation failed")
)
