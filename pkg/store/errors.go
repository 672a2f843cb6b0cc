package store

import "errors"

// Standard errors for performance store operations.
var (
	// ErrStoreDisabled is returned when the store is disabled.
	ErrStoreDisabled = errors.New("store is disabled")

	// ErrStoreClosed is returned when the store has been closed.
	ErrStoreClosed = errors.New("store is closed")

	// ErrInvalidInput is returned when the input is invalid.
	ErrInvalidInput = errors.New("invalid input")
)
