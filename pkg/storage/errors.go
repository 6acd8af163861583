package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a grant does not exist.
	ErrNotFound = errors.New("grant not found")
)
