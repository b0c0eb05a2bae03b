package persistence

import "errors"

// Common errors for persistence operations
var (
	// ErrNotFound is returned when a cluster is not found in the store
	ErrNotFound = errors.New("cluster not found in store")

	// ErrInvalidUpdate is returned for update notifications that cannot be decoded
	ErrInvalidUpdate = errors.New("invalid cluster update message")
)
