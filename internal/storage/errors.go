package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when appending an event-log record whose
	// key already exists. The event log is append-only.
	ErrDuplicateKey = errors.New("duplicate key: event log is append-only")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
