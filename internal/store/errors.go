package store

import "errors"

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when a unique identity is already taken.
	ErrDuplicate = errors.New("duplicate")
)
