package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a request that can never succeed as submitted.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request clashes with current state (stock, version, duplicates).
	ErrConflict = errors.New("conflict")
)
