package store

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition indicates a task status change the state machine forbids
	ErrInvalidTransition = errors.New("invalid transition")
)
