package repository

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when a conditional state transition
	// finds the row in a state it cannot move forward from.
	ErrInvalidState = errors.New("invalid state")
)
