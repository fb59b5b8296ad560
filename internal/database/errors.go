package database

import "errors"

var (
	// ErrNotFound is returned when a referenced user or contact does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateContact is returned when a contact pair already exists.
	ErrDuplicateContact = errors.New("contact already exists")
)
