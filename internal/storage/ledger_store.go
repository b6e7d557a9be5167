// Package storage holds what the store backends share.
package storage

import "errors"

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("record already exists")
	// ErrConflict is returned when a unit of work lost a race with a
	// concurrent one and could not be retried.
	ErrConflict = errors.New("concurrent update conflict")
)
