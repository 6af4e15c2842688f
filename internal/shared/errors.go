package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrLockNotObtained indicates a per-key critical section is held elsewhere.
	ErrLockNotObtained = errors.New("lock not obtained")
)
