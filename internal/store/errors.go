package store

import "errors"

// ErrNotFound is returned when a key has no live counter entry.
var ErrNotFound = errors.New("counter entry not found")
