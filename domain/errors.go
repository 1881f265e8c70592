package domain

import "errors"

// ErrNotFound is returned by the storage layer when a record does not exist.
var ErrNotFound = errors.New("not found")
