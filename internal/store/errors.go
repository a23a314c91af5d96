package store

import "errors"

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("record not found")
