package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrDuplicate is returned when a create collides with an existing key.
var ErrDuplicate = errors.New("storage: duplicate key")
