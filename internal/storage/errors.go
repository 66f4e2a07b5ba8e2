package storage

import "errors"

// Error kinds surfaced by storage operations. Handlers match them with
// errors.Is to pick response codes.
var (
	ErrInvalidPath  = errors.New("storage: path escapes the storage root")
	ErrNotFound     = errors.New("storage: path not found")
	ErrNotDirectory = errors.New("storage: not a directory")
	ErrConflict     = errors.New("storage: target already exists")
	ErrTooLarge     = errors.New("storage: file exceeds the maximum upload size")
)
