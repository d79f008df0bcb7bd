package docstore

import "errors"

var (
	// ErrNotFound is returned when no document exists at a path
	ErrNotFound = errors.New("document not found")

	// ErrClosed is returned by operations on a closed store
	ErrClosed = errors.New("document store closed")

	// ErrInvalidPath is returned for empty or malformed document paths
	ErrInvalidPath = errors.New("invalid document path")
)

// ErrPermissionDenied is returned when the caller may not read or write a path
var ErrPermissionDenied = errors.New("permission denied")
