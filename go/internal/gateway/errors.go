package gateway

import (
	"errors"

	"github.com/militapp/militapp/go/internal/docstore"
)

var (
	// ErrPermissionDenied is returned when an access rule rejects a request
	ErrPermissionDenied = docstore.ErrPermissionDenied

	// ErrUnauthenticated is returned when a request carries no user id
	ErrUnauthenticated = errors.New("missing user id")
)
