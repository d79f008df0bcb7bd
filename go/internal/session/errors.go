package session

import "errors"

var (
	// ErrNotMounted is returned by actions on a controller that is not mounted
	ErrNotMounted = errors.New("session not mounted")

	// ErrAlreadyMounted is returned when mounting a mounted controller
	ErrAlreadyMounted = errors.New("session already mounted")
)
