package users

import "errors"

var (
	// ErrProfileNotFound is returned when a user has no stored profile
	ErrProfileNotFound = errors.New("user profile not found")

	// ErrInvalidProfile is returned when a profile fails validation
	ErrInvalidProfile = errors.New("invalid user profile")
)
