package roster

import "errors"

// ErrListNotFound is returned when a list does not exist in the zone
var ErrListNotFound = errors.New("roster list not found")
