package countdown

import "errors"

var (
	// ErrInvalidDuration is returned when arming with a non-positive duration
	ErrInvalidDuration = errors.New("countdown duration must be positive")

	// ErrNotReady is returned when Start is called on an engine that is not armed
	// or Arm is called on one that already started
	ErrNotReady = errors.New("countdown engine not ready")

	// ErrStale is returned when the countdown would already have reached zero
	ErrStale = errors.New("countdown start is stale")
)
