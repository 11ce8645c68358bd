package requests

import "errors"

var (
	// ErrConflict: the target is not pending any more, or no longer exists.
	ErrConflict = errors.New("requests: conflict")
	// ErrInvalidInput: a required field is missing or malformed.
	ErrInvalidInput = errors.New("requests: invalid input")
	// ErrStale: a newer load of the same view superseded this one.
	ErrStale = errors.New("requests: superseded by a newer load")
)
