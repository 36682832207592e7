package herald

import "errors"

var (
	// ErrDuplicateHandler is returned when two handlers are registered
	// under the same callback id. This is a fatal configuration error.
	ErrDuplicateHandler = errors.New("duplicate handler id")

	// ErrInvalidConfig is returned when a configuration map enables a
	// handler but lacks the keys that handler requires.
	ErrInvalidConfig = errors.New("invalid configuration")
)
