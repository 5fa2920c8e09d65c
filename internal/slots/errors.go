package slots

import "errors"

var (
	// ErrInvalidConfigIndex is returned for slot indices outside [0, MaxConfigurations).
	ErrInvalidConfigIndex = errors.New("slots: invalid configuration index")

	// ErrInvalidDimChange is returned when a dim change expression cannot be parsed.
	ErrInvalidDimChange = errors.New("slots: invalid dim change expression")
)
