package broker

import "errors"

var (
	// ErrConnectFailed is returned when a broker cannot be reached.
	// It is logged and retried, never fatal.
	ErrConnectFailed = errors.New("broker: connect failed")

	// ErrUnknownBroker is returned for operations on a broker id that is not registered.
	ErrUnknownBroker = errors.New("broker: unknown broker")

	// ErrInvalidBroker is returned when a broker definition fails validation.
	ErrInvalidBroker = errors.New("broker: invalid broker")

	// ErrProtected is returned when removing or editing a protected broker.
	ErrProtected = errors.New("broker: broker is protected")
)
