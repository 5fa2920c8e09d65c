package hub

import "errors"

// Errors returned by the registry. Check with errors.Is.
var (
	// ErrDeviceNotFound is returned when a device ID does not exist.
	ErrDeviceNotFound = errors.New("hub: device not found")

	// ErrDeviceExists is returned when creating a device with an ID that already exists.
	ErrDeviceExists = errors.New("hub: device already exists")

	// ErrCapabilityNotFound is returned when the device has no such capability.
	ErrCapabilityNotFound = errors.New("hub: capability not found")

	// ErrNotSetable is returned when writing a read-only capability.
	ErrNotSetable = errors.New("hub: capability not setable")

	// ErrVariableNotFound is returned for unknown logic variables.
	ErrVariableNotFound = errors.New("hub: variable not found")

	// ErrInvalidValue is returned when a value does not match the capability type.
	ErrInvalidValue = errors.New("hub: invalid value")

	// ErrInvalidDevice is returned when device validation fails.
	ErrInvalidDevice = errors.New("hub: invalid device")
)
