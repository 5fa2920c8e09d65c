package panel

import "errors"

var (
	// ErrConfigRead is returned when GET /config fails.
	ErrConfigRead = errors.New("panel: config read failed")

	// ErrConfigWrite is returned when POST /configsave fails after all attempts.
	ErrConfigWrite = errors.New("panel: config write failed")

	// ErrInvalidBinding is raised when a button uses a device or capability
	// that no longer exists or cannot be written.
	ErrInvalidBinding = errors.New("panel: invalid binding")

	// ErrInvalidConnector is returned for connector numbers outside 0-7.
	ErrInvalidConnector = errors.New("panel: invalid connector")

	// ErrPanelNotFound is returned for unknown panel ids.
	ErrPanelNotFound = errors.New("panel: not found")

	// ErrPanelExists is returned when registering a panel id twice.
	ErrPanelExists = errors.New("panel: already exists")

	// ErrInvalidPanel is returned when panel validation fails.
	ErrInvalidPanel = errors.New("panel: invalid panel")

	// ErrFirmwareUpdate is returned when GET /updatefirmware fails.
	ErrFirmwareUpdate = errors.New("panel: firmware update failed")
)
