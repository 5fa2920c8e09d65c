package panel

import (
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/panelsync/internal/firmware"
	"github.com/nerrad567/panelsync/internal/panel/deviceconfig"
	"github.com/nerrad567/panelsync/internal/slots"
)

// NumConnectors is the number of expansion positions on a panel.
const NumConnectors = 8

// NoSlot marks a connector without an assigned slot.
const NoSlot = -1

// ConnectorType is what is plugged into a connector.
type ConnectorType string

const (
	ConnectorUnconfigured ConnectorType = "unconfigured"
	ConnectorButtonBar    ConnectorType = "buttonBar"
	ConnectorDisplay      ConnectorType = "display"
)

// ParseConnectorType validates a connector type string.
func ParseConnectorType(s string) (ConnectorType, error) {
	switch t := ConnectorType(s); t {
	case ConnectorUnconfigured, ConnectorButtonBar, ConnectorDisplay:
		return t, nil
	}
	return "", fmt.Errorf("%w: unknown connector type %q", ErrInvalidPanel, s)
}

func connectorTypeFromWire(t int) ConnectorType {
	switch t {
	case deviceconfig.ConnectorButtonBar:
		return ConnectorButtonBar
	case deviceconfig.ConnectorDisplay:
		return ConnectorDisplay
	}
	return ConnectorUnconfigured
}

// Connector is one connector's type and assigned slot index.
type Connector struct {
	Type ConnectorType `json:"type"`
	Slot int           `json:"slot"`
}

// Panel is a registered panel.
type Panel struct {
	ID         string                   `json:"id"`
	Name       string                   `json:"name"`
	Address    string                   `json:"address"`
	Mac        string                   `json:"mac"`
	Firmware   string                   `json:"firmware"`
	Connectors [NumConnectors]Connector `json:"connectors"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
}

// Discovered is one result of network discovery.
type Discovered struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// Version returns the parsed firmware version.
func (p Panel) Version() firmware.Version {
	return firmware.Parse(p.Firmware)
}

// Validate checks identity fields and connector assignments.
func (p Panel) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPanel)
	}
	if strings.ContainsAny(p.ID, "/+#") {
		return fmt.Errorf("%w: id %q must be usable as a topic level", ErrInvalidPanel, p.ID)
	}
	if strings.TrimSpace(p.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrInvalidPanel)
	}
	for i, c := range p.Connectors {
		if _, err := ParseConnectorType(string(c.Type)); err != nil {
			return fmt.Errorf("connector %d: %w", i, err)
		}
		if c.Slot < NoSlot || c.Slot >= slots.MaxConfigurations {
			return fmt.Errorf("connector %d: %w: %d", i, slots.ErrInvalidConfigIndex, c.Slot)
		}
	}
	return nil
}

// ReferencesSlot reports whether any connector of type t uses slot idx.
func (p Panel) ReferencesSlot(t ConnectorType, idx int) bool {
	for _, c := range p.Connectors {
		if c.Type == t && c.Slot == idx {
			return true
		}
	}
	return false
}

// CheckConnector returns ErrInvalidConnector unless 0 <= n < NumConnectors.
func CheckConnector(n int) error {
	if n < 0 || n >= NumConnectors {
		return fmt.Errorf("%w: %d", ErrInvalidConnector, n)
	}
	return nil
}

func unconfiguredConnectors() [NumConnectors]Connector {
	var out [NumConnectors]Connector
	for i := range out {
		out[i] = Connector{Type: ConnectorUnconfigured, Slot: NoSlot}
	}
	return out
}

// ButtonIndex is the hardware button id of one side of connector c.
func ButtonIndex(connector int, side slots.Side) int {
	return connector*2 + side.Offset()
}
