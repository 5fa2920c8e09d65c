package hub

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// CapabilityType is the value type a capability holds.
type CapabilityType string

const (
	TypeBoolean CapabilityType = "boolean"
	TypeNumber  CapabilityType = "number"
	TypeString  CapabilityType = "string"
)

// Well-known capability names with special button semantics.
const (
	CapOnOff         = "onoff"
	CapDim           = "dim"
	CapWindowCovers  = "windowcoverings_state"
	CapInfo          = "info"
	CapPage          = "page"
	CapTemperature   = "measure_temperature"
	CapBrightness    = "brightness"
	CoverUp          = "up"
	CoverDown        = "down"
	CoverIdle        = "idle"
	maxDeviceNameLen = 100
)

// CapabilityDef describes one capability of a device.
type CapabilityDef struct {
	Name    string         `json:"name"`
	Type    CapabilityType `json:"type"`
	Setable bool           `json:"setable"`
}

// Device is a hub device with its current capability values.
type Device struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Class        string          `json:"class,omitempty"`
	Capabilities []CapabilityDef `json:"capabilities"`
	State        map[string]any  `json:"state"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Change is emitted when a capability or variable value changes.
type Change struct {
	DeviceID   string `json:"device_id,omitempty"`
	Capability string `json:"capability"`
	Value      any    `json:"value"`
	// Variable is set for logic variable changes; Capability then holds the variable name.
	Variable bool `json:"variable,omitempty"`
}

// DeepCopy returns a copy that shares no mutable state with d.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Capabilities = slices.Clone(d.Capabilities)
	cp.State = maps.Clone(d.State)
	if cp.State == nil {
		cp.State = map[string]any{}
	}
	return &cp
}

// Capability looks up a capability definition by name.
func (d *Device) Capability(name string) (CapabilityDef, bool) {
	for _, c := range d.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return CapabilityDef{}, false
}

// Validate checks the device's identity fields and capability list.
func (d *Device) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidDevice)
	}
	if strings.ContainsAny(d.ID, "/+#") {
		return fmt.Errorf("%w: id %q must be usable as a topic level", ErrInvalidDevice, d.ID)
	}
	if d.Name == "" || len(d.Name) > maxDeviceNameLen {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidDevice, maxDeviceNameLen)
	}
	seen := make(map[string]bool, len(d.Capabilities))
	for _, c := range d.Capabilities {
		if c.Name == "" || strings.ContainsAny(c.Name, "/+#") {
			return fmt.Errorf("%w: bad capability name %q", ErrInvalidDevice, c.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("%w: duplicate capability %q", ErrInvalidDevice, c.Name)
		}
		seen[c.Name] = true
		switch c.Type {
		case TypeBoolean, TypeNumber, TypeString:
		default:
			return fmt.Errorf("%w: capability %q has unknown type %q", ErrInvalidDevice, c.Name, c.Type)
		}
	}
	return nil
}

// coerce converts v to the canonical Go type for t (bool, float64, string).
func coerce(t CapabilityType, v any) (any, error) {
	switch t {
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %v (%T) is not a %s", ErrInvalidValue, v, v, t)
}

// canonical normalises numeric variable values so change detection is stable.
func canonical(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
