package slots

import (
	"encoding/json"
	"fmt"
)

// MaxConfigurations is the fixed number of button slots and of display slots.
const MaxConfigurations = 20

// Binding sentinels for the Device field.
const (
	// DeviceNone marks a virtual button, or static text on a display.
	DeviceNone = "none"
	// DeviceVariable binds to a hub logic variable named by Capability.
	DeviceVariable = "_variable_"
	// DeviceCustomMQTT publishes the user's CustomTopics instead of binding a capability.
	DeviceCustomMQTT = "customMQTT"

	// BrokerDefault resolves to the process-wide default broker at publish time.
	BrokerDefault = "Default"
)

// Side is one of the two buttons on a button bar.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Sides lists both sides in hardware order.
var Sides = [2]Side{SideLeft, SideRight}

// ParseSide accepts "left"/"right" (and "0"/"1").
func ParseSide(s string) (Side, error) {
	switch s {
	case "left", "0":
		return SideLeft, nil
	case "right", "1":
		return SideRight, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// Offset is 0 for left and 1 for right.
func (s Side) Offset() int {
	if s == SideRight {
		return 1
	}
	return 0
}

// CustomTopic is one user-defined topic/payload/event-type triple.
type CustomTopic struct {
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	EventType int    `json:"eventType"`
}

// ButtonSide is the configuration of one button on one page.
type ButtonSide struct {
	Device     string `json:"device"`
	Capability string `json:"capability"`
	OnText     string `json:"onText"`
	OffText    string `json:"offText"`
	TopLabel   string `json:"topLabel"`
	BrokerID   string `json:"brokerId"`
	// DimChange is "+N"/"-N" (relative percent) or "N" (absolute percent).
	DimChange string `json:"dimChange"`
	// LongDelay and LongRepeat are in milliseconds.
	LongDelay     int  `json:"longDelay"`
	LongRepeat    int  `json:"longRepeat"`
	DisableRepeat bool `json:"disableRepeat"`
	// LED colours as "#rrggbb".
	FrontLEDOn   string        `json:"frontLedOn"`
	FrontLEDOff  string        `json:"frontLedOff"`
	WallLEDOn    string        `json:"wallLedOn"`
	WallLEDOff   string        `json:"wallLedOff"`
	CustomTopics []CustomTopic `json:"customTopics"`
}

// Page holds both sides of a button bar for one page.
type Page struct {
	Left  ButtonSide `json:"left"`
	Right ButtonSide `json:"right"`
}

// Side returns the configuration for s.
func (p Page) Side(s Side) ButtonSide {
	if s == SideRight {
		return p.Right
	}
	return p.Left
}

// ButtonSlot is a named button-bar configuration with one or more pages.
type ButtonSlot struct {
	Name  string `json:"name"`
	Pages []Page `json:"pages"`
}

// Page returns page n, or false when the slot has no such page.
func (s ButtonSlot) Page(n int) (Page, bool) {
	if n < 0 || n >= len(s.Pages) {
		return Page{}, false
	}
	return s.Pages[n], true
}

// DisplayItem is one rendered field on a display connector.
type DisplayItem struct {
	X          int    `json:"x"`
	Y          int    `json:"y"`
	Width      int    `json:"width"`
	FontSize   int    `json:"fontSize"`
	Label      string `json:"label"`
	Unit       string `json:"unit"`
	Rounding   int    `json:"rounding"`
	Device     string `json:"device"`
	Capability string `json:"capability"`
	BrokerID   string `json:"brokerId"`
	Page       int    `json:"page"`
}

// DisplaySlot is a named list of display items.
type DisplaySlot struct {
	Name  string        `json:"name"`
	Items []DisplayItem `json:"items"`
}

// IsBound reports whether the side references a hub device capability.
func (b ButtonSide) IsBound() bool {
	switch b.Device {
	case "", DeviceNone, DeviceVariable, DeviceCustomMQTT:
		return false
	}
	return true
}

// Latches reports whether release should leave the button lit: an on-label
// with no off-label keeps showing the on state.
func (b ButtonSide) Latches() bool {
	return b.OnText != "" && b.OffText == ""
}

// References reports whether the side reads or writes deviceID/capability.
func (b ButtonSide) References(deviceID, capability string) bool {
	return b.Device == deviceID && b.Capability == capability
}

// References reports whether the item displays deviceID/capability.
func (d DisplayItem) References(deviceID, capability string) bool {
	return d.Device == deviceID && d.Capability == capability
}

// DefaultButtonSide returns the per-field defaults for a button side.
func DefaultButtonSide() ButtonSide {
	return ButtonSide{
		Device:      DeviceNone,
		BrokerID:    BrokerDefault,
		DimChange:   "+10",
		LongDelay:   750,
		LongRepeat:  500,
		FrontLEDOn:  "#ffffff",
		FrontLEDOff: "#000000",
		WallLEDOn:   "#ffffff",
		WallLEDOff:  "#000000",
	}
}

// DefaultPage returns a page with both sides defaulted.
func DefaultPage() Page {
	return Page{Left: DefaultButtonSide(), Right: DefaultButtonSide()}
}

// DefaultButtonSlot returns the default slot for index i.
func DefaultButtonSlot(i int) ButtonSlot {
	return ButtonSlot{
		Name:  fmt.Sprintf("Buttons %d", i+1),
		Pages: []Page{DefaultPage()},
	}
}

// DefaultDisplayItem returns the per-field defaults for a display item.
func DefaultDisplayItem() DisplayItem {
	return DisplayItem{
		Width:    50,
		FontSize: 2,
		Rounding: 1,
		Device:   DeviceNone,
		BrokerID: BrokerDefault,
	}
}

// DefaultDisplaySlot returns the default slot for index i.
func DefaultDisplaySlot(i int) DisplaySlot {
	return DisplaySlot{Name: fmt.Sprintf("Display %d", i+1)}
}

// UnmarshalJSON fills fields missing from data with their defaults.
func (b *ButtonSide) UnmarshalJSON(data []byte) error {
	type plain ButtonSide
	p := plain(DefaultButtonSide())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*b = ButtonSide(p)
	return nil
}

// UnmarshalJSON fills fields missing from data with their defaults.
func (d *DisplayItem) UnmarshalJSON(data []byte) error {
	type plain DisplayItem
	p := plain(DefaultDisplayItem())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*d = DisplayItem(p)
	return nil
}

// normalizeSide repairs empty sentinel fields.
func normalizeSide(b ButtonSide) ButtonSide {
	d := DefaultButtonSide()
	if b.Device == "" {
		b.Device = d.Device
	}
	if b.BrokerID == "" {
		b.BrokerID = d.BrokerID
	}
	if b.DimChange == "" {
		b.DimChange = d.DimChange
	}
	if b.LongDelay <= 0 {
		b.LongDelay = d.LongDelay
	}
	if b.LongRepeat <= 0 {
		b.LongRepeat = d.LongRepeat
	}
	b.CustomTopics = append([]CustomTopic(nil), b.CustomTopics...)
	return b
}

// NormalizeButtonSlot returns a deep copy of s with at least one page and
// empty fields defaulted.
func NormalizeButtonSlot(i int, s ButtonSlot) ButtonSlot {
	out := ButtonSlot{Name: s.Name}
	if out.Name == "" {
		out.Name = DefaultButtonSlot(i).Name
	}
	if len(s.Pages) == 0 {
		out.Pages = []Page{DefaultPage()}
		return out
	}
	out.Pages = make([]Page, len(s.Pages))
	for n, p := range s.Pages {
		out.Pages[n] = Page{Left: normalizeSide(p.Left), Right: normalizeSide(p.Right)}
	}
	return out
}

// NormalizeDisplaySlot returns a deep copy of s with empty fields defaulted.
func NormalizeDisplaySlot(i int, s DisplaySlot) DisplaySlot {
	out := DisplaySlot{Name: s.Name}
	if out.Name == "" {
		out.Name = DefaultDisplaySlot(i).Name
	}
	out.Items = make([]DisplayItem, len(s.Items))
	for n, item := range s.Items {
		if item.Device == "" {
			item.Device = DeviceNone
		}
		if item.BrokerID == "" {
			item.BrokerID = BrokerDefault
		}
		out.Items[n] = item
	}
	return out
}
