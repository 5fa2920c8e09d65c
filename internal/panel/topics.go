package panel

import (
	"fmt"
	"strings"

	"github.com/nerrad567/panelsync/internal/slots"
)

// MirrorPrefix roots the capability mirror and legacy press topics.
const MirrorPrefix = "homey"

// Button event names as they appear in hardware topics.
const (
	EventClick      = "click"
	EventLongPress  = "longpress"
	EventRelease    = "release"
	EventShortPress = "shortpress"
	EventMultiPress = "multipress"
)

// Brightness topic kinds.
const (
	BrightnessLarge = "large"
	BrightnessMini  = "mini"
	BrightnessLED   = "led"
)

// Topics builds the hardware-protocol topics of one panel.
type Topics struct {
	Vendor  string
	PanelID string
}

func (t Topics) root() string {
	return t.Vendor + "/" + t.PanelID
}

// Button is the base topic of hardware button idx on a wire page.
func (t Topics) Button(idx, page int) string {
	return fmt.Sprintf("%s/button/%d-%d", t.root(), idx, page)
}

// ButtonEvent is the topic the panel publishes a press event on.
func (t Topics) ButtonEvent(idx, page int, event string) string {
	return t.Button(idx, page) + "/" + event
}

// Label is the label set topic of a button.
func (t Topics) Label(idx, page int) string {
	return t.Button(idx, page) + "/label/set"
}

// TopLabel is the top label set topic of a button.
func (t Topics) TopLabel(idx, page int) string {
	return t.Button(idx, page) + "/toplabel/set"
}

// Value is the single LED/state topic used by firmware without RGB LEDs.
func (t Topics) Value(idx, page int) string {
	return t.Button(idx, page) + "/value"
}

// LEDFront is the front LED colour topic.
func (t Topics) LEDFront(idx, page int) string {
	return t.Button(idx, page) + "/led/front/rgb/set"
}

// LEDWall is the wall LED colour topic.
func (t Topics) LEDWall(idx, page int) string {
	return t.Button(idx, page) + "/led/wall/rgb/set"
}

// PageSet switches the panel's page.
func (t Topics) PageSet() string { return t.root() + "/page/set" }

// PageState is where the panel reports its page.
func (t Topics) PageState() string { return t.root() + "/page/state" }

// BrightnessSet sets the panel brightness.
func (t Topics) BrightnessSet() string { return t.root() + "/brightness/set" }

// Brightness is where the panel reports one brightness value.
func (t Topics) Brightness(kind string) string { return t.root() + "/brightness/" + kind }

// Sensor is where the panel reports sensor n.
func (t Topics) Sensor(n int) string { return fmt.Sprintf("%s/sensor/%d", t.root(), n) }

// VendorSubscriptions are the filters that cover everything panels publish.
func VendorSubscriptions(vendor string) []string {
	return []string{
		vendor + "/+/button/+/" + EventClick,
		vendor + "/+/button/+/" + EventLongPress,
		vendor + "/+/button/+/" + EventRelease,
		vendor + "/+/page/state",
		vendor + "/+/sensor/+",
		vendor + "/+/brightness/+",
	}
}

// LegacyEvent maps the legacy press topic names to button events.
var LegacyEvent = map[string]string{
	"click":        EventClick,
	"longpress":    EventLongPress,
	"clickrelease": EventRelease,
	"shortpress":   EventShortPress,
	"multipress":   EventMultiPress,
}

// LegacyPressTopic is the shared topic pre-hardware-protocol panels
// publish presses on.
func LegacyPressTopic(name string) string {
	return MirrorPrefix + "/" + name
}

// LegacySubscriptions lists every legacy press topic.
func LegacySubscriptions() []string {
	out := make([]string, 0, len(LegacyEvent))
	for _, name := range []string{"click", "longpress", "clickrelease", "shortpress", "multipress"} {
		out = append(out, LegacyPressTopic(name))
	}
	return out
}

// CapabilitySetFilter matches capability write requests.
const CapabilitySetFilter = MirrorPrefix + "/+/+/set"

// MirrorValue is the value mirror topic of a device capability.
func MirrorValue(deviceID, capability string) string {
	return MirrorPrefix + "/" + deviceID + "/" + capability + "/value"
}

// MirrorLabel is the label mirror topic of a device capability.
func MirrorLabel(deviceID, capability string) string {
	return MirrorPrefix + "/" + deviceID + "/" + capability + "/label"
}

// VirtualID names a button with no bound capability on the mirror topics.
// Hardware ids repeat across panels, so the panel id is part of it.
func VirtualID(panelID string, idx, page int) string {
	return fmt.Sprintf("%s-%d-%d", panelID, idx, page)
}

// VirtualValue is the mirror value topic of a virtual button.
func VirtualValue(id string) string {
	return MirrorPrefix + "/button/" + id + "/value"
}

// VirtualLabel is the mirror label topic of a virtual button.
func VirtualLabel(id string) string {
	return MirrorPrefix + "/button/" + id + "/label"
}

// sideMirror returns the value and label mirror topics for a button side.
func sideMirror(panelID string, idx, page int, side slots.ButtonSide) (value, label string) {
	switch {
	case side.IsBound():
		return MirrorValue(side.Device, side.Capability), MirrorLabel(side.Device, side.Capability)
	case side.Device == slots.DeviceVariable && side.Capability != "":
		return MirrorValue(slots.DeviceVariable, side.Capability), MirrorLabel(slots.DeviceVariable, side.Capability)
	}
	id := VirtualID(panelID, idx, page)
	return VirtualValue(id), VirtualLabel(id)
}

// ParseCapabilitySet splits homey/<device>/<capability>/set.
func ParseCapabilitySet(topic string) (deviceID, capability string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != MirrorPrefix || parts[3] != "set" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
