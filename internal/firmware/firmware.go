// Package firmware decides which panel protocol features a firmware version supports.
package firmware

import (
	"strings"
	"time"

	version "github.com/hashicorp/go-version"
)

// Feature thresholds.
var (
	hardwareProtocol = version.Must(version.NewVersion("1.09.0"))
	rgbLEDs          = version.Must(version.NewVersion("1.12.0"))
	pagedLayout      = version.Must(version.NewVersion("2.0.0"))
	zero             = version.Must(version.NewVersion("0.0.0"))
)

const (
	legacyWriteDelay = 100 * time.Millisecond
	pagedWriteDelay  = 10 * time.Second
)

// Version is a parsed panel firmware version. The zero value behaves like
// the oldest supported firmware.
type Version struct {
	raw string
	v   *version.Version
}

// Parse reads a firmware string such as "1.09.3" or "v2.0". Components are
// compared numerically, so "1.10" is newer than "1.09". Unparseable input
// yields the zero Version.
func Parse(s string) Version {
	raw := strings.TrimSpace(s)
	v, err := version.NewVersion(strings.TrimPrefix(strings.TrimPrefix(raw, "v"), "V"))
	if err != nil {
		return Version{raw: raw}
	}
	return Version{raw: raw, v: v}
}

func (fv Version) version() *version.Version {
	if fv.v == nil {
		return zero
	}
	return fv.v
}

// String returns the firmware string as reported by the panel.
func (fv Version) String() string {
	return fv.raw
}

// Known reports whether the string parsed.
func (fv Version) Known() bool {
	return fv.v != nil
}

// AtLeast reports whether fv >= other.
func (fv Version) AtLeast(other string) bool {
	o, err := version.NewVersion(other)
	if err != nil {
		return false
	}
	return fv.version().GreaterThanOrEqual(o)
}

// HardwareProtocol reports support for per-button hardware topics
// (click/longpress/release/label/toplabel under the panel's own prefix).
// Older firmware publishes presses to shared legacy topics.
func (fv Version) HardwareProtocol() bool {
	return fv.version().GreaterThanOrEqual(hardwareProtocol)
}

// RGBLEDs reports support for separate front and wall LED colour topics and
// the core brightness topics. Older firmware only has a single value topic.
func (fv Version) RGBLEDs() bool {
	return fv.version().GreaterThanOrEqual(rgbLEDs)
}

// Paged reports multi-page button layouts and page state/set topics.
func (fv Version) Paged() bool {
	return fv.version().GreaterThanOrEqual(pagedLayout)
}

// WriteDelay is the wait between configuration write attempts, and before
// topic subscriptions are made after a successful write. Paged firmware
// reboots its network stack on save and needs much longer.
func (fv Version) WriteDelay() time.Duration {
	if fv.Paged() {
		return pagedWriteDelay
	}
	return legacyWriteDelay
}
