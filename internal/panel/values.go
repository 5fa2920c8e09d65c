package panel

import (
	"math"

	"github.com/nerrad567/panelsync/internal/hub"
)

// MirrorPayload converts a capability value to what mirror topics carry:
// dim becomes a whole percentage and a cover state becomes a boolean.
func MirrorPayload(capability string, v any) any {
	switch capability {
	case hub.CapDim:
		if f, ok := v.(float64); ok {
			return int(math.Round(f * 100))
		}
	case hub.CapWindowCovers:
		return coverIsUp(v)
	}
	if v == nil {
		return false
	}
	return v
}

// ButtonState derives the lit/unlit state of a button from the value of
// the capability it is bound to. Dim buttons never latch.
func ButtonState(capability string, v any) bool {
	switch capability {
	case hub.CapDim:
		return false
	case hub.CapWindowCovers:
		return coverIsUp(v)
	}
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != "" && x != "false" && x != "0"
	}
	return false
}

func coverIsUp(v any) bool {
	s, _ := v.(string)
	return s == hub.CoverUp
}

// nextCover is the cover state a click moves to.
func nextCover(current any) string {
	if coverIsUp(current) {
		return hub.CoverDown
	}
	return hub.CoverUp
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

func asBool(v any) bool {
	return ButtonState("", v)
}
