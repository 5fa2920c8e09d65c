package firmware

import (
	"testing"
	"time"
)

func TestFeatureGates(t *testing.T) {
	tests := []struct {
		fw       string
		hardware bool
		rgb      bool
		paged    bool
	}{
		{"", false, false, false},
		{"garbage", false, false, false},
		{"1.08", false, false, false},
		{"1.08.9", false, false, false},
		{"1.09.0", true, false, false},
		{"1.9", true, false, false},
		{"1.10", true, false, false},
		{"1.11.99", true, false, false},
		{"1.12", true, true, false},
		{"v1.12.1", true, true, false},
		{"1.99", true, true, false},
		{"2.0", true, true, true},
		{"2.01.4", true, true, true},
		{"10.0", true, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.fw, func(t *testing.T) {
			v := Parse(tt.fw)
			if got := v.HardwareProtocol(); got != tt.hardware {
				t.Errorf("HardwareProtocol() = %v, want %v", got, tt.hardware)
			}
			if got := v.RGBLEDs(); got != tt.rgb {
				t.Errorf("RGBLEDs() = %v, want %v", got, tt.rgb)
			}
			if got := v.Paged(); got != tt.paged {
				t.Errorf("Paged() = %v, want %v", got, tt.paged)
			}
		})
	}
}

func TestNumericComparisonNotLexical(t *testing.T) {
	// Lexically "1.10" < "1.9"; numerically it is newer.
	if !Parse("1.10").AtLeast("1.9") {
		t.Error("1.10 should be at least 1.9")
	}
	if Parse("1.9").AtLeast("1.10") {
		t.Error("1.9 should not be at least 1.10")
	}
}

func TestWriteDelay(t *testing.T) {
	if got := Parse("1.12").WriteDelay(); got != 100*time.Millisecond {
		t.Errorf("WriteDelay(1.12) = %v", got)
	}
	if got := Parse("2.0.0").WriteDelay(); got != 10*time.Second {
		t.Errorf("WriteDelay(2.0.0) = %v", got)
	}
}

func TestParse_KeepsRaw(t *testing.T) {
	v := Parse(" 1.09.2 ")
	if v.String() != "1.09.2" || !v.Known() {
		t.Errorf("Parse() = %q known=%v", v.String(), v.Known())
	}
	if Parse("abc").Known() {
		t.Error("abc should not parse")
	}
}
