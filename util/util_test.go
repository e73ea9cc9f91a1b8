package util_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/nasa-jpl/daisy/util"
)

func ExampleClamp() {
	fmt.Println(util.Clamp(20, 0, 10), util.Clamp(-1, 0, 10), util.Clamp(5, 0, 10))
	// Output: 10 0 5
}

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}

func TestMillisToDuration(t *testing.T) {
	if out := util.MillisToDuration(15000); out != 15*time.Second {
		t.Errorf("expected 15s, got %v", out)
	}
}

func TestLimiter(t *testing.T) {
	tests := []struct {
		lim  util.Limiter
		in   float64
		want bool
	}{
		{util.Limiter{}, 1e9, true},
		{util.Limiter{Min: -10, Max: 10}, 10, true},
		{util.Limiter{Min: -10, Max: 10}, -10.5, false},
		{util.Limiter{Min: -10, Max: 10}, 11, false},
	}
	for _, tt := range tests {
		if got := tt.lim.Check(tt.in); got != tt.want {
			t.Errorf("%+v.Check(%v) = %v, want %v", tt.lim, tt.in, got, tt.want)
		}
	}
}

func TestAllElementsNumbers(t *testing.T) {
	if !util.AllElementsNumbers("0.025") {
		t.Error("expected 0.025 to be all numbers")
	}
	if util.AllElementsNumbers("25ms") {
		t.Error("expected 25ms to contain a unit")
	}
	if util.AllElementsNumbers("") {
		t.Error("expected empty string to not be a number")
	}
}
