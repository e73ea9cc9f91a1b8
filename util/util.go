// Package util contains misc internal utilities.
package util

import (
	"math"
	"time"
	"unicode"
)

// Limiter imposes software limits on a value.  A zero Limiter
// (Min == Max == 0) imposes no limit.
type Limiter struct {
	Min float64 `json:"min" yaml:"Min" koanf:"min"`
	Max float64 `json:"max" yaml:"Max" koanf:"max"`
}

// Check returns true if the input is within the limits (inclusive)
func (l Limiter) Check(input float64) bool {
	if l.Min == 0 && l.Max == 0 {
		return true
	}
	return input >= l.Min && input <= l.Max
}

// Clamp limits input to [low, high]
func Clamp(input, low, high float64) float64 {
	return math.Max(low, math.Min(input, high))
}

// SecsToDuration converts a float64 number of seconds to a time.Duration
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(math.Round(secs * 1e9))
}

// MillisToDuration converts a number of milliseconds, as typed by an operator, to a time.Duration
func MillisToDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * 1e6))
}

// AllElementsNumbers returns true if every rune in s is a digit or a decimal point
func AllElementsNumbers(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) && r != '.' {
			return false
		}
	}
	return true
}
