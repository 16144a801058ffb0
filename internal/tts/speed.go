// Package tts normalises user-supplied speech settings before they reach the
// speech provider.
package tts

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

const (
	MinSpeed     = 0.25
	MaxSpeed     = 4.0
	DefaultSpeed = 1.0
)

var namedSpeeds = map[string]float64{
	"slowest": 0.5,
	"slower":  0.75,
	"slow":    0.9,
	"normal":  1.0,
	"fast":    1.1,
	"faster":  1.25,
	"fastest": 1.5,
}

// ConvertSpeed turns a speed given as a number, a numeric string or a named
// preset into a multiplier within [MinSpeed, MaxSpeed]. Anything it cannot
// interpret is DefaultSpeed.
func ConvertSpeed(v any) float64 {
	switch s := v.(type) {
	case float64:
		return clamp(s)
	case float32:
		return clamp(float64(s))
	case int:
		return clamp(float64(s))
	case int64:
		return clamp(float64(s))
	case json.Number:
		f, err := s.Float64()
		if err != nil {
			return DefaultSpeed
		}
		return clamp(f)
	case string:
		name := strings.ToLower(strings.TrimSpace(s))
		if speed, ok := namedSpeeds[name]; ok {
			return speed
		}
		f, err := strconv.ParseFloat(name, 64)
		if err != nil {
			return DefaultSpeed
		}
		return clamp(f)
	default:
		return DefaultSpeed
	}
}

func clamp(f float64) float64 {
	if math.IsNaN(f) {
		return DefaultSpeed
	}
	return math.Max(MinSpeed, math.Min(MaxSpeed, f))
}
