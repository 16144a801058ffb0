package tts

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want float64
	}{
		{"below minimum clamps", 0.1, 0.25},
		{"above maximum clamps", 10.0, 4.0},
		{"int above maximum", 10, 4.0},
		{"in range", 1.5, 1.5},
		{"float32", float32(2), 2.0},
		{"negative", -3.0, 0.25},
		{"json number", json.Number("0.8"), 0.8},
		{"numeric string", "2.5", 2.5},
		{"numeric string clamps", "9", 4.0},
		{"faster", "faster", 1.25},
		{"named case insensitive", " Slowest ", 0.5},
		{"slower", "slower", 0.75},
		{"slow", "slow", 0.9},
		{"normal", "normal", 1.0},
		{"fast", "fast", 1.1},
		{"fastest", "fastest", 1.5},
		{"unknown name", "warp", 1.0},
		{"nil", nil, 1.0},
		{"bool", true, 1.0},
		{"NaN", math.NaN(), 1.0},
		{"NaN string", "NaN", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, ConvertSpeed(tt.in), 1e-9)
		})
	}
}
