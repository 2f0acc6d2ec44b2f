package telemetry

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fleetsim/fleetctl/internal/engine"
)

// Ramp maps a state of charge to a color bucket. Bucket i covers
// SoC <= thresholds[i]; the last bucket covers everything above.
type Ramp struct {
	thresholds []float64
	colors     []engine.Color
}

// NewRamp parses colors in #RRGGBB form. There must be exactly one more
// color than thresholds.
func NewRamp(thresholds []float64, colors []string) (*Ramp, error) {
	if len(colors) != len(thresholds)+1 {
		return nil, fmt.Errorf("ramp needs %d colors, got %d", len(thresholds)+1, len(colors))
	}
	r := &Ramp{thresholds: append([]float64(nil), thresholds...)}
	for _, hex := range colors {
		c, err := ParseColor(hex)
		if err != nil {
			return nil, err
		}
		r.colors = append(r.colors, c)
	}
	return r, nil
}

// ParseColor parses an opaque #RRGGBB color.
func ParseColor(hex string) (engine.Color, error) {
	s := strings.TrimPrefix(hex, "#")
	if len(s) != 6 {
		return engine.Color{}, fmt.Errorf("color %q is not #RRGGBB", hex)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return engine.Color{}, fmt.Errorf("color %q: %w", hex, err)
	}
	return engine.Color{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

// Bucket returns the bucket index of soc.
func (r *Ramp) Bucket(soc float64) int {
	for i, t := range r.thresholds {
		if soc <= t {
			return i
		}
	}
	return len(r.thresholds)
}

// Color returns the color of soc.
func (r *Ramp) Color(soc float64) engine.Color {
	return r.colors[r.Bucket(soc)]
}
