package effects

import (
	"fmt"
	"math"
	"strings"
)

// Kind is one of the mutually exclusive oscillating effects.
type Kind int

const (
	None Kind = iota
	Strobe
	SlowStrobe
	GlowRamp
	SlowGlowRamp
)

// Kinds lists every oscillating effect.
var Kinds = []Kind{Strobe, SlowStrobe, GlowRamp, SlowGlowRamp}

// Hz returns the oscillation frequency. Each effect runs at half the rate
// of the previous one.
func (k Kind) Hz() float64 {
	switch k {
	case Strobe:
		return 5
	case SlowStrobe:
		return 1.25
	case GlowRamp:
		return 0.625
	case SlowGlowRamp:
		return 0.3125
	}
	return 0
}

func (k Kind) String() string {
	switch k {
	case Strobe:
		return "strobe"
	case SlowStrobe:
		return "slow-strobe"
	case GlowRamp:
		return "glow-ramp"
	case SlowGlowRamp:
		return "slow-glow-ramp"
	}
	return "none"
}

// ParseKind maps an effect name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return None, fmt.Errorf("unknown effect %q", name)
}

// oscillator produces 0.5*(1+sin(phase)) samples. The phase starts at -pi/2
// so the first sample is dark.
type oscillator struct {
	phase float64
	step  float64
}

func newOscillator(hz, updateHz float64) *oscillator {
	return &oscillator{
		phase: -math.Pi / 2,
		step:  2 * math.Pi * hz / updateHz,
	}
}

func (o *oscillator) next() float64 {
	v := 0.5 * (1 + math.Sin(o.phase))
	o.phase += o.step
	if o.phase > math.Pi {
		o.phase -= 2 * math.Pi
	}
	return v
}
