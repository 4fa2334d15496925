// Motion segments built from constant-jerk phases
package path

import (
	"fmt"
	"math"
	"strings"
)

// Kind describes what an axis is doing while it follows a segment.
type Kind int

const (
	Stopped Kind = iota
	Tracking
	Slewing
	Stopping
)

func (k Kind) String() string {
	switch k {
	case Stopped:
		return "stopped"
	case Tracking:
		return "tracking"
	case Slewing:
		return "slewing"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText renders the kind as its lower-case name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a kind name.
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "stopped":
		*k = Stopped
	case "tracking":
		*k = Tracking
	case "slewing":
		*k = Slewing
	case "stopping":
		*k = Stopping
	default:
		return fmt.Errorf("unknown path kind %q", string(b))
	}
	return nil
}

// Phase is a stretch of constant jerk. Accel is the acceleration at the
// start of the phase.
type Phase struct {
	Duration float64 `json:"duration"`
	Accel    float64 `json:"accel"`
	Jerk     float64 `json:"jerk,omitempty"`
}

// PVA is position, velocity and acceleration at one instant.
type PVA struct {
	Position     float64 `json:"position"`
	Velocity     float64 `json:"velocity"`
	Acceleration float64 `json:"acceleration"`
}

// Segment is a time-parameterized motion from a start state through an
// ordered list of phases. End state fields are derived by integrating the
// phases and are never set independently.
type Segment struct {
	Start         float64 `json:"start"`
	StartPosition float64 `json:"start_position"`
	StartVelocity float64 `json:"start_velocity"`
	Phases        []Phase `json:"phases,omitempty"`
	End           float64 `json:"end"`
	EndPosition   float64 `json:"end_position"`
	EndVelocity   float64 `json:"end_velocity"`
	Kind          Kind    `json:"kind"`
}

// New builds a segment starting at (t0, p0, v0) and integrates the phases
// to fill in the end state. Phases with a non-positive duration are dropped.
func New(t0, p0, v0 float64, kind Kind, phases ...Phase) Segment {
	seg := Segment{Start: t0, StartPosition: p0, StartVelocity: v0, Kind: kind}
	p, v, t := p0, v0, t0
	for _, ph := range phases {
		if ph.Duration <= 0 {
			continue
		}
		p, v, _ = advance(p, v, ph.Accel, ph.Jerk, ph.Duration)
		t += ph.Duration
		seg.Phases = append(seg.Phases, ph)
	}
	seg.End = t
	seg.EndPosition = p
	seg.EndVelocity = v
	return seg
}

// Rest returns a zero-duration segment holding position p from time t.
func Rest(t, p float64) Segment {
	return New(t, p, 0, Stopped)
}

// Duration returns End - Start.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// At evaluates the segment at time t. Times before Start report the start
// state; after End the segment coasts at EndVelocity with zero acceleration.
func (s Segment) At(t float64) PVA {
	if t <= s.Start {
		return PVA{Position: s.StartPosition, Velocity: s.StartVelocity, Acceleration: s.startAccel()}
	}
	if t >= s.End {
		dt := t - s.End
		return PVA{Position: s.EndPosition + s.EndVelocity*dt, Velocity: s.EndVelocity}
	}
	p, v, t0 := s.StartPosition, s.StartVelocity, s.Start
	for _, ph := range s.Phases {
		if t < t0+ph.Duration {
			pp, vv, aa := advance(p, v, ph.Accel, ph.Jerk, t-t0)
			return PVA{Position: pp, Velocity: vv, Acceleration: aa}
		}
		p, v, _ = advance(p, v, ph.Accel, ph.Jerk, ph.Duration)
		t0 += ph.Duration
	}
	return PVA{Position: s.EndPosition, Velocity: s.EndVelocity}
}

func (s Segment) startAccel() float64 {
	if len(s.Phases) == 0 {
		return 0
	}
	return s.Phases[0].Accel
}

// MaxSpeed returns the largest |velocity| reached within [Start, End].
func (s Segment) MaxSpeed() float64 {
	maxV := math.Abs(s.StartVelocity)
	v := s.StartVelocity
	for _, ph := range s.Phases {
		// interior extremum where a + j*dt == 0
		if ph.Jerk != 0 {
			if dt := -ph.Accel / ph.Jerk; dt > 0 && dt < ph.Duration {
				_, ve, _ := advance(0, v, ph.Accel, ph.Jerk, dt)
				maxV = math.Max(maxV, math.Abs(ve))
			}
		}
		_, v, _ = advance(0, v, ph.Accel, ph.Jerk, ph.Duration)
		maxV = math.Max(maxV, math.Abs(v))
	}
	return maxV
}

// Extent returns the lowest and highest position reached within
// [Start, End].
func (s Segment) Extent() (lo, hi float64) {
	lo, hi = s.StartPosition, s.StartPosition
	p, v := s.StartPosition, s.StartVelocity
	for _, ph := range s.Phases {
		for _, dt := range stationary(v, ph.Accel, ph.Jerk, ph.Duration) {
			pe, _, _ := advance(p, v, ph.Accel, ph.Jerk, dt)
			lo, hi = math.Min(lo, pe), math.Max(hi, pe)
		}
		p, v, _ = advance(p, v, ph.Accel, ph.Jerk, ph.Duration)
		lo, hi = math.Min(lo, p), math.Max(hi, p)
	}
	return lo, hi
}

// stationary returns the times in (0, d) where v + a*t + j*t^2/2 is zero.
func stationary(v, a, j, d float64) []float64 {
	var roots []float64
	switch {
	case j == 0 && a != 0:
		roots = append(roots, -v/a)
	case j != 0:
		disc := a*a - 2*j*v
		if disc < 0 {
			return nil
		}
		sq := math.Sqrt(disc)
		roots = append(roots, (-a-sq)/j, (-a+sq)/j)
	}
	out := roots[:0]
	for _, t := range roots {
		if t > 0 && t < d {
			out = append(out, t)
		}
	}
	return out
}

// MaxAccel returns the largest |acceleration| used by any phase.
func (s Segment) MaxAccel() float64 {
	var maxA float64
	for _, ph := range s.Phases {
		maxA = math.Max(maxA, math.Abs(ph.Accel))
		maxA = math.Max(maxA, math.Abs(ph.Accel+ph.Jerk*ph.Duration))
	}
	return maxA
}

// Clone returns a deep copy so the phase slice can be shared with readers.
func (s Segment) Clone() Segment {
	c := s
	if s.Phases != nil {
		c.Phases = append([]Phase(nil), s.Phases...)
	}
	return c
}

func (s Segment) String() string {
	return fmt.Sprintf("Segment(%s t=[%.6f, %.6f] p=%.6f->%.6f v=%.6f->%.6f phases=%d)",
		s.Kind, s.Start, s.End, s.StartPosition, s.EndPosition, s.StartVelocity, s.EndVelocity, len(s.Phases))
}

func advance(p, v, a, j, dt float64) (float64, float64, float64) {
	return p + dt*(v+dt*(0.5*a+dt*j/6)),
		v + dt*(a+0.5*j*dt),
		a + j*dt
}
