// Package limits checks commanded and simulated axis states against the
// configured soft position range and velocity bound.
package limits

import (
	"fmt"
	"math"
	"strings"

	"atmcs-sim/internal/axis"
)

// Kind classifies a limit violation.
type Kind int

const (
	PositionBelowMin Kind = iota
	PositionAboveMax
	VelocityExceeded
)

func (k Kind) String() string {
	switch k {
	case PositionBelowMin:
		return "positionBelowMin"
	case PositionAboveMax:
		return "positionAboveMax"
	case VelocityExceeded:
		return "velocityExceeded"
	default:
		return fmt.Sprintf("limitKind(%d)", int(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Violation describes the first bound an axis state broke.
type Violation struct {
	Axis      axis.ID `json:"axis"`
	Kind      Kind    `json:"kind"`
	Commanded float64 `json:"commanded"`
	Limit     float64 `json:"limit"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %s: commanded %g, limit %g", v.Axis, v.Kind, v.Commanded, v.Limit)
}

// WrapPolicy selects how commanded angles are wrapped into the range of an
// axis that can turn more than one revolution.
type WrapPolicy int

const (
	WrapNone WrapPolicy = iota
	WrapPositive
	WrapNegative
)

func (w WrapPolicy) String() string {
	switch w {
	case WrapPositive:
		return "positive"
	case WrapNegative:
		return "negative"
	default:
		return "none"
	}
}

// ParseWrapPolicy accepts "", "none", "positive" or "negative".
func ParseWrapPolicy(s string) (WrapPolicy, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return WrapNone, nil
	case "positive":
		return WrapPositive, nil
	case "negative":
		return WrapNegative, nil
	}
	return WrapNone, fmt.Errorf("unknown wrap policy %q", s)
}

// Axis holds the bounds of one axis.
type Axis struct {
	Min         float64
	Max         float64
	MaxVelocity float64
	Wrap        WrapPolicy
}

// Monitor checks axis states against per-axis bounds. It holds no mutable
// state and is safe for concurrent use.
type Monitor struct {
	axes [len(axis.All)]Axis
}

// NewMonitor validates the bounds of every axis.
func NewMonitor(bounds map[axis.ID]Axis) (*Monitor, error) {
	m := &Monitor{}
	for _, id := range axis.All {
		b, ok := bounds[id]
		if !ok {
			return nil, fmt.Errorf("missing limits for %s", id)
		}
		if !(b.Min < b.Max) {
			return nil, fmt.Errorf("%s: min %g must be below max %g", id, b.Min, b.Max)
		}
		if !(b.MaxVelocity > 0) {
			return nil, fmt.Errorf("%s: max velocity must be > 0, got %g", id, b.MaxVelocity)
		}
		if b.Wrap != WrapNone && b.Max-b.Min <= 360 {
			return nil, fmt.Errorf("%s: wrap %s needs a range wider than 360 deg, got %g", id, b.Wrap, b.Max-b.Min)
		}
		m.axes[id] = b
	}
	return m, nil
}

// Bounds returns the configured bounds of an axis.
func (m *Monitor) Bounds(id axis.ID) Axis { return m.axes[id] }

// Check reports the first violated bound, testing the minimum position, the
// maximum position and then the velocity.
func (m *Monitor) Check(id axis.ID, position, velocity float64) (Violation, bool) {
	return m.CheckWithin(id, position, velocity, 0)
}

// CheckWithin is Check with every bound relaxed by tol.
func (m *Monitor) CheckWithin(id axis.ID, position, velocity, tol float64) (Violation, bool) {
	b := m.axes[id]
	switch {
	case position < b.Min-tol:
		return Violation{Axis: id, Kind: PositionBelowMin, Commanded: position, Limit: b.Min}, true
	case position > b.Max+tol:
		return Violation{Axis: id, Kind: PositionAboveMax, Commanded: position, Limit: b.Max}, true
	case math.Abs(velocity) > b.MaxVelocity+tol:
		return Violation{Axis: id, Kind: VelocityExceeded, Commanded: velocity, Limit: b.MaxVelocity}, true
	}
	return Violation{}, false
}

// Wrap applies the axis wrap policy to a commanded angle.
func (m *Monitor) Wrap(id axis.ID, angle float64) float64 {
	b := m.axes[id]
	if b.Wrap == WrapNone {
		return angle
	}
	// span was checked by NewMonitor
	w, _ := WrapAngle(angle, b.Wrap == WrapPositive, b.Min, b.Max)
	return w
}

// WrapAngle wraps angle (deg) into [w-360, w) where w is max when wrapping
// positive and min+360 otherwise. The range must span more than 360 deg.
func WrapAngle(angle float64, positive bool, min, max float64) (float64, error) {
	if max-min <= 360 {
		return 0, fmt.Errorf("max %g - min %g = %g <= 360", max, min, max-min)
	}
	w := min + 360
	if positive {
		w = max
	}
	lo := w - 360
	return angle - 360*math.Floor((angle-lo)/360), nil
}

// DefaultPark is the park position used when none is configured: 0 when it
// lies within the range, otherwise the minimum.
func (a Axis) DefaultPark() float64 {
	if a.Min <= 0 && 0 <= a.Max {
		return 0
	}
	return a.Min
}
