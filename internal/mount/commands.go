package mount

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/limits"
	"atmcs-sim/internal/m3"
)

// AxisTarget is the commanded position (deg) and velocity (deg/s) of one
// axis at the target time.
type AxisTarget struct {
	Position float64 `json:"position" yaml:"position"`
	Velocity float64 `json:"velocity" yaml:"velocity"`
}

// TrackTarget is a tracking demand for all five axes. Time is the
// simulation time the positions refer to; ValidUntil, when non-zero, ends
// tracking before the staleness timeout.
type TrackTarget struct {
	Elevation  AxisTarget `json:"elevation"`
	Azimuth    AxisTarget `json:"azimuth"`
	Rotator1   AxisTarget `json:"rotator1"`
	Rotator2   AxisTarget `json:"rotator2"`
	Rotator3   AxisTarget `json:"rotator3"`
	Time       float64    `json:"time"`
	ValidUntil float64    `json:"valid_until,omitempty"`
}

// Axis returns the demand for one axis.
func (t TrackTarget) Axis(id axis.ID) AxisTarget {
	switch id {
	case axis.Elevation:
		return t.Elevation
	case axis.Azimuth:
		return t.Azimuth
	case axis.Rotator1:
		return t.Rotator1
	case axis.Rotator2:
		return t.Rotator2
	default:
		return t.Rotator3
	}
}

// SetAxis replaces the demand for one axis.
func (t *TrackTarget) SetAxis(id axis.ID, at AxisTarget) {
	switch id {
	case axis.Elevation:
		t.Elevation = at
	case axis.Azimuth:
		t.Azimuth = at
	case axis.Rotator1:
		t.Rotator1 = at
	case axis.Rotator2:
		t.Rotator2 = at
	case axis.Rotator3:
		t.Rotator3 = at
	}
}

func (t TrackTarget) validate() error {
	for _, id := range axis.All {
		at := t.Axis(id)
		if !finite(at.Position) || !finite(at.Velocity) {
			return fmt.Errorf("%w: %s target is not finite", ErrInvalidArgument, id)
		}
	}
	if !finite(t.Time) || !finite(t.ValidUntil) {
		return fmt.Errorf("%w: target time is not finite", ErrInvalidArgument)
	}
	if t.ValidUntil != 0 && t.ValidUntil < t.Time {
		return fmt.Errorf("%w: valid_until %g precedes time %g", ErrInvalidArgument, t.ValidUntil, t.Time)
	}
	return nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// Command is one inbound command. Only the fields of its Kind are used.
type Command struct {
	ID     uuid.UUID    `json:"id"`
	Kind   CommandKind  `json:"kind"`
	Target *TrackTarget `json:"target,omitempty"`
	Port   m3.Port      `json:"port,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

func newCommand(kind CommandKind) Command {
	return Command{ID: uuid.New(), Kind: kind}
}

// Enable returns an enable command.
func Enable() Command { return newCommand(CmdEnable) }

// Disable returns a disable command.
func Disable() Command { return newCommand(CmdDisable) }

// ResetFault returns a fault reset command.
func ResetFault() Command { return newCommand(CmdResetFault) }

// StopTracking returns a stop command.
func StopTracking() Command { return newCommand(CmdStopTracking) }

// Track returns a tracking command for t.
func Track(t TrackTarget) Command {
	c := newCommand(CmdTrackTarget)
	c.Target = &t
	return c
}

// MoveM3 returns a command moving the mirror to port.
func MoveM3(port m3.Port) Command {
	c := newCommand(CmdMoveM3)
	c.Port = port
	return c
}

// InjectFault returns a command forcing Fault with reason.
func InjectFault(reason string) Command {
	c := newCommand(CmdInjectFault)
	c.Reason = reason
	return c
}

// EventKind enumerates the outbound notifications.
type EventKind int

const (
	EventPositionLimits EventKind = iota
	EventTrackingLost
	EventM3InPosition
	EventFaultRaised
)

var eventKindNames = [...]string{"positionLimits", "trackingLost", "m3InPosition", "faultRaised"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return fmt.Sprintf("event(%d)", int(k))
	}
	return eventKindNames[k]
}

func (k EventKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *EventKind) UnmarshalText(b []byte) error {
	for i, name := range eventKindNames {
		if string(b) == name {
			*k = EventKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown event %q", string(b))
}

// Event is emitted on transitions. Only the fields of its Kind are set.
type Event struct {
	ID        uuid.UUID         `json:"id"`
	Kind      EventKind         `json:"kind"`
	Time      float64           `json:"time"`
	Violation *limits.Violation `json:"violation,omitempty"`
	Axes      []axis.ID         `json:"axes,omitempty"`
	Port      m3.Port           `json:"port,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

func (e Event) String() string {
	switch e.Kind {
	case EventPositionLimits:
		if e.Violation != nil {
			return fmt.Sprintf("%s t=%.3f %s", e.Kind, e.Time, e.Violation)
		}
	case EventTrackingLost:
		return fmt.Sprintf("%s t=%.3f axes=%v", e.Kind, e.Time, e.Axes)
	case EventM3InPosition:
		return fmt.Sprintf("%s t=%.3f %s", e.Kind, e.Time, e.Port)
	case EventFaultRaised:
		return fmt.Sprintf("%s t=%.3f %q", e.Kind, e.Time, e.Reason)
	}
	return fmt.Sprintf("%s t=%.3f", e.Kind, e.Time)
}
