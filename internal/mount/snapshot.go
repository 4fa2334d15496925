package mount

import (
	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/path"
)

// AxisSnapshot is the state of one axis at the snapshot time.
type AxisSnapshot struct {
	ID             axis.ID      `json:"id"`
	Position       float64      `json:"position"`
	Velocity       float64      `json:"velocity"`
	Acceleration   float64      `json:"acceleration"`
	Kind           path.Kind    `json:"kind"`
	Segment        path.Segment `json:"segment"`
	LastTargetTime float64      `json:"last_target_time"`
}

// State is an immutable snapshot of the whole mount at one simulation
// instant. Readers must not modify it.
type State struct {
	Time            float64          `json:"time"`
	Axes            []AxisSnapshot   `json:"axes"`
	Mirror          m3.Position      `json:"mirror"`
	Operational     OperationalState `json:"operational_state"`
	Held            bool             `json:"held"`
	LastFaultReason string           `json:"last_fault_reason,omitempty"`
}

// Axis returns the snapshot of one axis.
func (s *State) Axis(id axis.ID) AxisSnapshot {
	for _, a := range s.Axes {
		if a.ID == id {
			return a
		}
	}
	return AxisSnapshot{ID: id}
}

// Snapshot builds the state at the current simulation time in one pass.
func (c *Controller) Snapshot() *State {
	st := &State{
		Time:            c.now,
		Axes:            make([]AxisSnapshot, 0, len(c.axes)),
		Mirror:          c.mirror.Position(),
		Operational:     c.state,
		Held:            c.held,
		LastFaultReason: c.lastFaultReason,
	}
	for _, a := range c.axes {
		pva := a.At(c.now)
		st.Axes = append(st.Axes, AxisSnapshot{
			ID:             a.ID(),
			Position:       pva.Position,
			Velocity:       pva.Velocity,
			Acceleration:   pva.Acceleration,
			Kind:           a.Kind(c.now),
			Segment:        a.Segment(),
			LastTargetTime: a.LastAppliedTargetTime(),
		})
	}
	return st
}
