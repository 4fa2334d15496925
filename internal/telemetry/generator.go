package telemetry

import (
	"math"
	"time"

	"atmcs-sim/internal/mount"
)

// Generator turns mount snapshots and events into telemetry rows. Row
// timestamps are the session epoch plus the simulation time.
type Generator struct {
	SessionID string
	Epoch     time.Time
}

// NewGenerator creates a generator for a session starting at epoch.
func NewGenerator(sessionID string, epoch time.Time) *Generator {
	return &Generator{SessionID: sessionID, Epoch: epoch.UTC()}
}

// At maps a simulation time (seconds) onto wall time.
func (g *Generator) At(simTime float64) time.Time {
	return g.Epoch.Add(time.Duration(math.Round(simTime * float64(time.Second))))
}

// Frame builds the telemetry frame for a snapshot.
func (g *Generator) Frame(st *mount.State) Frame {
	ts := g.At(st.Time)
	f := Frame{
		Axes: make([]AxisRow, 0, len(st.Axes)),
		Mirror: MirrorRow{
			SessionID: g.SessionID,
			State:     st.Mirror.String(),
			Port:      st.Mirror.Port.String(),
			SimTime:   st.Time,
			Timestamp: ts,
		},
		Summary: SummaryRow{
			SessionID:        g.SessionID,
			OperationalState: st.Operational.String(),
			Held:             st.Held,
			LastFaultReason:  st.LastFaultReason,
			SimTime:          st.Time,
			Timestamp:        ts,
		},
	}
	for _, a := range st.Axes {
		f.Axes = append(f.Axes, AxisRow{
			SessionID:    g.SessionID,
			Axis:         a.ID.String(),
			Position:     a.Position,
			Velocity:     a.Velocity,
			Acceleration: a.Acceleration,
			Kind:         a.Kind.String(),
			SimTime:      st.Time,
			Timestamp:    ts,
		})
	}
	return f
}

// Event builds the row for a mount event.
func (g *Generator) Event(ev mount.Event) EventRow {
	row := EventRow{
		SessionID: g.SessionID,
		EventID:   ev.ID.String(),
		EventType: ev.Kind.String(),
		Reason:    ev.Reason,
		SimTime:   ev.Time,
		Timestamp: g.At(ev.Time),
	}
	for _, id := range ev.Axes {
		row.Axes = append(row.Axes, id.String())
	}
	if v := ev.Violation; v != nil {
		row.Axes = []string{v.Axis.String()}
		row.Violation = v.Kind.String()
		row.Commanded = v.Commanded
		row.Limit = v.Limit
	}
	if ev.Port != 0 {
		row.Port = ev.Port.String()
	}
	return row
}
