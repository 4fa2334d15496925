// Telemetry rows with greptime tags
package telemetry

import (
	"os"
	"time"
)

// AxisRow is the periodic telemetry of one axis.
type AxisRow struct {
	SessionID    string    `json:"session_id"`   // TAG
	Axis         string    `json:"axis"`         // TAG
	Position     float64   `json:"position"`     // FIELD
	Velocity     float64   `json:"velocity"`     // FIELD
	Acceleration float64   `json:"acceleration"` // FIELD
	Kind         string    `json:"kind"`         // FIELD
	SimTime      float64   `json:"sim_time"`     // FIELD
	Timestamp    time.Time `json:"ts"`           // TIME INDEX
}

// MirrorRow is the periodic telemetry of the M3 selector. Port is the
// settled port, or the destination while in transit.
type MirrorRow struct {
	SessionID string    `json:"session_id"` // TAG
	State     string    `json:"state"`      // FIELD
	Port      string    `json:"port"`       // FIELD
	SimTime   float64   `json:"sim_time"`   // FIELD
	Timestamp time.Time `json:"ts"`         // TIME INDEX
}

// SummaryRow carries the operational state.
type SummaryRow struct {
	SessionID        string    `json:"session_id"`                  // TAG
	OperationalState string    `json:"operational_state"`           // FIELD
	Held             bool      `json:"held"`                        // FIELD
	LastFaultReason  string    `json:"last_fault_reason,omitempty"` // FIELD
	SimTime          float64   `json:"sim_time"`                    // FIELD
	Timestamp        time.Time `json:"ts"`                          // TIME INDEX
}

// Frame groups the rows published for one snapshot.
type Frame struct {
	Axes    []AxisRow  `json:"axes"`
	Mirror  MirrorRow  `json:"mirror"`
	Summary SummaryRow `json:"summary"`
}

// Timestamp returns the wall time of the frame.
func (f Frame) Timestamp() time.Time { return f.Summary.Timestamp }

func tableName(env, def string) string {
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

// Table names used when writing to GreptimeDB or SQLite. They can be
// overridden through GREPTIMEDB_*_TABLE environment variables.
var (
	AxisTableName    = tableName("GREPTIMEDB_AXIS_TABLE", "atmcs_axis")
	MirrorTableName  = tableName("GREPTIMEDB_MIRROR_TABLE", "atmcs_mirror")
	SummaryTableName = tableName("GREPTIMEDB_SUMMARY_TABLE", "atmcs_summary")
	EventTableName   = tableName("GREPTIMEDB_EVENT_TABLE", "atmcs_events")
)

func (AxisRow) TableName() string    { return AxisTableName }
func (MirrorRow) TableName() string  { return MirrorTableName }
func (SummaryRow) TableName() string { return SummaryTableName }
func (EventRow) TableName() string   { return EventTableName }
