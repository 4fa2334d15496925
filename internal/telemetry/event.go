package telemetry

import "time"

// Event types.
const (
	EventPositionLimits = "positionLimits"
	EventTrackingLost   = "trackingLost"
	EventM3InPosition   = "m3InPosition"
	EventFaultRaised    = "faultRaised"
)

// EventRow is one mount event. Only the fields of its type are set.
type EventRow struct {
	SessionID string    `json:"session_id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Axes      []string  `json:"axes,omitempty"`
	Violation string    `json:"violation,omitempty"`
	Commanded float64   `json:"commanded,omitempty"`
	Limit     float64   `json:"limit,omitempty"`
	Port      string    `json:"port,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SimTime   float64   `json:"sim_time"`
	Timestamp time.Time `json:"ts"`
}
