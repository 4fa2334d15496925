package sim

import (
	"time"

	"atmcs-sim/internal/telemetry"
)

func sampleFrame(simTime float64) telemetry.Frame {
	ts := time.Unix(0, 0).UTC().Add(time.Duration(simTime * float64(time.Second)))
	return telemetry.Frame{
		Axes: []telemetry.AxisRow{
			{SessionID: "s1", Axis: "elevation", Position: 80, Kind: "stopped", SimTime: simTime, Timestamp: ts},
			{SessionID: "s1", Axis: "azimuth", Position: 12.5, Velocity: 1.5, Kind: "tracking", SimTime: simTime, Timestamp: ts},
		},
		Mirror:  telemetry.MirrorRow{SessionID: "s1", State: "Port1", Port: "Port1", SimTime: simTime, Timestamp: ts},
		Summary: telemetry.SummaryRow{SessionID: "s1", OperationalState: "enabledTracking", SimTime: simTime, Timestamp: ts},
	}
}

func sampleEvent() telemetry.EventRow {
	return telemetry.EventRow{
		SessionID: "s1",
		EventID:   "e1",
		EventType: telemetry.EventTrackingLost,
		Axes:      []string{"elevation", "azimuth"},
		SimTime:   12.01,
		Timestamp: time.Unix(12, 0).UTC(),
	}
}
