package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atmcs-sim/internal/telemetry"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atmcs.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func frame(session string, simTime float64) telemetry.Frame {
	ts := time.Unix(100, 0).UTC().Add(time.Duration(simTime * float64(time.Second)))
	return telemetry.Frame{
		Axes: []telemetry.AxisRow{
			{SessionID: session, Axis: "elevation", Position: 45, Velocity: 0.5, Kind: "tracking", SimTime: simTime, Timestamp: ts},
			{SessionID: session, Axis: "azimuth", Position: -10, Acceleration: 1, Kind: "slewing", SimTime: simTime, Timestamp: ts},
		},
		Mirror:  telemetry.MirrorRow{SessionID: session, State: "InTransit", Port: "Port2", SimTime: simTime, Timestamp: ts},
		Summary: telemetry.SummaryRow{SessionID: session, OperationalState: "fault", Held: true, LastFaultReason: "op", SimTime: simTime, Timestamp: ts},
	}
}

func TestMigrations(t *testing.T) {
	s, _ := openTestStore(t)
	v, dirty, err := s.Version()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.EqualValues(t, 2, v)

	// Re-running is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestFramesRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	in := []telemetry.Frame{frame("a", 0), frame("a", 0.25), frame("b", 0)}
	require.NoError(t, s.WriteBatch(in))
	require.NoError(t, s.Write(frame("a", 0.5)))

	got, err := s.Frames(context.Background(), "a")
	require.NoError(t, err)
	want := []telemetry.Frame{in[0], in[1], frame("a", 0.5)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frames mismatch (-want +got):\n%s", diff)
	}

	sessions, err := s.Sessions(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, sessions)
}

func TestEventsRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ts := time.Unix(5, 0).UTC()
	events := []telemetry.EventRow{
		{SessionID: "a", EventID: "e2", EventType: telemetry.EventFaultRaised, Reason: "op", SimTime: 2, Timestamp: ts},
		{SessionID: "a", EventID: "e1", EventType: telemetry.EventPositionLimits, Axes: []string{"azimuth"},
			Violation: "aboveMax", Commanded: 300, Limit: 270, SimTime: 1, Timestamp: ts},
		{SessionID: "b", EventID: "e3", EventType: telemetry.EventM3InPosition, Port: "Port3", SimTime: 1, Timestamp: ts},
	}
	require.NoError(t, s.WriteEvents(events))
	// Duplicate ids are ignored.
	require.NoError(t, s.WriteEvent(events[0]))

	got, err := s.Events(context.Background(), "a")
	require.NoError(t, err)
	require.Len(t, got, 2)
	if diff := cmp.Diff([]telemetry.EventRow{events[1], events[0]}, got); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestReopenKeepsData(t *testing.T) {
	s, path := openTestStore(t)
	require.NoError(t, s.Write(frame("a", 1)))
	require.NoError(t, s.Close())

	s2, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer s2.Close()
	got, err := s2.Frames(context.Background(), "a")
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEmptyBatches(t *testing.T) {
	s, _ := openTestStore(t)
	assert.NoError(t, s.WriteBatch(nil))
	assert.NoError(t, s.WriteEvents(nil))
}
