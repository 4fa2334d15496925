package mount

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/limits"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/path"
	"atmcs-sim/internal/planner"
)

func testConfig() Config {
	lim := planner.Limits{MaxVelocity: 5, MaxAcceleration: 4}
	rot := AxisConfig{Limits: lim, Min: -165, Max: 165}
	return Config{
		Axes: map[axis.ID]AxisConfig{
			axis.Elevation: {Limits: lim, Min: 5, Max: 90, Park: 80},
			axis.Azimuth:   {Limits: lim, Min: -270, Max: 270},
			axis.Rotator1:  rot,
			axis.Rotator2:  rot,
			axis.Rotator3:  rot,
		},
		StalenessTimeout: 2,
		SettleCount:      1,
		TrackWindow:      0.1,
		M3:               m3.Config{TransitDuration: 5},
	}
}

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := NewController(cfg, 0)
	require.NoError(t, err)
	return c
}

// target keeps elevation at park and moves azimuth.
func target(at, az, vaz float64) TrackTarget {
	return TrackTarget{
		Elevation: AxisTarget{Position: 80},
		Azimuth:   AxisTarget{Position: az, Velocity: vaz},
		Time:      at,
	}
}

func eventsOf(evs []Event, kind EventKind) []Event {
	var out []Event
	for _, e := range evs {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestNewControllerParked(t *testing.T) {
	c := newTestController(t, testConfig())
	st := c.Snapshot()
	assert.Equal(t, Disabled, st.Operational)
	assert.Equal(t, m3.Position{Port: m3.Port1}, st.Mirror)
	assert.Equal(t, 80.0, st.Axis(axis.Elevation).Position)
	assert.Equal(t, 0.0, st.Axis(axis.Azimuth).Position)
	assert.Len(t, st.Axes, 5)
	for _, a := range st.Axes {
		assert.Equal(t, path.Stopped, a.Kind)
	}
}

func TestNewControllerRejectsParkOutsideRange(t *testing.T) {
	cfg := testConfig()
	cfg.Axes[axis.Elevation] = AxisConfig{Limits: planner.Limits{MaxVelocity: 1, MaxAcceleration: 1}, Min: 5, Max: 90, Park: 0}
	_, err := NewController(cfg, 0)
	assert.Error(t, err)
}

func TestTrackingStream(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	for i := 0; i <= 40; i++ {
		now := float64(i) * 0.05
		var cmds []Command
		if i%10 == 0 {
			cmds = append(cmds, Track(target(now, now, 1)))
		}
		res, err := c.Tick(now, cmds)
		require.NoError(t, err)
		for _, r := range res {
			require.NoError(t, r)
		}
	}
	st := c.Snapshot()
	assert.InDelta(t, 2.0, st.Time, 1e-12)
	assert.InDelta(t, 2.0, st.Axis(axis.Azimuth).Position, 1e-3)
	assert.InDelta(t, 1.0, st.Axis(axis.Azimuth).Velocity, 1e-3)
	assert.Equal(t, EnabledTracking, st.Operational)
	assert.Equal(t, path.Tracking, st.Axis(axis.Azimuth).Kind)
}

func TestStalenessHoldsOncePerEpisode(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(10, []Command{Track(target(10, 0, 0.5))})
	require.NoError(t, err)

	for _, now := range []float64{11, 12} {
		_, err = c.Tick(now, nil)
		require.NoError(t, err)
		assert.Empty(t, eventsOf(c.DrainEvents(), EventTrackingLost), "t=%g", now)
	}

	_, err = c.Tick(12.01, nil)
	require.NoError(t, err)
	lost := eventsOf(c.DrainEvents(), EventTrackingLost)
	require.Len(t, lost, 1)
	assert.Equal(t, axis.All[:], lost[0].Axes)
	assert.Equal(t, 12.01, lost[0].Time)

	st := c.Snapshot()
	assert.True(t, st.Held)
	assert.Equal(t, EnabledTracking, st.Operational)
	for _, a := range st.Axes {
		assert.Zero(t, a.Velocity, a.ID.String())
	}
	held := st.Axis(axis.Azimuth).Position

	_, err = c.Tick(15, nil)
	require.NoError(t, err)
	assert.Empty(t, eventsOf(c.DrainEvents(), EventTrackingLost))
	assert.Equal(t, held, c.Snapshot().Axis(axis.Azimuth).Position)

	// a fresh target starts a new episode
	_, err = c.Tick(15.5, []Command{Track(target(15.5, 3, 0))})
	require.NoError(t, err)
	assert.False(t, c.Held())
	_, err = c.Tick(17.6, nil)
	require.NoError(t, err)
	assert.Len(t, eventsOf(c.DrainEvents(), EventTrackingLost), 1)
}

func TestValidUntilShortensStaleness(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	tt := target(0, 1, 0)
	tt.ValidUntil = 1
	_, err := c.Tick(0, []Command{Track(tt)})
	require.NoError(t, err)
	_, err = c.Tick(1, nil)
	require.NoError(t, err)
	assert.False(t, c.Held())
	_, err = c.Tick(1.05, nil)
	require.NoError(t, err)
	assert.True(t, c.Held())
}

func TestLimitRejectionIsAtomic(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(1, nil)
	require.NoError(t, err)
	c.DrainEvents()

	before := c.Snapshot()
	bad := target(1, 30, 0)
	bad.Elevation.Position = 95
	bad.Rotator3.Position = 500
	err = c.ApplyTrackTarget(bad)

	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, ErrLimitExceeded)
	assert.Equal(t, limits.Violation{Axis: axis.Elevation, Kind: limits.PositionAboveMax, Commanded: 95, Limit: 90}, le.Violation)

	if diff := cmp.Diff(before, c.Snapshot()); diff != "" {
		t.Errorf("rejected target changed the mount (-before +after):\n%s", diff)
	}
	ev := c.DrainEvents()
	require.Len(t, ev, 1)
	assert.Equal(t, EventPositionLimits, ev[0].Kind)
	assert.Equal(t, le.Violation, *ev[0].Violation)
}

func TestVelocityLimitRejected(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	err := c.ApplyTrackTarget(target(0, 10, 6))
	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, limits.VelocityExceeded, le.Violation.Kind)
	assert.Equal(t, axis.Azimuth, le.Violation.Axis)
}

func TestMirrorScenario(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(2, []Command{MoveM3(m3.Port3)})
	require.NoError(t, err)

	_, err = c.Tick(5, nil)
	require.NoError(t, err)
	assert.True(t, c.Snapshot().Mirror.InTransit)
	assert.ErrorIs(t, c.Apply(MoveM3(m3.Port2)), ErrBusy)

	_, err = c.Tick(7.01, nil)
	require.NoError(t, err)
	assert.Equal(t, m3.Position{Port: m3.Port3}, c.Snapshot().Mirror)
	in := eventsOf(c.DrainEvents(), EventM3InPosition)
	require.Len(t, in, 1)
	assert.Equal(t, m3.Port3, in[0].Port)

	_, err = c.Tick(8, nil)
	require.NoError(t, err)
	assert.Empty(t, c.DrainEvents())
}

func TestMoveM3InvalidPort(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	err := c.Apply(MoveM3(m3.Port(7)))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.ErrorIs(t, err, m3.ErrInvalidPort)
}

func TestCoupledAxesBlockedDuringTransit(t *testing.T) {
	cfg := testConfig()
	cfg.M3.BlockCoupledMotion = true
	cfg.M3.CoupledAxes = []axis.ID{axis.Rotator1, axis.Rotator2, axis.Rotator3}
	c := newTestController(t, cfg)
	require.NoError(t, c.Apply(Enable()))
	require.NoError(t, c.Apply(MoveM3(m3.Port2)))

	before := c.Snapshot()
	err := c.ApplyTrackTarget(target(0, 10, 0))
	require.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, EnabledIdle, c.OperationalState())
	if diff := cmp.Diff(before, c.Snapshot()); diff != "" {
		t.Errorf("blocked target changed the mount:\n%s", diff)
	}

	_, err = c.Tick(5, nil)
	require.NoError(t, err)
	require.NoError(t, c.ApplyTrackTarget(target(5, 10, 0)))
}

func TestIdenticalTargetIsIdempotent(t *testing.T) {
	run := func(repeats int) *State {
		c := newTestController(t, testConfig())
		require.NoError(t, c.Apply(Enable()))
		tt := target(0, 25, 0.3)
		tt.Rotator2 = AxisTarget{Position: -40, Velocity: -0.1}
		for i := 0; i < repeats; i++ {
			_, err := c.Tick(float64(i)*0.1, []Command{Track(tt)})
			require.NoError(t, err)
		}
		_, err := c.Tick(1.5, nil)
		require.NoError(t, err)
		return c.Snapshot()
	}
	if diff := cmp.Diff(run(1), run(2)); diff != "" {
		t.Errorf("repeated target changed the trajectory (-once +twice):\n%s", diff)
	}
}

func TestTargetsStayContinuousAndInsideLimits(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	lim := testConfig().Axes
	prev := c.Snapshot()
	for i := 1; i <= 400; i++ {
		now := float64(i) * 0.05
		var cmds []Command
		if i%7 == 0 {
			tt := TrackTarget{
				Elevation: AxisTarget{Position: 45 + 12*math.Sin(now/3), Velocity: 4 * math.Cos(now/3)},
				Azimuth:   AxisTarget{Position: 40 * math.Sin(now/10), Velocity: 4 * math.Cos(now/10)},
				Rotator1:  AxisTarget{Position: 20 * math.Cos(now/5), Velocity: -4 * math.Sin(now/5)},
				Time:      now,
			}
			cmds = append(cmds, Track(tt))
		}
		res, err := c.Tick(now, cmds)
		require.NoError(t, err)
		for _, r := range res {
			require.NoError(t, r)
		}
		st := c.Snapshot()
		require.NotEqual(t, Fault, st.Operational)
		for _, a := range st.Axes {
			b := lim[a.ID]
			assert.GreaterOrEqual(t, a.Position, b.Min-1e-9)
			assert.LessOrEqual(t, a.Position, b.Max+1e-9)
			assert.LessOrEqual(t, math.Abs(a.Velocity), b.Limits.MaxVelocity+1e-9)
			// position moves no further than max speed allows between ticks
			p0 := prev.Axis(a.ID).Position
			assert.LessOrEqual(t, math.Abs(a.Position-p0), b.Limits.MaxVelocity*0.05+1e-9, "jump on %s at t=%g", a.ID, now)
		}
		prev = st
	}
}

func TestFaultAndReset(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(0, []Command{Track(target(0, 100, 0))})
	require.NoError(t, err)
	_, err = c.Tick(2, []Command{InjectFault("encoder glitch")})
	require.NoError(t, err)

	st := c.Snapshot()
	assert.Equal(t, Fault, st.Operational)
	assert.Equal(t, "encoder glitch", st.LastFaultReason)
	assert.Equal(t, path.Stopping, st.Axis(axis.Azimuth).Kind)
	raised := eventsOf(c.DrainEvents(), EventFaultRaised)
	require.Len(t, raised, 1)
	assert.Equal(t, "encoder glitch", raised[0].Reason)

	assert.ErrorIs(t, c.ApplyTrackTarget(target(2, 0, 0)), ErrInvalidState)
	assert.ErrorIs(t, c.Apply(InjectFault("again")), ErrInvalidState)

	_, err = c.Tick(10, []Command{ResetFault()})
	require.NoError(t, err)
	st = c.Snapshot()
	assert.Equal(t, EnabledIdle, st.Operational)
	assert.Equal(t, "encoder glitch", st.LastFaultReason)
	assert.Zero(t, st.Axis(axis.Azimuth).Velocity)
	assert.Equal(t, path.Stopped, st.Axis(axis.Azimuth).Kind)
}

func TestDisableStopsAxes(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(0, []Command{Track(target(0, 100, 0))})
	require.NoError(t, err)
	_, err = c.Tick(1, []Command{Disable()})
	require.NoError(t, err)
	assert.Equal(t, Disabled, c.OperationalState())
	assert.Equal(t, path.Stopping, c.Snapshot().Axis(axis.Azimuth).Kind)

	_, err = c.Tick(5, nil)
	require.NoError(t, err)
	assert.Zero(t, c.Snapshot().Axis(axis.Azimuth).Velocity)
}

func TestStopTrackingReturnsToIdle(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(0, []Command{Track(target(0, 50, 1))})
	require.NoError(t, err)
	_, err = c.Tick(1, []Command{StopTracking()})
	require.NoError(t, err)
	assert.Equal(t, EnabledIdle, c.OperationalState())
	assert.Equal(t, path.Stopping, c.Snapshot().Axis(axis.Azimuth).Kind)

	// no staleness once idle
	_, err = c.Tick(30, nil)
	require.NoError(t, err)
	assert.Empty(t, eventsOf(c.DrainEvents(), EventTrackingLost))
}

func TestNonMonotonicTickFaults(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	_, err := c.Tick(1, nil)
	require.NoError(t, err)

	res, err := c.Tick(1, []Command{StopTracking()})
	require.ErrorIs(t, err, ErrInvariant)
	require.Len(t, res, 1)
	assert.ErrorIs(t, res[0], ErrInvariant)
	assert.Equal(t, Fault, c.OperationalState())
	assert.Equal(t, 1.0, c.Now())
	assert.Len(t, eventsOf(c.DrainEvents(), EventFaultRaised), 1)
}

func TestSameTickSupersedesInOrder(t *testing.T) {
	c := newTestController(t, testConfig())
	res, err := c.Tick(0, []Command{Track(target(0, 1, 0)), Enable(), Track(target(0, 2, 0))})
	require.NoError(t, err)
	assert.ErrorIs(t, res[0], ErrInvalidState)
	assert.NoError(t, res[1])
	assert.NoError(t, res[2])
	assert.Equal(t, EnabledTracking, c.OperationalState())
}

func TestWrapAppliedBeforeCheck(t *testing.T) {
	cfg := testConfig()
	az := cfg.Axes[axis.Azimuth]
	az.Wrap = limits.WrapPositive
	cfg.Axes[axis.Azimuth] = az
	c := newTestController(t, cfg)
	require.NoError(t, c.Apply(Enable()))
	// 300 is beyond max 270 but wraps to -60
	require.NoError(t, c.ApplyTrackTarget(target(0, 300, 0)))
	_, err := c.Tick(60, nil)
	require.NoError(t, err)
	assert.InDelta(t, -60.0, c.Snapshot().Axis(axis.Azimuth).Position, 1e-6)
}

func TestMalformedTargetRejected(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	assert.ErrorIs(t, c.ApplyTrackTarget(target(0, math.NaN(), 0)), ErrInvalidArgument)
	assert.ErrorIs(t, c.Apply(Command{Kind: CmdTrackTarget}), ErrInvalidArgument)
	assert.Equal(t, EnabledIdle, c.OperationalState())
}

func TestLimitSafetyNearBounds(t *testing.T) {
	cases := []struct {
		name      string
		id        axis.ID
		p0, v     float64
		every     int // ticks between targets, 0 sends one
		ticks     int
		staleness float64
		rejected  bool
		final     *float64
	}{
		{name: "elevation stream into max", id: axis.Elevation, p0: 85, v: 1, every: 10, ticks: 240, rejected: true},
		{name: "elevation stream into min", id: axis.Elevation, p0: 80, v: -4, every: 10, ticks: 500, rejected: true},
		{name: "rotator stream into max", id: axis.Rotator1, p0: 0, v: 4, every: 10, ticks: 1000, rejected: true},
		{name: "rotator stream into min", id: axis.Rotator2, p0: 0, v: -4, every: 7, ticks: 1000, rejected: true},
		{name: "elevation reference too fast near max", id: axis.Elevation, p0: 89, v: 4, ticks: 100, rejected: true},
		{name: "rotator reference coasts onto max", id: axis.Rotator3, p0: 10, v: 2, ticks: 2000, staleness: 200, final: ptr(165.0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			if tc.staleness > 0 {
				cfg.StalenessTimeout = tc.staleness
			}
			c := newTestController(t, cfg)
			require.NoError(t, c.Apply(Enable()))
			var accepted, rejected int
			for i := 0; i <= tc.ticks; i++ {
				now := float64(i) * 0.05
				var cmds []Command
				if (tc.every == 0 && i == 0) || (tc.every > 0 && i%tc.every == 0) {
					tt := target(now, 0, 0)
					tt.SetAxis(tc.id, AxisTarget{Position: tc.p0 + tc.v*now, Velocity: tc.v})
					cmds = append(cmds, Track(tt))
				}
				res, err := c.Tick(now, cmds)
				require.NoError(t, err, "t=%g", now)
				for _, r := range res {
					if r == nil {
						accepted++
						continue
					}
					require.ErrorIs(t, r, ErrLimitExceeded, "t=%g", now)
					rejected++
				}
				st := c.Snapshot()
				require.NotEqual(t, Fault, st.Operational, "t=%g: %s", now, st.LastFaultReason)
				for _, a := range st.Axes {
					b := cfg.Axes[a.ID]
					require.GreaterOrEqual(t, a.Position, b.Min-1e-9, "%s at t=%g", a.ID, now)
					require.LessOrEqual(t, a.Position, b.Max+1e-9, "%s at t=%g", a.ID, now)
					require.LessOrEqual(t, math.Abs(a.Velocity), b.Limits.MaxVelocity+1e-9, "%s at t=%g", a.ID, now)
				}
			}
			if tc.every > 0 || !tc.rejected {
				assert.Positive(t, accepted, "no target was accepted")
			}
			assert.Equal(t, tc.rejected, rejected > 0, "rejections: %d", rejected)
			if tc.final != nil {
				st := c.Snapshot().Axis(tc.id)
				assert.InDelta(t, *tc.final, st.Position, 1e-9)
				assert.InDelta(t, 0, st.Velocity, 1e-12)
			}
		})
	}
}

func TestPlannedOvershootRejected(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Apply(Enable()))
	c.DrainEvents()
	before := c.Snapshot()

	tt := target(0, 0, 0)
	tt.Elevation = AxisTarget{Position: 89, Velocity: 4}
	err := c.ApplyTrackTarget(tt)

	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, axis.Elevation, le.Violation.Axis)
	assert.Equal(t, limits.PositionAboveMax, le.Violation.Kind)
	assert.Greater(t, le.Violation.Commanded, 90.0)
	if diff := cmp.Diff(before, c.Snapshot()); diff != "" {
		t.Errorf("rejected target changed the mount (-before +after):\n%s", diff)
	}
	assert.Len(t, eventsOf(c.DrainEvents(), EventPositionLimits), 1)
}

func ptr[T any](v T) *T { return &v }
