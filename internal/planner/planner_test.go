package planner

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"atmcs-sim/internal/path"
)

var testLimits = Limits{MaxVelocity: 2, MaxAcceleration: 1}

// checkSegment asserts the bounds every planned segment must respect.
func checkSegment(t *testing.T, seg path.Segment, target Target, lim Limits) {
	t.Helper()
	assert.InDelta(t, target.Position, seg.EndPosition, 1e-6, "end position")
	assert.InDelta(t, target.Velocity, seg.EndVelocity, 1e-9, "end velocity")
	assert.LessOrEqual(t, seg.MaxSpeed(), lim.MaxVelocity+1e-9, "speed bound")
	assert.LessOrEqual(t, seg.MaxAccel(), lim.MaxAcceleration+1e-12, "acceleration bound")
}

func TestPlanTrapezoidRestToRest(t *testing.T) {
	start := State{Time: 0, Position: 0}
	target := Target{Position: 5}
	seg, err := Plan(start, target, testLimits)
	require.NoError(t, err)

	checkSegment(t, seg, target, testLimits)
	require.Len(t, seg.Phases, 3)
	assert.InDelta(t, 2.0, seg.Phases[0].Duration, 1e-12)
	assert.InDelta(t, 0.5, seg.Phases[1].Duration, 1e-12)
	assert.InDelta(t, 2.0, seg.Phases[2].Duration, 1e-12)
	assert.InDelta(t, 4.5, seg.End, 1e-12)
	assert.InDelta(t, 2.0, seg.MaxSpeed(), 1e-12)
	assert.Equal(t, path.Slewing, seg.Kind)
}

func TestPlanTriangular(t *testing.T) {
	seg, err := Plan(State{}, Target{Position: 1}, testLimits)
	require.NoError(t, err)
	require.Len(t, seg.Phases, 2)
	assert.InDelta(t, 2.0, seg.End, 1e-12)
	assert.InDelta(t, 1.0, seg.MaxSpeed(), 1e-12)
}

func TestPlanPeakTieIsTriangular(t *testing.T) {
	// vmax^2/amax is exactly the distance where the peak touches vmax
	seg, err := Plan(State{}, Target{Position: 4}, testLimits)
	require.NoError(t, err)
	assert.Len(t, seg.Phases, 2)
	assert.InDelta(t, 4.0, seg.End, 1e-12)
}

func TestPlanReverse(t *testing.T) {
	target := Target{Position: -5}
	seg, err := Plan(State{Position: 0}, target, testLimits)
	require.NoError(t, err)
	checkSegment(t, seg, target, testLimits)
	assert.InDelta(t, 4.5, seg.End, 1e-12)
	assert.Less(t, seg.Phases[0].Accel, 0.0)
}

func TestPlanDegenerate(t *testing.T) {
	seg, err := Plan(State{Time: 3, Position: 7}, Target{Position: 7}, testLimits)
	require.NoError(t, err)
	assert.Zero(t, seg.Duration())
	assert.Empty(t, seg.Phases)
	assert.Equal(t, path.Stopped, seg.Kind)

	seg, err = Plan(State{Time: 3, Position: 7, Velocity: 1}, Target{Position: 7, Velocity: 1}, testLimits)
	require.NoError(t, err)
	assert.Zero(t, seg.Duration())
	assert.Equal(t, path.Tracking, seg.Kind)
}

func TestPlanSingleRamp(t *testing.T) {
	// 0 -> 1 deg/s covers exactly 0.5 deg at 1 deg/s^2
	seg, err := Plan(State{}, Target{Position: 0.5, Velocity: 1}, testLimits)
	require.NoError(t, err)
	require.Len(t, seg.Phases, 1)
	assert.InDelta(t, 1.0, seg.End, 1e-12)
}

func TestPlanStretchArrivesOnTime(t *testing.T) {
	target := Target{Position: 1, Time: 10}
	seg, err := Plan(State{}, target, testLimits)
	require.NoError(t, err)
	checkSegment(t, seg, target, testLimits)
	assert.InDelta(t, 10.0, seg.End, 1e-9)
	assert.Equal(t, path.Tracking, seg.Kind)
}

func TestPlanArrivalHintTooEarlyUsesMinTime(t *testing.T) {
	seg, err := Plan(State{}, Target{Position: 5, Time: 1}, testLimits)
	require.NoError(t, err)
	assert.InDelta(t, 4.5, seg.End, 1e-12)
}

func TestPlanGridRespectsBounds(t *testing.T) {
	velocities := []float64{-2, -1.5, -0.3, 0, 0.7, 2}
	positions := []float64{-30, -1, -0.01, 0, 0.2, 3, 40}
	for _, v0 := range velocities {
		for _, v1 := range velocities {
			for _, p1 := range positions {
				for _, hint := range []float64{0, 5, 60} {
					start := State{Time: 0, Position: 0, Velocity: v0}
					target := Target{Position: p1, Velocity: v1, Time: hint}
					t.Run(fmt.Sprintf("v0=%g/v1=%g/p1=%g/hint=%g", v0, v1, p1, hint), func(t *testing.T) {
						seg, err := Plan(start, target, testLimits)
						require.NoError(t, err)
						checkSegment(t, seg, target, testLimits)
						if seg.Kind == path.Tracking && seg.Duration() > 0 {
							assert.InDelta(t, hint, seg.End, 1e-6, "stretched arrival")
						}
					})
				}
			}
		}
	}
}

func TestPlanRestToRestNoOvershoot(t *testing.T) {
	for _, p1 := range []float64{-50, -3, -0.1, 0.1, 1, 4, 90} {
		for _, hint := range []float64{0, 100} {
			seg, err := Plan(State{}, Target{Position: p1, Time: hint}, testLimits)
			require.NoError(t, err)
			lo, hi := math.Min(0, p1), math.Max(0, p1)
			for ts := seg.Start; ts <= seg.End; ts += seg.Duration() / 200 {
				p := seg.At(ts).Position
				assert.GreaterOrEqual(t, p, lo-1e-9)
				assert.LessOrEqual(t, p, hi+1e-9)
			}
		}
	}
}

func TestPlanRejectsUnreachableVelocity(t *testing.T) {
	_, err := Plan(State{}, Target{Position: 1, Velocity: 3}, testLimits)
	require.ErrorIs(t, err, ErrUnreachable)

	_, err = Plan(State{}, Target{Position: 1}, Limits{MaxVelocity: 0, MaxAcceleration: 1})
	require.Error(t, err)
}

func TestInterceptMovingReference(t *testing.T) {
	ref := Reference{Position: 10, Velocity: 0.5, Time: 0}
	seg, err := Intercept(State{}, ref, testLimits)
	require.NoError(t, err)
	want := ref.At(seg.End)
	assert.InDelta(t, want.Position, seg.EndPosition, 1e-6)
	assert.InDelta(t, 0.5, seg.EndVelocity, 1e-12)
	assert.LessOrEqual(t, seg.MaxSpeed(), testLimits.MaxVelocity+1e-9)

	// after arrival the axis coasts along the reference
	later := seg.End + 7
	assert.InDelta(t, ref.At(later).Position, seg.At(later).Position, 1e-6)
}

func TestInterceptOnReferenceIsZeroLength(t *testing.T) {
	ref := Reference{Position: 20, Velocity: 1, Time: 4}
	start := State{Time: 5, Position: 21, Velocity: 1}
	seg, err := Intercept(start, ref, testLimits)
	require.NoError(t, err)
	assert.Zero(t, seg.Duration())
	assert.Equal(t, path.Tracking, seg.Kind)
}

func TestInterceptFutureReferenceArrivesOnTime(t *testing.T) {
	ref := Reference{Position: 1, Velocity: 0, Time: 30}
	seg, err := Intercept(State{}, ref, testLimits)
	require.NoError(t, err)
	assert.InDelta(t, 30.0, seg.End, 1e-9)
	assert.InDelta(t, 1.0, seg.EndPosition, 1e-6)
}

func TestInterceptEarliestArrival(t *testing.T) {
	// the axis is a little ahead of the reference and a little slow; the
	// correction must not wait for a reversing minimum-time slew
	ref := Reference{Position: 5.75, Velocity: 1, Time: 5.75}
	start := State{Time: 5.75, Position: 5.7579, Velocity: 0.9975}
	seg, err := Intercept(start, ref, testLimits)
	require.NoError(t, err)
	assert.Less(t, seg.Duration(), 0.5)
	want := ref.At(seg.End)
	assert.InDelta(t, want.Position, seg.EndPosition, 1e-6)
	assert.InDelta(t, 1.0, seg.EndVelocity, 1e-9)
	assert.LessOrEqual(t, seg.MaxSpeed(), testLimits.MaxVelocity+1e-9)

	// no earlier arrival is reachable
	early := seg.End - 1e-3
	assert.Greater(t, start.Time+minDuration(start, ref.At(early), testLimits), early)
}

func TestInterceptConverges(t *testing.T) {
	ref := Reference{Position: 3, Velocity: 0.8}
	st := State{}
	for now := 0.0; now < 10; now += 0.25 {
		seg, err := Intercept(st, Reference{Position: ref.At(now).Position, Velocity: 0.8, Time: now}, testLimits)
		require.NoError(t, err)
		pva := seg.At(now + 0.25)
		st = State{Time: now + 0.25, Position: pva.Position, Velocity: pva.Velocity}
	}
	assert.InDelta(t, ref.At(st.Time).Position, st.Position, 1e-6)
	assert.InDelta(t, 0.8, st.Velocity, 1e-9)
}

func TestInterceptRejectsFastReference(t *testing.T) {
	_, err := Intercept(State{}, Reference{Position: 1, Velocity: 3}, testLimits)
	assert.ErrorIs(t, err, ErrUnreachable)

	// at full speed and behind, the reference is never caught
	_, err = Intercept(State{}, Reference{Position: 1, Velocity: 2}, testLimits)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestBrakeAtBounds(t *testing.T) {
	cases := []struct {
		name       string
		seg        path.Segment
		end        float64
		endPos     float64
		overshoots bool
	}{
		{name: "brakes on max", seg: path.New(0, 80, 1, path.Tracking), end: 10.5, endPos: 90},
		{name: "brakes on min", seg: path.New(0, 0, -2, path.Tracking), end: 6, endPos: -10},
		{name: "too close", seg: path.New(0, 89.9, 1, path.Tracking), end: 1, endPos: 90.4, overshoots: true},
		{name: "at rest", seg: path.Rest(2, 40), end: 2, endPos: 40},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			seg := BrakeAtBounds(tc.seg, -10, 90, testLimits)
			assert.InDelta(t, tc.end, seg.End, 1e-9)
			assert.InDelta(t, tc.endPos, seg.EndPosition, 1e-9)
			assert.Zero(t, seg.EndVelocity)
			assert.Equal(t, tc.seg.Kind, seg.Kind)
			lo, hi := seg.Extent()
			assert.Equal(t, tc.overshoots, lo < -10-1e-9 || hi > 90+1e-9)
		})
	}
}

func TestStop(t *testing.T) {
	seg := Stop(State{Time: 1, Position: 3, Velocity: -2}, testLimits)
	assert.Equal(t, path.Stopping, seg.Kind)
	assert.InDelta(t, 3.0, seg.End, 1e-12)
	assert.InDelta(t, 1.0, seg.EndPosition, 1e-12)
	assert.Zero(t, seg.EndVelocity)

	rest := Stop(State{Time: 1, Position: 3}, testLimits)
	assert.Equal(t, path.Stopped, rest.Kind)
	assert.Zero(t, rest.Duration())
}

func TestHold(t *testing.T) {
	seg := Hold(2, 45)
	assert.Equal(t, 45.0, seg.At(100).Position)
	assert.Zero(t, seg.At(100).Velocity)
}
