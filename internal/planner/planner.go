// Package planner computes kinematically limited motion segments for a
// single axis: trapezoidal or triangular minimum-time profiles, profiles
// stretched to arrive at a requested time, and stop/hold segments.
package planner

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"

	"atmcs-sim/internal/path"
)

// ErrUnreachable is returned when the requested end state cannot be reached
// within the axis limits.
var ErrUnreachable = errors.New("target unreachable within limits")

const (
	// timeTolerance is the slack (seconds) used when comparing arrival times.
	timeTolerance = 1e-9
	// maxInterceptIterations bounds the doubling of the arrival bracket in
	// Intercept.
	maxInterceptIterations = 60
	bisectIterations       = 200
)

// Limits are the kinematic bounds of one axis.
type Limits struct {
	MaxVelocity     float64 `json:"max_velocity"`
	MaxAcceleration float64 `json:"max_acceleration"`
	// MaxJerk is informational; trapezoidal profiles have unbounded jerk.
	MaxJerk float64 `json:"max_jerk,omitempty"`
}

// Validate reports non-positive velocity or acceleration bounds.
func (l Limits) Validate() error {
	if !(l.MaxVelocity > 0) {
		return fmt.Errorf("max velocity must be > 0, got %g", l.MaxVelocity)
	}
	if !(l.MaxAcceleration > 0) {
		return fmt.Errorf("max acceleration must be > 0, got %g", l.MaxAcceleration)
	}
	if l.MaxJerk < 0 {
		return fmt.Errorf("max jerk must be >= 0, got %g", l.MaxJerk)
	}
	return nil
}

// State is an axis position and velocity at a simulation time.
type State struct {
	Time     float64
	Position float64
	Velocity float64
}

// Target is the requested end state. Time is an arrival hint: when it is
// later than the minimum-time arrival the profile is stretched to arrive
// exactly then, otherwise it is ignored.
type Target struct {
	Position float64
	Velocity float64
	Time     float64
}

// Reference is a target moving at constant velocity, at Position at Time.
type Reference struct {
	Position float64
	Velocity float64
	Time     float64
}

// At returns the reference state at time t as a planner target.
func (r Reference) At(t float64) Target {
	return Target{Position: r.Position + r.Velocity*(t-r.Time), Velocity: r.Velocity, Time: t}
}

// Plan computes a segment from start to target.
func Plan(start State, target Target, lim Limits) (path.Segment, error) {
	if err := lim.Validate(); err != nil {
		return path.Segment{}, err
	}
	if math.Abs(target.Velocity) > lim.MaxVelocity {
		return path.Segment{}, fmt.Errorf("%w: target velocity %g exceeds %g", ErrUnreachable, target.Velocity, lim.MaxVelocity)
	}
	if math.Abs(start.Velocity) > lim.MaxVelocity*(1+1e-9) {
		return path.Segment{}, fmt.Errorf("%w: start velocity %g exceeds %g", ErrUnreachable, start.Velocity, lim.MaxVelocity)
	}

	d := target.Position - start.Position
	v0, v1 := start.Velocity, target.Velocity
	phases := minTime(d, v0, v1, lim.MaxVelocity, lim.MaxAcceleration)
	tmin := totalDuration(phases)

	kind := path.Slewing
	if tmin == 0 {
		kind = path.Tracking
	}
	if T := target.Time - start.Time; T > tmin+timeTolerance {
		// Reduce acceleration by the stretch ratio first; fall back to the
		// full bound when the gentler profile cannot cover the distance.
		if ph, ok := fixedTime(d, v0, v1, T, lim.MaxAcceleration*tmin/T, lim.MaxVelocity); ok {
			phases, kind = ph, path.Tracking
		} else if ph, ok := fixedTime(d, v0, v1, T, lim.MaxAcceleration, lim.MaxVelocity); ok {
			phases, kind = ph, path.Tracking
		}
	}
	seg := path.New(start.Time, start.Position, v0, kind, phases...)
	if len(seg.Phases) == 0 && v0 == 0 && v1 == 0 {
		seg.Kind = path.Stopped
	}
	return seg, nil
}

// Intercept plans a segment that meets a reference moving at constant
// velocity. The arrival is the earliest time, not before ref.Time, at which
// a minimum-time profile reaches the reference; a reference that is already
// reachable by ref.Time is met exactly then.
func Intercept(start State, ref Reference, lim Limits) (path.Segment, error) {
	if err := lim.Validate(); err != nil {
		return path.Segment{}, err
	}
	if math.Abs(ref.Velocity) > lim.MaxVelocity {
		return path.Segment{}, fmt.Errorf("%w: reference velocity %g exceeds %g", ErrUnreachable, ref.Velocity, lim.MaxVelocity)
	}
	// reaches is monotone: once the reference can be met at t it can be
	// met at any later time by following it.
	reaches := func(t float64) bool {
		return start.Time+minDuration(start, ref.At(t), lim) <= t+timeTolerance
	}
	earliest := math.Max(ref.Time, start.Time)
	if reaches(earliest) {
		return Plan(start, ref.At(earliest), lim)
	}
	lo := earliest
	hi := earliest + math.Max(minDuration(start, ref.At(earliest), lim), timeTolerance)
	for i := 0; !reaches(hi); i++ {
		if i == maxInterceptIterations {
			return path.Segment{}, fmt.Errorf("%w: reference at %g moving %g not reached", ErrUnreachable, ref.Position, ref.Velocity)
		}
		lo, hi = hi, earliest+2*(hi-earliest)
	}
	for i := 0; i < bisectIterations && hi-lo > timeTolerance; i++ {
		mid := lo + (hi-lo)/2
		if reaches(mid) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return Plan(start, ref.At(hi), lim)
}

// BrakeAtBounds extends seg so that, instead of coasting at its end
// velocity forever, it cruises until the last moment it can decelerate at
// the acceleration bound and come to rest on the range edge it is heading
// for. A segment ending closer to the edge than its braking distance
// brakes at once and overshoots; callers find that with Extent.
func BrakeAtBounds(seg path.Segment, lo, hi float64, lim Limits) path.Segment {
	v := seg.EndVelocity
	if v == 0 {
		return seg
	}
	edge := hi
	if v < 0 {
		edge = lo
	}
	braking := v * v / (2 * lim.MaxAcceleration)
	cruise := math.Max(0, (math.Abs(edge-seg.EndPosition)-braking)/math.Abs(v))
	phases := append(append([]path.Phase(nil), seg.Phases...),
		path.Phase{Duration: cruise},
		ramp(v, 0, lim.MaxAcceleration))
	return path.New(seg.Start, seg.StartPosition, seg.StartVelocity, seg.Kind, phases...)
}

// Stop decelerates at the acceleration bound from start to zero velocity.
func Stop(start State, lim Limits) path.Segment {
	if start.Velocity == 0 {
		return path.Rest(start.Time, start.Position)
	}
	return path.New(start.Time, start.Position, start.Velocity, path.Stopping,
		ramp(start.Velocity, 0, lim.MaxAcceleration))
}

// Hold returns a zero-velocity segment at position p from time t.
func Hold(t, p float64) path.Segment {
	return path.Rest(t, p)
}

// minTime returns the minimum-time phases covering displacement d while
// changing velocity from v0 to v1. Displacements below what a direct ramp
// covers are solved as the mirror image of the forward problem.
func minTime(d, v0, v1, vmax, amax float64) []path.Phase {
	if d == 0 && v0 == v1 {
		return nil
	}
	direct := (v0 + v1) / 2 * math.Abs(v1-v0) / amax
	switch {
	case scalar.EqualWithinAbsOrRel(d, direct, 1e-12, 1e-12):
		return []path.Phase{ramp(v0, v1, amax)}
	case d > direct:
		return peakProfile(d, v0, v1, vmax, amax)
	default:
		return negate(peakProfile(-d, -v0, -v1, vmax, amax))
	}
}

// peakProfile ramps up to a peak velocity and back down to v1. The peak is
// the velocity at which both ramps meet; when it exceeds vmax the profile
// cruises at vmax instead. A peak exactly at vmax stays triangular.
func peakProfile(d, v0, v1, vmax, amax float64) []path.Phase {
	vp := math.Sqrt((2*amax*d + v0*v0 + v1*v1) / 2)
	if vp <= vmax {
		return []path.Phase{ramp(v0, vp, amax), ramp(vp, v1, amax)}
	}
	cruise := d - (2*vmax*vmax-v0*v0-v1*v1)/(2*amax)
	return []path.Phase{
		ramp(v0, vmax, amax),
		{Duration: cruise / vmax},
		ramp(vmax, v1, amax),
	}
}

// fixedTime finds ramp-cruise-ramp phases lasting exactly T that cover d,
// using acceleration magnitude a. The cruise velocity is found by bisection:
// the covered distance is non-decreasing in the cruise velocity over the
// feasible range.
func fixedTime(d, v0, v1, T, a, vmax float64) ([]path.Phase, bool) {
	if !(a > 0) || !(T > 0) || math.Abs(v1-v0) > a*T {
		return nil, false
	}
	lo := math.Max(-vmax, (v0+v1-a*T)/2)
	hi := math.Min(vmax, (v0+v1+a*T)/2)
	if lo > hi {
		return nil, false
	}
	dist := func(vc float64) float64 {
		return vc*T - ((vc-v0)*math.Abs(vc-v0)+(vc-v1)*math.Abs(vc-v1))/(2*a)
	}
	tol := 1e-9 * math.Max(1, math.Abs(d))
	if d < dist(lo)-tol || d > dist(hi)+tol {
		return nil, false
	}
	for i := 0; i < bisectIterations && hi-lo > 1e-15*math.Max(1, math.Abs(hi)); i++ {
		mid := (lo + hi) / 2
		if dist(mid) < d {
			lo = mid
		} else {
			hi = mid
		}
	}
	vc := (lo + hi) / 2
	r1, r3 := ramp(v0, vc, a), ramp(vc, v1, a)
	cruise := math.Max(0, T-r1.Duration-r3.Duration)
	return []path.Phase{r1, {Duration: cruise}, r3}, true
}

func ramp(from, to, amax float64) path.Phase {
	dv := to - from
	return path.Phase{Duration: math.Abs(dv) / amax, Accel: math.Copysign(amax, dv)}
}

func negate(phases []path.Phase) []path.Phase {
	for i := range phases {
		phases[i].Accel = -phases[i].Accel
		phases[i].Jerk = -phases[i].Jerk
	}
	return phases
}

// minDuration is the minimum-time duration from start to target.
func minDuration(start State, target Target, lim Limits) float64 {
	return totalDuration(minTime(target.Position-start.Position, start.Velocity, target.Velocity,
		lim.MaxVelocity, lim.MaxAcceleration))
}

func totalDuration(phases []path.Phase) float64 {
	var t float64
	for _, ph := range phases {
		t += ph.Duration
	}
	return t
}
