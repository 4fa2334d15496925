// Package axis simulates a single mount axis following planned motion
// segments.
package axis

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats/scalar"

	"atmcs-sim/internal/path"
	"atmcs-sim/internal/planner"
)

// ErrPrecondition is returned for queries before the current segment start
// and for segments that would break position/velocity continuity.
var ErrPrecondition = errors.New("axis precondition violated")

const (
	continuityAbs = 1e-9
	continuityRel = 1e-12
)

// Config holds the per-axis motion settings.
type Config struct {
	Limits planner.Limits
	// SettleCount is the number of consecutive tracking segments needed
	// before Kind reports Tracking rather than Slewing.
	SettleCount int
	// TrackWindow is the longest correction (seconds) still labelled as
	// tracking rather than a slew.
	TrackWindow float64
	// Min and Max bound coasting after a tracking segment: the axis brakes
	// to rest on the edge it is heading for. Unused unless Min < Max.
	Min, Max float64
}

// Axis owns the current segment of one axis. It is not safe for concurrent
// use; the mount controller serializes access.
type Axis struct {
	id  ID
	cfg Config
	seg path.Segment

	lastTargetTime float64
	lastRef        planner.Reference
	hasRef         bool
	nTrack         int
}

// New returns an axis at rest at position from time t.
func New(id ID, cfg Config, t, position float64) *Axis {
	return &Axis{id: id, cfg: cfg, seg: path.Rest(t, position)}
}

// ID returns the axis identifier.
func (a *Axis) ID() ID { return a.id }

// Limits returns the kinematic limits the axis plans with.
func (a *Axis) Limits() planner.Limits { return a.cfg.Limits }

// Segment returns a copy of the current segment.
func (a *Axis) Segment() path.Segment { return a.seg.Clone() }

// LastAppliedTargetTime is the simulation time at which the last tracking
// target was applied.
func (a *Axis) LastAppliedTargetTime() float64 { return a.lastTargetTime }

// AdvanceTo evaluates the axis at t. Past the segment end the axis coasts
// at the end velocity, which holds the position when that velocity is 0.
func (a *Axis) AdvanceTo(t float64) (float64, float64, error) {
	if t < a.seg.Start {
		return 0, 0, fmt.Errorf("%w: %s queried at t=%g before segment start %g", ErrPrecondition, a.id, t, a.seg.Start)
	}
	pva := a.seg.At(t)
	return pva.Position, pva.Velocity, nil
}

// At evaluates the axis at t without the start-time check. Snapshots use it
// for times the clock has already validated.
func (a *Axis) At(t float64) path.PVA { return a.seg.At(t) }

// StateAt returns the planner start state at t.
func (a *Axis) StateAt(t float64) (planner.State, error) {
	p, v, err := a.AdvanceTo(t)
	if err != nil {
		return planner.State{}, err
	}
	return planner.State{Time: t, Position: p, Velocity: v}, nil
}

// SetSegment replaces the current segment. The new segment may not start
// before the current one and must start from the axis' true state.
func (a *Axis) SetSegment(seg path.Segment) error {
	if seg.Start < a.seg.Start {
		return fmt.Errorf("%w: %s segment starts at %g before current start %g", ErrPrecondition, a.id, seg.Start, a.seg.Start)
	}
	cur := a.seg.At(seg.Start)
	if !scalar.EqualWithinAbsOrRel(cur.Position, seg.StartPosition, continuityAbs, continuityRel) ||
		!scalar.EqualWithinAbsOrRel(cur.Velocity, seg.StartVelocity, continuityAbs, continuityRel) {
		return fmt.Errorf("%w: %s segment starts at p=%g v=%g, axis is at p=%g v=%g",
			ErrPrecondition, a.id, seg.StartPosition, seg.StartVelocity, cur.Position, cur.Velocity)
	}
	a.install(seg)
	a.hasRef = false
	return nil
}

// Track plans an intercept of ref from the axis state at t and installs it.
// Repeating the last reference keeps the current segment.
func (a *Axis) Track(ref planner.Reference, t float64) (path.Segment, error) {
	seg, err := a.PlanTrack(ref, t)
	if err != nil {
		return path.Segment{}, err
	}
	a.CommitTrack(ref, seg, t)
	return a.seg.Clone(), nil
}

// PlanTrack returns the segment Track would install for ref at t without
// changing the axis. When the axis has a range the segment ends braking on
// the range edge instead of coasting through it.
func (a *Axis) PlanTrack(ref planner.Reference, t float64) (path.Segment, error) {
	if a.hasRef && ref == a.lastRef {
		return a.seg.Clone(), nil
	}
	start, err := a.StateAt(t)
	if err != nil {
		return path.Segment{}, err
	}
	seg, err := planner.Intercept(start, ref, a.cfg.Limits)
	if err != nil {
		return path.Segment{}, fmt.Errorf("plan %s: %w", a.id, err)
	}
	if seg.Duration() <= a.cfg.TrackWindow {
		seg.Kind = path.Tracking
	}
	if a.cfg.Min < a.cfg.Max {
		seg = planner.BrakeAtBounds(seg, a.cfg.Min, a.cfg.Max, a.cfg.Limits)
	}
	return seg, nil
}

// CommitTrack installs a segment PlanTrack returned for ref at t.
func (a *Axis) CommitTrack(ref planner.Reference, seg path.Segment, t float64) {
	a.lastTargetTime = t
	if a.hasRef && ref == a.lastRef {
		return
	}
	a.install(seg)
	a.lastRef, a.hasRef = ref, true
}

// Stop installs a maximum-deceleration stop from the state at t.
func (a *Axis) Stop(t float64) error {
	start, err := a.StateAt(t)
	if err != nil {
		return err
	}
	a.install(planner.Stop(start, a.cfg.Limits))
	a.hasRef = false
	return nil
}

// Halt freezes the axis at its position at t. Unlike Stop this drops the
// velocity immediately.
func (a *Axis) Halt(t float64) error {
	p, _, err := a.AdvanceTo(t)
	if err != nil {
		return err
	}
	a.install(planner.Hold(t, p))
	a.hasRef = false
	return nil
}

// Kind reports the motion kind at t. Tracking segments count as slewing
// until SettleCount of them have been installed in a row, and a stop
// reports stopped once it has finished.
func (a *Axis) Kind(t float64) path.Kind {
	switch a.seg.Kind {
	case path.Stopping:
		if t >= a.seg.End {
			return path.Stopped
		}
		return path.Stopping
	case path.Tracking:
		if a.nTrack >= a.cfg.SettleCount {
			return path.Tracking
		}
		return path.Slewing
	default:
		return a.seg.Kind
	}
}

func (a *Axis) install(seg path.Segment) {
	if seg.Kind == path.Tracking {
		a.nTrack++
	} else {
		a.nTrack = 0
	}
	a.seg = seg
}
