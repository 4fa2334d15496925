// Package mount orchestrates the five mount axes and the M3 selector under
// the command/fault state machine.
package mount

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/limits"
	"atmcs-sim/internal/m3"
	"atmcs-sim/internal/path"
	"atmcs-sim/internal/planner"
)

// tickTolerance relaxes the per-tick limit check for rounding in the
// planned profiles.
const tickTolerance = 1e-9

// AxisConfig configures one axis.
type AxisConfig struct {
	Limits planner.Limits
	Min    float64
	Max    float64
	Park   float64
	Wrap   limits.WrapPolicy
}

// Config configures a Controller.
type Config struct {
	Axes             map[axis.ID]AxisConfig
	StalenessTimeout float64
	SettleCount      int
	TrackWindow      float64
	M3               m3.Config
}

// Controller owns the simulated mount. It is not safe for concurrent use:
// a single tick loop drives it and publishes snapshots for readers.
type Controller struct {
	axes    [len(axis.All)]*axis.Axis
	monitor *limits.Monitor
	mirror  *m3.Selector

	staleness float64
	state     OperationalState
	now       float64
	ticked    bool

	held            bool
	lastTarget      TrackTarget
	hasTarget       bool
	lastApplied     float64
	lastFaultReason string

	events []Event
}

// NewController builds a parked, disabled mount at time t0.
func NewController(cfg Config, t0 float64) (*Controller, error) {
	if !(cfg.StalenessTimeout > 0) {
		return nil, fmt.Errorf("staleness timeout must be > 0, got %g", cfg.StalenessTimeout)
	}
	bounds := make(map[axis.ID]limits.Axis, len(cfg.Axes))
	for id, ac := range cfg.Axes {
		bounds[id] = limits.Axis{Min: ac.Min, Max: ac.Max, MaxVelocity: ac.Limits.MaxVelocity, Wrap: ac.Wrap}
	}
	monitor, err := limits.NewMonitor(bounds)
	if err != nil {
		return nil, err
	}
	mirror, err := m3.New(cfg.M3)
	if err != nil {
		return nil, err
	}
	c := &Controller{monitor: monitor, mirror: mirror, staleness: cfg.StalenessTimeout, now: t0}
	for _, id := range axis.All {
		ac := cfg.Axes[id]
		if err := ac.Limits.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		if ac.Park < ac.Min || ac.Park > ac.Max {
			return nil, fmt.Errorf("%s: park %g outside [%g, %g]", id, ac.Park, ac.Min, ac.Max)
		}
		c.axes[id] = axis.New(id, axis.Config{
			Limits:      ac.Limits,
			SettleCount: cfg.SettleCount,
			TrackWindow: cfg.TrackWindow,
			Min:         ac.Min,
			Max:         ac.Max,
		}, t0, ac.Park)
	}
	return c, nil
}

// Now returns the simulation time of the last tick.
func (c *Controller) Now() float64 { return c.now }

// OperationalState returns the current command/fault state.
func (c *Controller) OperationalState() OperationalState { return c.state }

// Held reports whether tracking was lost and the axes are frozen.
func (c *Controller) Held() bool { return c.held }

// DrainEvents returns and clears the pending events.
func (c *Controller) DrainEvents() []Event {
	ev := c.events
	c.events = nil
	return ev
}

// Apply gates cmd through the state table and executes it at the current
// simulation time. Rejections leave the controller unchanged.
func (c *Controller) Apply(cmd Command) error {
	next, err := Next(c.state, cmd.Kind)
	if err != nil {
		return err
	}
	switch cmd.Kind {
	case CmdEnable, CmdResetFault:
		c.state = next
	case CmdDisable:
		if err := c.stopAll(); err != nil {
			return c.invariant(err)
		}
		c.held = false
		c.state = next
	case CmdTrackTarget:
		if cmd.Target == nil {
			return fmt.Errorf("%w: track command without target", ErrInvalidArgument)
		}
		if err := c.applyTrackTarget(*cmd.Target); err != nil {
			return err
		}
		c.state = next
	case CmdStopTracking:
		if c.state == EnabledTracking {
			if err := c.stopAll(); err != nil {
				return c.invariant(err)
			}
			c.held = false
		}
		c.state = next
	case CmdMoveM3:
		if _, err := c.mirror.RequestMove(cmd.Port, c.now); err != nil {
			if errors.Is(err, m3.ErrInvalidPort) {
				return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
			}
			return err
		}
		c.state = next
	case CmdInjectFault:
		c.fault(cmd.Reason)
	default:
		return fmt.Errorf("%w: unknown command %s", ErrInvalidArgument, cmd.Kind)
	}
	return nil
}

// ApplyTrackTarget submits a tracking target through the state gate.
func (c *Controller) ApplyTrackTarget(t TrackTarget) error { return c.Apply(Track(t)) }

// ApplyStop decelerates every axis to rest from its current state. It is
// not gated and leaves the operational state alone.
func (c *Controller) ApplyStop() error {
	if err := c.stopAll(); err != nil {
		return c.invariant(err)
	}
	return nil
}

// ApplyFault stops the axes and enters Fault from any state.
func (c *Controller) ApplyFault(reason string) { c.fault(reason) }

func (c *Controller) applyTrackTarget(t TrackTarget) error {
	if err := t.validate(); err != nil {
		return err
	}
	wrapped := t
	for _, id := range axis.All {
		at := t.Axis(id)
		at.Position = c.monitor.Wrap(id, at.Position)
		wrapped.SetAxis(id, at)
	}
	for _, id := range axis.All {
		at := wrapped.Axis(id)
		if v, bad := c.monitor.Check(id, at.Position, at.Velocity); bad {
			c.emit(Event{Kind: EventPositionLimits, Violation: &v})
			return &LimitError{Violation: v}
		}
	}
	for _, id := range axis.All {
		if c.mirror.MotionBlocked(id) {
			return fmt.Errorf("%w: %s is coupled to the mirror", ErrBusy, id)
		}
	}
	if c.hasTarget && t == c.lastTarget {
		return nil
	}
	// Plan every axis before installing any, and check the whole planned
	// motion: the intercept runs ahead of the target and then coasts.
	var (
		refs [len(axis.All)]planner.Reference
		segs [len(axis.All)]path.Segment
	)
	for _, id := range axis.All {
		at := wrapped.Axis(id)
		refs[id] = planner.Reference{Position: at.Position, Velocity: at.Velocity, Time: t.Time}
		seg, err := c.axes[id].PlanTrack(refs[id], c.now)
		if errors.Is(err, planner.ErrUnreachable) {
			return fmt.Errorf("%w: %w", ErrLimitExceeded, err)
		}
		if err != nil {
			return c.invariant(err)
		}
		lo, hi := seg.Extent()
		for _, p := range []float64{lo, hi} {
			if v, bad := c.monitor.CheckWithin(id, p, 0, tickTolerance); bad {
				c.emit(Event{Kind: EventPositionLimits, Violation: &v})
				return &LimitError{Violation: v}
			}
		}
		segs[id] = seg
	}
	for _, id := range axis.All {
		c.axes[id].CommitTrack(refs[id], segs[id], c.now)
	}
	c.lastTarget, c.hasTarget = t, true
	c.lastApplied = c.now
	c.held = false
	return nil
}

// Tick advances the clock to now, settles the mirror, applies cmds in order
// and then checks staleness and the soft limits. The returned slice holds
// the result of each command. A non-nil error is an invariant failure that
// faulted the mount.
func (c *Controller) Tick(now float64, cmds []Command) ([]error, error) {
	results := make([]error, len(cmds))
	if now < c.now || (c.ticked && now == c.now) {
		err := fmt.Errorf("%w: tick at t=%g does not advance past t=%g", ErrInvariant, now, c.now)
		c.fault(err.Error())
		for i := range results {
			results[i] = err
		}
		return results, err
	}
	c.now, c.ticked = now, true

	if port, arrived := c.mirror.Advance(now); arrived {
		c.emit(Event{Kind: EventM3InPosition, Port: port})
	}
	for i, cmd := range cmds {
		results[i] = c.Apply(cmd)
	}
	if err := c.checkStaleness(); err != nil {
		return results, err
	}
	if c.state == Fault {
		return results, nil
	}
	for _, id := range axis.All {
		pva := c.axes[id].At(now)
		if v, bad := c.monitor.CheckWithin(id, pva.Position, pva.Velocity, tickTolerance); bad {
			err := fmt.Errorf("%w: simulated state out of limits: %s", ErrInvariant, v)
			c.emit(Event{Kind: EventPositionLimits, Violation: &v})
			c.fault(err.Error())
			return results, err
		}
	}
	return results, nil
}

func (c *Controller) checkStaleness() error {
	if c.state != EnabledTracking || c.held {
		return nil
	}
	deadline := c.lastApplied + c.staleness
	if vu := c.lastTarget.ValidUntil; vu != 0 && vu < deadline {
		deadline = vu
	}
	if c.now <= deadline {
		return nil
	}
	ids := make([]axis.ID, 0, len(c.axes))
	for _, a := range c.axes {
		if err := a.Halt(c.now); err != nil {
			return c.invariant(err)
		}
		ids = append(ids, a.ID())
	}
	c.held = true
	c.hasTarget = false
	c.emit(Event{Kind: EventTrackingLost, Axes: ids})
	return nil
}

func (c *Controller) stopAll() error {
	for _, a := range c.axes {
		if err := a.Stop(c.now); err != nil {
			return err
		}
	}
	c.hasTarget = false
	return nil
}

func (c *Controller) fault(reason string) {
	for _, a := range c.axes {
		// segments never start after c.now, so Stop cannot fail here
		_ = a.Stop(c.now)
	}
	c.hasTarget = false
	c.held = false
	c.state = Fault
	c.lastFaultReason = reason
	c.emit(Event{Kind: EventFaultRaised, Reason: reason})
}

func (c *Controller) invariant(err error) error {
	err = fmt.Errorf("%w: %w", ErrInvariant, err)
	c.fault(err.Error())
	return err
}

func (c *Controller) emit(e Event) {
	e.ID = uuid.New()
	e.Time = c.now
	c.events = append(c.events, e)
}
