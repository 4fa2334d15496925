// Simulator driving the mount controller on a logical clock
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"atmcs-sim/internal/metrics"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/telemetry"
)

// TelemetryWriter is an interface to support different output writers.
type TelemetryWriter interface {
	Write(telemetry.Frame) error
}

// EventWriter handles mount events.
type EventWriter interface {
	WriteEvent(telemetry.EventRow) error
}

// Optional: Writers can also support batch mode
type batchWriter interface {
	WriteBatch([]telemetry.Frame) error
}

// Optional: Event writers may support batch mode
type batchEventWriter interface {
	WriteEvents([]telemetry.EventRow) error
}

// CommandSource yields scripted commands. Due is called once per tick with
// the simulation time the tick advances to and returns the commands that
// became due since the previous call.
type CommandSource interface {
	Due(now float64) []mount.Command
}

// Options configures a Simulator.
type Options struct {
	SessionID         string
	TickInterval      time.Duration
	TelemetryInterval time.Duration
	QueueSize         int
	OutboxSize        int
	// Epoch is the wall time that corresponds to simulation time zero.
	Epoch time.Time
}

const (
	defaultQueueSize  = 64
	defaultOutboxSize = 256
)

// Simulator owns the controller and is the only goroutine that ticks it.
// Commands arrive through the inbox; snapshots, telemetry frames and events
// leave without blocking the tick.
type Simulator struct {
	mu   sync.Mutex
	ctrl *mount.Controller
	next float64
	dt   float64

	inbox   *Inbox
	outbox  chan telemetry.EventRow
	state   atomic.Pointer[mount.State]
	dropped atomic.Uint64

	teleGen     *telemetry.Generator
	writer      TelemetryWriter
	eventWriter EventWriter
	source      CommandSource
	metrics     *metrics.Collector
	opts        Options
}

// NewSimulator wraps ctrl. writer and eWriter may be nil.
func NewSimulator(ctrl *mount.Controller, writer TelemetryWriter, eWriter EventWriter, opts Options) (*Simulator, error) {
	if ctrl == nil {
		return nil, errors.New("nil controller")
	}
	if opts.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be > 0, got %s", opts.TickInterval)
	}
	if opts.TelemetryInterval <= 0 {
		opts.TelemetryInterval = opts.TickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	if opts.Epoch.IsZero() {
		opts.Epoch = time.Now()
	}
	s := &Simulator{
		ctrl:        ctrl,
		next:        ctrl.Now(),
		dt:          opts.TickInterval.Seconds(),
		inbox:       NewInbox(opts.QueueSize),
		outbox:      make(chan telemetry.EventRow, opts.OutboxSize),
		teleGen:     telemetry.NewGenerator(opts.SessionID, opts.Epoch),
		writer:      writer,
		eventWriter: eWriter,
		opts:        opts,
	}
	s.state.Store(ctrl.Snapshot())
	return s, nil
}

// SetCommandSource installs a scripted command source.
func (s *Simulator) SetCommandSource(src CommandSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = src
}

// SetMetrics installs the metrics collector.
func (s *Simulator) SetMetrics(m *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m
}

// SessionID identifies the run in telemetry.
func (s *Simulator) SessionID() string { return s.opts.SessionID }

// Generator returns the row generator used for telemetry.
func (s *Simulator) Generator() *telemetry.Generator { return s.teleGen }

// Snapshot returns the state published by the last tick.
func (s *Simulator) Snapshot() *mount.State { return s.state.Load() }

// Dropped returns the number of events lost to a full outbox.
func (s *Simulator) Dropped() uint64 { return s.dropped.Load() }

// Submit queues cmd for the next tick. The channel receives the command's
// result after that tick.
func (s *Simulator) Submit(cmd mount.Command) (<-chan error, error) {
	done, err := s.inbox.Push(cmd)
	if err != nil {
		s.collector().CommandHandled(cmd.Kind.String(), resultLabel(err))
		return nil, err
	}
	return done, nil
}

// Do submits cmd and waits for its result.
func (s *Simulator) Do(ctx context.Context, cmd mount.Command) error {
	done, err := s.Submit(cmd)
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) collector() *metrics.Collector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// resultLabel maps a command result onto the metrics label.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, ErrQueueFull):
		return "queue_full"
	case errors.Is(err, mount.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, mount.ErrLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, mount.ErrBusy):
		return "busy"
	case errors.Is(err, mount.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, mount.ErrInvariant):
		return "invariant"
	default:
		return "error"
	}
}
