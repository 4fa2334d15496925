package sim

import (
	"context"
	"sync"
	"time"

	"atmcs-sim/internal/logging"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/telemetry"
)

// Run starts the simulation loop and stops when the context is done. The
// telemetry publisher and the event pump run on their own goroutines so
// that writers never block a tick.
func (s *Simulator) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting simulator",
		"session_id", s.opts.SessionID,
		"tick_interval", s.opts.TickInterval,
		"telemetry_interval", s.opts.TelemetryInterval)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.pumpEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		s.publishTelemetry(ctx)
	}()

	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.Step(ctx)
	for {
		select {
		case <-ticker.C:
			s.Step(ctx)
		case <-ctx.Done():
			log.Info("stopping simulator", "sim_time", s.Snapshot().Time, "events_dropped", s.Dropped())
			wg.Wait()
			return
		}
	}
}

// Step runs one tick: it drains the inbox, ticks the controller one period
// ahead, resolves every submission and publishes the new snapshot.
func (s *Simulator) Step(ctx context.Context) {
	log := logging.FromContext(ctx)
	start := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.next
	kept, superseded := s.inbox.Drain()
	for _, sub := range superseded {
		sub.resolve(ErrSuperseded)
		s.metrics.CommandHandled(sub.cmd.Kind.String(), resultLabel(ErrSuperseded))
	}

	var scripted []mount.Command
	if s.source != nil {
		scripted = s.source.Due(now)
	}
	cmds := make([]mount.Command, 0, len(scripted)+len(kept))
	cmds = append(cmds, scripted...)
	for _, sub := range kept {
		cmds = append(cmds, sub.cmd)
	}

	results, err := s.ctrl.Tick(now, cmds)
	if err != nil {
		log.Error("tick failed", "sim_time", now, "err", err)
	}
	s.next = s.ctrl.Now() + s.dt
	for i, cmd := range cmds {
		res := results[i]
		if i >= len(scripted) {
			kept[i-len(scripted)].resolve(res)
		}
		s.metrics.CommandHandled(cmd.Kind.String(), resultLabel(res))
		if res != nil {
			log.Debug("command rejected", "command_id", cmd.ID, "kind", cmd.Kind, "err", res)
		}
	}

	for _, ev := range s.ctrl.DrainEvents() {
		s.metrics.EventEmitted(ev.Kind.String())
		row := s.teleGen.Event(ev)
		select {
		case s.outbox <- row:
		default:
			s.dropped.Add(1)
			s.metrics.EventDropped()
			log.Warn("event dropped", "event_type", row.EventType, "event_id", row.EventID)
		}
	}

	st := s.ctrl.Snapshot()
	s.state.Store(st)
	s.metrics.ObserveState(st)
	s.metrics.ObserveTick(time.Since(start))
}

// pumpEvents forwards events from the outbox to the event writer.
func (s *Simulator) pumpEvents(ctx context.Context) {
	log := logging.FromContext(ctx)
	for {
		select {
		case row := <-s.outbox:
			s.writeEvents(ctx, append([]telemetry.EventRow{row}, s.pending()...))
		case <-ctx.Done():
			if rest := s.pending(); len(rest) > 0 {
				s.writeEvents(ctx, rest)
			}
			log.Debug("event pump stopped")
			return
		}
	}
}

// pending empties the outbox without blocking.
func (s *Simulator) pending() []telemetry.EventRow {
	var rows []telemetry.EventRow
	for {
		select {
		case row := <-s.outbox:
			rows = append(rows, row)
		default:
			return rows
		}
	}
}

func (s *Simulator) writeEvents(ctx context.Context, rows []telemetry.EventRow) {
	if s.eventWriter == nil || len(rows) == 0 {
		return
	}
	log := logging.FromContext(ctx)
	if bw, ok := s.eventWriter.(batchEventWriter); ok {
		if err := bw.WriteEvents(rows); err != nil {
			log.Error("event batch write failed", "err", err)
		}
		return
	}
	for _, r := range rows {
		if err := s.eventWriter.WriteEvent(r); err != nil {
			log.Error("event write failed", "event_type", r.EventType, "err", err)
		}
	}
}

// publishTelemetry writes a frame of the latest snapshot every telemetry
// period. A snapshot is published at most once.
func (s *Simulator) publishTelemetry(ctx context.Context) {
	ticker := time.NewTicker(s.opts.TelemetryInterval)
	defer ticker.Stop()
	var last *mount.State
	for {
		select {
		case <-ticker.C:
			st := s.Snapshot()
			if st == nil || st == last {
				continue
			}
			last = st
			s.writeFrames(ctx, []telemetry.Frame{s.teleGen.Frame(st)})
		case <-ctx.Done():
			return
		}
	}
}

func (s *Simulator) writeFrames(ctx context.Context, frames []telemetry.Frame) {
	if s.writer == nil {
		return
	}
	log := logging.FromContext(ctx)
	// Batch support if writer implements WriteBatch
	if bw, ok := s.writer.(batchWriter); ok {
		if err := bw.WriteBatch(frames); err != nil {
			log.Error("batch write failed", "err", err)
		}
		return
	}
	for _, f := range frames {
		if err := s.writer.Write(f); err != nil {
			log.Error("write failed", "sim_time", f.Summary.SimTime, "err", err)
		}
	}
}
