package main

import (
	"context"
	"fmt"
	"os"

	"atmcs-sim/internal/config"
	"atmcs-sim/internal/logging"
	"atmcs-sim/internal/sim"
	"atmcs-sim/internal/store"
)

const (
	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"
)

type writerOptions struct {
	cfg        *config.MountConfig
	printOnly  bool
	color      string
	tui        bool
	logFile    string
	sqlitePath string
}

// writerSet holds the telemetry and event sinks chosen by flags and env
// vars. cleanup closes every sink that holds resources.
type writerSet struct {
	telemetry sim.TelemetryWriter
	events    sim.EventWriter
	tui       *sim.TUIWriter
	cleanup   func()
}

type sink interface {
	sim.TelemetryWriter
	sim.EventWriter
}

// newWriters builds the base sink (TUI, STDOUT or GreptimeDB) and fans out
// to the optional JSONL log and SQLite recorder.
func newWriters(ctx context.Context, opts writerOptions) (*writerSet, error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logging.FromContext(ctx).Warn("closing writer failed", "err", err)
			}
		}
	}

	base, tui, err := baseWriter(opts)
	if err != nil {
		return nil, err
	}
	ws := &writerSet{tui: tui}
	if tui != nil {
		closers = append(closers, tui.Close)
	}

	sinks := []sink{base}
	if opts.logFile != "" {
		fw, err := sim.NewFileWriter(opts.logFile, opts.logFile+".events")
		if err != nil {
			cleanup()
			return nil, err
		}
		closers = append(closers, fw.Close)
		sinks = append(sinks, fw)
	}
	if opts.sqlitePath != "" {
		st, err := store.Open(ctx, opts.sqlitePath, logging.FromContext(ctx))
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("open recorder: %w", err)
		}
		closers = append(closers, st.Close)
		sinks = append(sinks, st)
	}
	ws.cleanup = cleanup

	if len(sinks) == 1 {
		ws.telemetry, ws.events = base, base
		return ws, nil
	}
	tws := make([]sim.TelemetryWriter, len(sinks))
	ews := make([]sim.EventWriter, len(sinks))
	for i, s := range sinks {
		tws[i], ews[i] = s, s
	}
	mw := sim.NewMultiWriter(tws, ews)
	ws.telemetry, ws.events = mw, mw
	return ws, nil
}

// baseWriter chooses the primary sink.
func baseWriter(opts writerOptions) (sink, *sim.TUIWriter, error) {
	if opts.tui {
		tw := sim.NewTUIWriter(opts.cfg)
		return tw, tw, nil
	}
	endpoint := os.Getenv("GREPTIMEDB_ENDPOINT")
	if opts.printOnly || endpoint == "" {
		w, err := stdoutWriter(opts.cfg, opts.color)
		return w, nil, err
	}
	w, err := sim.NewGreptimeDBWriter(sim.GreptimeOptions{
		Endpoint: endpoint,
		Database: envOr("GREPTIMEDB_DATABASE", "public"),
		Username: os.Getenv("GREPTIMEDB_USERNAME"),
		Password: os.Getenv("GREPTIMEDB_PASSWORD"),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init GreptimeDB writer: %w", err)
	}
	return w, nil, nil
}

func stdoutWriter(cfg *config.MountConfig, mode string) (sink, error) {
	switch mode {
	case "", colorAuto:
		return sim.NewStdoutWriter(cfg), nil
	case colorAlways:
		return sim.NewColorStdoutWriter(cfg), nil
	case colorNever:
		return sim.NewJSONStdoutWriter(), nil
	}
	return nil, fmt.Errorf("unknown color mode %q", mode)
}
