package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"atmcs-sim/internal/sim"
	"atmcs-sim/internal/store"
	"atmcs-sim/internal/telemetry"
)

func testFrame() telemetry.Frame {
	ts := time.Unix(0, 0).UTC()
	return telemetry.Frame{
		Axes:    []telemetry.AxisRow{{SessionID: "s1", Axis: "azimuth", Position: 1, Kind: "stopped", Timestamp: ts}},
		Mirror:  telemetry.MirrorRow{SessionID: "s1", State: "Port1", Port: "Port1", Timestamp: ts},
		Summary: telemetry.SummaryRow{SessionID: "s1", OperationalState: "disabled", Timestamp: ts},
	}
}

func TestNewWritersPrintOnly(t *testing.T) {
	ws, err := newWriters(context.Background(), writerOptions{printOnly: true, color: colorNever})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	ws.cleanup()
	if _, ok := ws.telemetry.(*sim.JSONStdoutWriter); !ok {
		t.Fatalf("expected *sim.JSONStdoutWriter, got %T", ws.telemetry)
	}
	if _, ok := ws.events.(*sim.JSONStdoutWriter); !ok {
		t.Fatalf("expected *sim.JSONStdoutWriter, got %T", ws.events)
	}
	if ws.tui != nil {
		t.Fatalf("unexpected TUI writer")
	}
}

func TestNewWritersGreptimeFallback(t *testing.T) {
	t.Setenv("GREPTIMEDB_ENDPOINT", "")
	ws, err := newWriters(context.Background(), writerOptions{})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	ws.cleanup()
	if _, ok := ws.telemetry.(*sim.StdoutWriter); !ok {
		t.Fatalf("expected *sim.StdoutWriter, got %T", ws.telemetry)
	}
}

func TestNewWritersColorModes(t *testing.T) {
	ws, err := newWriters(context.Background(), writerOptions{printOnly: true, color: colorAlways})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	if _, ok := ws.telemetry.(*sim.ColorStdoutWriter); !ok {
		t.Fatalf("expected *sim.ColorStdoutWriter, got %T", ws.telemetry)
	}
	if _, err := newWriters(context.Background(), writerOptions{printOnly: true, color: "sometimes"}); err == nil {
		t.Fatalf("expected error for unknown color mode")
	}
}

func TestNewWritersLogFileAndRecorder(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "telemetry.log")
	dbPath := filepath.Join(dir, "atmcs.db")
	ws, err := newWriters(context.Background(), writerOptions{printOnly: true, color: colorNever, logFile: logPath, sqlitePath: dbPath})
	if err != nil {
		t.Fatalf("newWriters returned error: %v", err)
	}
	if _, ok := ws.telemetry.(*sim.MultiWriter); !ok {
		t.Fatalf("expected *sim.MultiWriter, got %T", ws.telemetry)
	}
	if err := ws.telemetry.Write(testFrame()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	ev := telemetry.EventRow{SessionID: "s1", EventID: "e1", EventType: telemetry.EventFaultRaised, Reason: "op", Timestamp: time.Unix(0, 0).UTC()}
	if err := ws.events.WriteEvent(ev); err != nil {
		t.Fatalf("write event failed: %v", err)
	}
	ws.cleanup()

	for _, p := range []string{logPath, logPath + ".events"} {
		info, err := os.Stat(p)
		if err != nil {
			t.Fatalf("stat %s failed: %v", p, err)
		}
		if info.Size() == 0 {
			t.Fatalf("expected %s to be non-empty", p)
		}
	}

	st, err := store.Open(context.Background(), dbPath, nil)
	if err != nil {
		t.Fatalf("reopen recorder: %v", err)
	}
	defer st.Close()
	frames, err := st.Frames(context.Background(), "s1")
	if err != nil || len(frames) != 1 {
		t.Fatalf("recorded frames = %d, err = %v", len(frames), err)
	}
	events, err := st.Events(context.Background(), "s1")
	if err != nil || len(events) != 1 {
		t.Fatalf("recorded events = %d, err = %v", len(events), err)
	}
}

func TestNewWritersBadLogPath(t *testing.T) {
	_, err := newWriters(context.Background(), writerOptions{printOnly: true, logFile: filepath.Join(t.TempDir(), "missing", "x.log")})
	if err == nil {
		t.Fatalf("expected error for unwritable log path")
	}
}

func TestValidateCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"validate", "--config", "../../config/mount.yaml", "--schema", "../../schemas/mount.cue", "--scenario", "sidereal"})
	defer rootCmd.SetArgs(nil)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	for _, want := range []string{"ok", "azimuth", "rotator3", `scenario "Sidereal"`} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("output missing %q:\n%s", want, out.String())
		}
	}
}
