package sim

import (
	"errors"
	"testing"

	"atmcs-sim/internal/telemetry"
)

type failingWriter struct{ calls int }

func (f *failingWriter) Write(telemetry.Frame) error {
	f.calls++
	return errors.New("down")
}

func (f *failingWriter) WriteEvent(telemetry.EventRow) error {
	f.calls++
	return errors.New("down")
}

type batchOnly struct {
	MockWriter
	batches int
}

func (b *batchOnly) WriteBatch(frames []telemetry.Frame) error {
	b.batches++
	for _, f := range frames {
		_ = b.MockWriter.Write(f)
	}
	return nil
}

func TestMultiWriterFanOut(t *testing.T) {
	bad := &failingWriter{}
	good := &MockWriter{}
	mw := NewMultiWriter([]TelemetryWriter{bad, nil, good}, []EventWriter{bad, good})

	if err := mw.Write(sampleFrame(1)); err == nil {
		t.Fatalf("expected joined error")
	}
	if err := mw.WriteEvent(sampleEvent()); err == nil {
		t.Fatalf("expected joined error")
	}
	if len(good.Frames) != 1 || len(good.Events) != 1 {
		t.Fatalf("healthy writer skipped: frames=%d events=%d", len(good.Frames), len(good.Events))
	}
	if bad.calls != 2 {
		t.Fatalf("failing writer calls = %d", bad.calls)
	}
}

func TestMultiWriterUsesBatch(t *testing.T) {
	b := &batchOnly{}
	plain := &MockWriter{}
	mw := NewMultiWriter([]TelemetryWriter{b, plain}, nil)
	if err := mw.WriteBatch([]telemetry.Frame{sampleFrame(0), sampleFrame(1)}); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if b.batches != 1 || len(b.Frames) != 2 || len(plain.Frames) != 2 {
		t.Fatalf("batch=%d batched=%d plain=%d", b.batches, len(b.Frames), len(plain.Frames))
	}
	if err := mw.WriteEvents([]telemetry.EventRow{sampleEvent()}); err != nil {
		t.Fatalf("WriteEvents with no event writers: %v", err)
	}
}
