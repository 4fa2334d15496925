package sim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"atmcs-sim/internal/telemetry"
)

// pacer reproduces the recorded gaps between frames. A speed >0 scales
// the gaps (2 plays twice as fast); speed <= 0 disables the delay.
type pacer struct {
	speed float64
	prev  time.Time
}

func (p *pacer) wait(ctx context.Context, ts time.Time) error {
	defer func() { p.prev = ts }()
	if p.prev.IsZero() || p.speed <= 0 {
		return nil
	}
	diff := ts.Sub(p.prev)
	if p.speed != 1 {
		diff = time.Duration(float64(diff) / p.speed)
	}
	if diff <= 0 {
		return nil
	}
	select {
	case <-time.After(diff):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReplayLog replays JSONL telemetry frames from r to writer and returns
// the number of frames written.
func ReplayLog(ctx context.Context, r io.Reader, writer TelemetryWriter, speed float64) (int, error) {
	dec := json.NewDecoder(r)
	p := &pacer{speed: speed}
	n := 0
	for {
		var f telemetry.Frame
		if err := dec.Decode(&f); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		if err := p.wait(ctx, f.Timestamp()); err != nil {
			return n, err
		}
		if err := writer.Write(f); err != nil {
			return n, err
		}
		n++
	}
}

// ReplayLogFile opens a file and replays its frames.
func ReplayLogFile(ctx context.Context, path string, writer TelemetryWriter, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, speed)
}

// ReplayFrames replays already decoded frames, for example from a
// recorder database.
func ReplayFrames(ctx context.Context, frames []telemetry.Frame, writer TelemetryWriter, speed float64) (int, error) {
	p := &pacer{speed: speed}
	for i, f := range frames {
		if err := p.wait(ctx, f.Timestamp()); err != nil {
			return i, err
		}
		if err := writer.Write(f); err != nil {
			return i, err
		}
	}
	return len(frames), nil
}
