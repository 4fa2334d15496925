// ColorStdoutWriter prints human-friendly, colorized telemetry to STDOUT.
package sim

import (
	"fmt"
	"io"
	"os"
	"sync"
	"text/tabwriter"
	"time"

	"atmcs-sim/internal/axis"
	"atmcs-sim/internal/config"
	"atmcs-sim/internal/mount"
	"atmcs-sim/internal/path"
	"atmcs-sim/internal/telemetry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

// ColorStdoutWriter prints telemetry frames and events using ANSI colors.
type ColorStdoutWriter struct {
	cfg  *config.MountConfig
	out  io.Writer
	once sync.Once
	mu   sync.Mutex
}

// NewColorStdoutWriter creates a ColorStdoutWriter writing to os.Stdout.
func NewColorStdoutWriter(cfg *config.MountConfig) *ColorStdoutWriter {
	return &ColorStdoutWriter{cfg: cfg, out: os.Stdout}
}

var axisPalette = [...]string{colorGreen, colorYellow, colorMagenta, colorCyan, colorBlue}

func axisColor(name string) string {
	id, err := axis.ParseID(name)
	if err != nil {
		return colorReset
	}
	return axisPalette[int(id)%len(axisPalette)]
}

func kindColor(kind string) string {
	switch kind {
	case path.Tracking.String():
		return colorGreen
	case path.Slewing.String():
		return colorYellow
	case path.Stopping.String():
		return colorMagenta
	}
	return colorGray
}

func stateColor(state string) string {
	switch state {
	case mount.Fault.String():
		return colorRed
	case mount.EnabledTracking.String():
		return colorGreen
	case mount.EnabledIdle.String():
		return colorCyan
	}
	return colorGray
}

func (w *ColorStdoutWriter) printOverview() {
	if w.cfg == nil {
		return
	}

	fmt.Fprintln(w.out, "Mount Configuration:")
	tw := tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Tick Interval:\t%s\n", w.cfg.TickInterval)
	fmt.Fprintf(tw, "Telemetry Interval:\t%s\n", w.cfg.TelemetryInterval)
	fmt.Fprintf(tw, "Staleness Timeout (s):\t%.2f\n", w.cfg.StalenessTimeout)
	fmt.Fprintf(tw, "Settle Count:\t%d\n", w.cfg.SettleCount)
	fmt.Fprintf(tw, "M3 Transit (s):\t%.1f\n", w.cfg.M3.TransitDuration)
	tw.Flush()

	fmt.Fprintln(w.out, "\nAxes:")
	tw = tabwriter.NewWriter(w.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Axis\tMin\tMax\tVmax\tAmax\tPark\n")
	for _, id := range axis.All {
		a, ok := w.cfg.Axes[id.String()]
		if !ok {
			continue
		}
		col := axisColor(id.String())
		fmt.Fprintf(tw, "%s%s%s\t%.1f\t%.1f\t%.2f\t%.2f\t%.1f\n", col, id, colorReset,
			a.Min, a.Max, a.MaxVelocity, a.MaxAcceleration, a.ParkPosition())
	}
	tw.Flush()
	fmt.Fprintln(w.out)
}

// Write outputs a frame as one colorized line.
func (w *ColorStdoutWriter) Write(f telemetry.Frame) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	st := f.Summary.OperationalState
	fmt.Fprintf(w.out, "%s[%s]%s ", colorGray, f.Timestamp().Format(time.RFC3339Nano), colorReset)
	fmt.Fprintf(w.out, "%st=%.3f%s ", colorBlue, f.Summary.SimTime, colorReset)
	fmt.Fprintf(w.out, "%sstate=%s%s ", stateColor(st), st, colorReset)
	if f.Summary.Held {
		fmt.Fprintf(w.out, "%sheld%s ", colorRed, colorReset)
	}
	mirrorColor := colorCyan
	if f.Mirror.State == "InTransit" {
		mirrorColor = colorYellow
	}
	fmt.Fprintf(w.out, "%sm3=%s(%s)%s", mirrorColor, f.Mirror.State, f.Mirror.Port, colorReset)
	for _, a := range f.Axes {
		fmt.Fprintf(w.out, " %s%s=%.4f@%.3f%s %s%s%s", axisColor(a.Axis), a.Axis, a.Position, a.Velocity, colorReset,
			kindColor(a.Kind), a.Kind, colorReset)
	}
	fmt.Fprintln(w.out)
	return nil
}

// WriteBatch outputs multiple frames.
func (w *ColorStdoutWriter) WriteBatch(frames []telemetry.Frame) error {
	for _, f := range frames {
		_ = w.Write(f)
	}
	return nil
}

// WriteEvent prints a mount event to STDOUT.
func (w *ColorStdoutWriter) WriteEvent(e telemetry.EventRow) error {
	w.once.Do(w.printOverview)
	w.mu.Lock()
	defer w.mu.Unlock()

	col := colorCyan
	switch e.EventType {
	case telemetry.EventFaultRaised, telemetry.EventPositionLimits:
		col = colorRed
	case telemetry.EventTrackingLost:
		col = colorYellow
	}
	fmt.Fprintf(w.out, "%s[%s]%s %sEVENT %s%s t=%.3f", colorGray, e.Timestamp.Format(time.RFC3339Nano), colorReset,
		col, e.EventType, colorReset, e.SimTime)
	fmt.Fprint(w.out, eventDetail(e))
	fmt.Fprintln(w.out)
	return nil
}

// WriteEvents prints multiple events.
func (w *ColorStdoutWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, e := range rows {
		_ = w.WriteEvent(e)
	}
	return nil
}

// eventDetail formats the type specific fields of an event.
func eventDetail(e telemetry.EventRow) string {
	switch e.EventType {
	case telemetry.EventPositionLimits:
		return fmt.Sprintf(" axis=%v %s commanded=%.4f limit=%.4f", e.Axes, e.Violation, e.Commanded, e.Limit)
	case telemetry.EventTrackingLost:
		return fmt.Sprintf(" axes=%v", e.Axes)
	case telemetry.EventM3InPosition:
		return " port=" + e.Port
	case telemetry.EventFaultRaised:
		return fmt.Sprintf(" reason=%q", e.Reason)
	}
	return ""
}
