// Writer implementation printing telemetry to STDOUT
package sim

import (
	"io"
	"os"

	"golang.org/x/term"

	"atmcs-sim/internal/config"
	"atmcs-sim/internal/telemetry"
)

// StdoutWriter prints colorized lines when STDOUT is a terminal and JSON
// lines otherwise, so piped output stays machine readable.
type StdoutWriter struct {
	colorize bool
	json     *JSONStdoutWriter
	color    *ColorStdoutWriter
}

// NewStdoutWriter creates a StdoutWriter for os.Stdout.
func NewStdoutWriter(cfg *config.MountConfig) *StdoutWriter {
	return newStdoutWriter(cfg, os.Stdout, term.IsTerminal(int(os.Stdout.Fd())))
}

func newStdoutWriter(cfg *config.MountConfig, out io.Writer, colorize bool) *StdoutWriter {
	return &StdoutWriter{
		colorize: colorize,
		json:     &JSONStdoutWriter{out: out},
		color:    &ColorStdoutWriter{cfg: cfg, out: out},
	}
}

// Write outputs a single frame.
func (w *StdoutWriter) Write(f telemetry.Frame) error {
	if w.colorize {
		return w.color.Write(f)
	}
	return w.json.Write(f)
}

// WriteBatch outputs multiple frames.
func (w *StdoutWriter) WriteBatch(frames []telemetry.Frame) error {
	for _, f := range frames {
		if err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent prints a mount event.
func (w *StdoutWriter) WriteEvent(e telemetry.EventRow) error {
	if w.colorize {
		return w.color.WriteEvent(e)
	}
	return w.json.WriteEvent(e)
}

// WriteEvents prints multiple mount events.
func (w *StdoutWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, e := range rows {
		if err := w.WriteEvent(e); err != nil {
			return err
		}
	}
	return nil
}
