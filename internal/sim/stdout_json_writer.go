package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"atmcs-sim/internal/telemetry"
)

// JSONStdoutWriter prints telemetry frames and events as JSON to STDOUT.
type JSONStdoutWriter struct {
	out io.Writer
}

// NewJSONStdoutWriter creates a JSONStdoutWriter writing to os.Stdout.
func NewJSONStdoutWriter() *JSONStdoutWriter {
	return &JSONStdoutWriter{out: os.Stdout}
}

// Write outputs a telemetry frame in JSON format.
func (w *JSONStdoutWriter) Write(f telemetry.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteBatch outputs multiple telemetry frames in JSON format.
func (w *JSONStdoutWriter) WriteBatch(frames []telemetry.Frame) error {
	for _, f := range frames {
		if err := w.Write(f); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent outputs a mount event in JSON format.
func (w *JSONStdoutWriter) WriteEvent(e telemetry.EventRow) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w.out, string(data))
	return err
}

// WriteEvents outputs multiple mount events in JSON format.
func (w *JSONStdoutWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, r := range rows {
		if err := w.WriteEvent(r); err != nil {
			return err
		}
	}
	return nil
}
