package sim

import (
	"errors"

	"atmcs-sim/internal/telemetry"
)

// MultiWriter fan-outs frames and events to multiple writers. Every writer
// receives the data even when an earlier one fails; the errors are joined.
type MultiWriter struct {
	telewriters  []TelemetryWriter
	eventwriters []EventWriter
}

// NewMultiWriter creates a new MultiWriter. Nil writers are skipped.
func NewMultiWriter(tws []TelemetryWriter, ews []EventWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, w := range tws {
		if w != nil {
			mw.telewriters = append(mw.telewriters, w)
		}
	}
	for _, w := range ews {
		if w != nil {
			mw.eventwriters = append(mw.eventwriters, w)
		}
	}
	return mw
}

// Write sends a frame to all writers.
func (mw *MultiWriter) Write(f telemetry.Frame) error {
	var errs []error
	for _, w := range mw.telewriters {
		if err := w.Write(f); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteBatch sends multiple frames to all writers, using batch if supported.
func (mw *MultiWriter) WriteBatch(frames []telemetry.Frame) error {
	var errs []error
	for _, w := range mw.telewriters {
		if bw, ok := w.(batchWriter); ok {
			if err := bw.WriteBatch(frames); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, f := range frames {
			if err := w.Write(f); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// WriteEvent sends an event to all event writers.
func (mw *MultiWriter) WriteEvent(e telemetry.EventRow) error {
	var errs []error
	for _, w := range mw.eventwriters {
		if err := w.WriteEvent(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WriteEvents sends multiple events to all event writers, using batch if supported.
func (mw *MultiWriter) WriteEvents(rows []telemetry.EventRow) error {
	var errs []error
	for _, w := range mw.eventwriters {
		if bw, ok := w.(batchEventWriter); ok {
			if err := bw.WriteEvents(rows); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		for _, r := range rows {
			if err := w.WriteEvent(r); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}
