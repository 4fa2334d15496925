package sim

import (
	"encoding/json"
	"os"
	"sync"

	"atmcs-sim/internal/telemetry"
)

// FileWriter writes telemetry frames and events to JSONL files.
type FileWriter struct {
	mu        sync.Mutex
	frameFile *os.File
	eventFile *os.File
	frameEnc  *json.Encoder
	eventEnc  *json.Encoder
}

// NewFileWriter creates a FileWriter. eventPath may be empty to skip the
// event log.
func NewFileWriter(framePath, eventPath string) (*FileWriter, error) {
	ff, err := os.Create(framePath)
	if err != nil {
		return nil, err
	}
	fw := &FileWriter{frameFile: ff, frameEnc: json.NewEncoder(ff)}
	if eventPath != "" {
		ef, err := os.Create(eventPath)
		if err != nil {
			ff.Close()
			return nil, err
		}
		fw.eventFile = ef
		fw.eventEnc = json.NewEncoder(ef)
	}
	return fw, nil
}

// Write logs a single frame.
func (f *FileWriter) Write(frame telemetry.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frameEnc.Encode(frame)
}

// WriteBatch logs multiple frames.
func (f *FileWriter) WriteBatch(frames []telemetry.Frame) error {
	for _, fr := range frames {
		if err := f.Write(fr); err != nil {
			return err
		}
	}
	return nil
}

// WriteEvent logs a single event, if enabled.
func (f *FileWriter) WriteEvent(e telemetry.EventRow) error {
	if f.eventEnc == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eventEnc.Encode(e)
}

// WriteEvents logs multiple events.
func (f *FileWriter) WriteEvents(rows []telemetry.EventRow) error {
	for _, e := range rows {
		if err := f.WriteEvent(e); err != nil {
			return err
		}
	}
	return nil
}

// Close closes any underlying files.
func (f *FileWriter) Close() error {
	var err error
	if f.frameFile != nil {
		if e := f.frameFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	if f.eventFile != nil {
		if e := f.eventFile.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}
