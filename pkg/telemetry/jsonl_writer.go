package telemetry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/voslund/decoynet/internal/errx"
)

// JSONLWriter appends events to a JSON Lines file, one record per line.
// This file is the durable local event log reports are regenerated from.
type JSONLWriter struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

var _ Sink = (*JSONLWriter)(nil)

// NewJSONLWriter opens (or creates) the event log at path in append mode.
func NewJSONLWriter(path string) (*JSONLWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errx.Wrap(ErrCreateLogFile, err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errx.Wrap(ErrCreateLogFile, err)
	}
	return &JSONLWriter{
		file: f,
		enc:  json.NewEncoder(f),
	}, nil
}

// Write appends one event as a single JSON line.
func (w *JSONLWriter) Write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.enc.Encode(e); err != nil {
		return errx.Wrap(ErrWriteEvent, err)
	}
	return nil
}

// Close closes the underlying file.
func (w *JSONLWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return errx.Wrap(ErrCloseWriter, err)
	}
	return nil
}
