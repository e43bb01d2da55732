package telemetry

import "errors"

var (
	// ErrCreateLogFile indicates the event log file could not be created.
	ErrCreateLogFile = errors.New("telemetry: create log file")
	// ErrWriteEvent indicates an event could not be written to a sink.
	ErrWriteEvent = errors.New("telemetry: write event")
	// ErrCloseWriter indicates a sink could not be closed cleanly.
	ErrCloseWriter = errors.New("telemetry: close writer")
	// ErrOpenSpool indicates the spool file could not be opened.
	ErrOpenSpool = errors.New("telemetry: open spool")
	// ErrSpoolCorrupt indicates the spool file contains an unreadable frame.
	ErrSpoolCorrupt = errors.New("telemetry: spool corrupt")
	// ErrEncodeFrame indicates a spool frame could not be encoded.
	ErrEncodeFrame = errors.New("telemetry: encode frame")
	// ErrForward indicates the control plane rejected or never received a batch.
	ErrForward = errors.New("telemetry: forward batch")
)
