package sensor

import "errors"

var (
	ErrListen      = errors.New("sensor: failed to listen")
	ErrLineTooLong = errors.New("sensor: protocol line too long")
)
