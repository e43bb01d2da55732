//go:build !linux && !darwin

package sensor

import "errors"

var errProbeUnsupported = errors.New("sensor: resource probe not supported on this platform")

func nofileLimit() (uint64, error) {
	return 0, errProbeUnsupported
}

func totalMemoryMB() (int, error) {
	return 0, errProbeUnsupported
}
