//go:build darwin

package sensor

import "golang.org/x/sys/unix"

func nofileLimit() (uint64, error) {
	var lim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &lim); err != nil {
		return 0, err
	}
	return lim.Cur, nil
}

func totalMemoryMB() (int, error) {
	mem, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, err
	}
	return int(mem / (1024 * 1024)), nil
}
