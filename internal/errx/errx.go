// Package errx provides tiny helpers for combining per-package sentinel
// errors with underlying causes while keeping errors.Is/As matching intact.
package errx

import "fmt"

// Wrap chains a sentinel error with its underlying cause.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// With annotates a sentinel error with formatted detail. The format string
// is appended verbatim after the sentinel text and may itself contain %w.
func With(sentinel error, format string, args ...any) error {
	fmtArgs := make([]any, 0, len(args)+1)
	fmtArgs = append(fmtArgs, sentinel)
	fmtArgs = append(fmtArgs, args...)
	return fmt.Errorf("%w"+format, fmtArgs...)
}
