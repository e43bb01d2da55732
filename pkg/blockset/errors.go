package blockset

import "errors"

var (
	ErrLoadState = errors.New("blockset: failed to load state")
	ErrSaveState = errors.New("blockset: failed to save state")
)
