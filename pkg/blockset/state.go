package blockset

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/voslund/decoynet/internal/errx"
)

type persistedState struct {
	GlobalVersion int64            `json:"global_version"`
	Local         map[string]Entry `json:"local"`
	Global        map[string]Entry `json:"global"`
}

// Save writes the current block state atomically so a crash mid-write
// never leaves a truncated file.
func (r *Repository) Save(path string) error {
	r.mu.RLock()
	state := persistedState{
		GlobalVersion: r.globalVersion,
		Local:         make(map[string]Entry, len(r.local)),
		Global:        make(map[string]Entry, len(r.global)),
	}
	for k, v := range r.local {
		state.Local[k] = v
	}
	for k, v := range r.global {
		state.Global[k] = v
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return errx.Wrap(ErrSaveState, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errx.Wrap(ErrSaveState, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errx.Wrap(ErrSaveState, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errx.Wrap(ErrSaveState, err)
	}
	return nil
}

// Load restores block state written by Save. A missing file is not an
// error; the repository simply starts empty.
func (r *Repository) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return errx.Wrap(ErrLoadState, err)
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		return errx.Wrap(ErrLoadState, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalVersion = state.GlobalVersion
	if state.Local != nil {
		r.local = state.Local
	}
	if state.Global != nil {
		r.global = state.Global
	}
	return nil
}
