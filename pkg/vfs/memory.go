// Package vfs implements the in-memory virtual filesystem the deception
// shell walks. The tree is confined: path resolution clamps at the root, so
// nothing an attacker types can reference the host filesystem. Nodes may be
// flagged as decoys, which are injected at runtime to prolong engagement.
package vfs

import (
	"bytes"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultSizeLimit bounds the bytes a single virtual tree may hold.
// Operations exceeding the limit abort with ENOSPC.
const DefaultSizeLimit = 32_000_000

// Entry describes one directory member as returned by List.
type Entry struct {
	Name    string
	IsDir   bool
	Decoy   bool
	Size    int64
	Mode    os.FileMode
	ModTime time.Time
}

// MemoryFS is a mutable virtual filesystem held entirely in memory.
// It is safe for concurrent use.
type MemoryFS struct {
	mu        sync.RWMutex
	totalSize atomic.Int64
	sizeLimit int64
	files     map[string]*memFile
	dirs      map[string]bool
	dirModes  map[string]os.FileMode
}

type memFile struct {
	data    []byte
	mode    os.FileMode
	modTime time.Time
	decoy   bool
}

// Option customizes MemoryFS construction.
type Option func(*MemoryFS)

// WithSizeLimit sets the tree's byte budget. Operations exceeding it
// return ENOSPC.
func WithSizeLimit(sizeLimit int64) Option {
	return func(fs *MemoryFS) {
		fs.sizeLimit = sizeLimit
	}
}

// NewMemoryFS creates an empty tree containing only the root directory.
func NewMemoryFS(opts ...Option) *MemoryFS {
	fs := &MemoryFS{
		sizeLimit: DefaultSizeLimit,
		files:     make(map[string]*memFile),
		dirs:      map[string]bool{"/": true},
		dirModes:  map[string]os.FileMode{"/": 0o755},
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Resolve maps a user-supplied path argument onto the virtual tree.
// Relative paths are joined with cwd; "." and ".." are collapsed; any
// attempt to climb above the root clamps to "/".
func Resolve(cwd, arg string) string {
	if arg == "" {
		return normPath(cwd)
	}
	if strings.HasPrefix(arg, "/") {
		return normPath(arg)
	}
	return normPath(path.Join(cwd, arg))
}

func normPath(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// IsDir reports whether the path names a directory.
func (fs *MemoryFS) IsDir(p string) bool {
	p = normPath(p)
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.dirs[p]
}

// Stat returns the entry for a single path.
func (fs *MemoryFS) Stat(p string) (Entry, error) {
	p = normPath(p)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.dirs[p] {
		mode := fs.dirModes[p]
		if mode == 0 {
			mode = 0o755
		}
		return Entry{Name: path.Base(p), IsDir: true, Mode: os.ModeDir | mode, ModTime: time.Now()}, nil
	}
	f, ok := fs.files[p]
	if !ok {
		return Entry{}, syscall.ENOENT
	}
	return Entry{
		Name:    path.Base(p),
		Size:    int64(len(f.data)),
		Mode:    f.mode,
		ModTime: f.modTime,
		Decoy:   f.decoy,
	}, nil
}

// List returns the members of a directory sorted by name. Listing a file
// path returns the file itself, matching real ls behavior.
func (fs *MemoryFS) List(p string) ([]Entry, error) {
	p = normPath(p)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if !fs.dirs[p] {
		if f, ok := fs.files[p]; ok {
			return []Entry{{
				Name:    path.Base(p),
				Size:    int64(len(f.data)),
				Mode:    f.mode,
				ModTime: f.modTime,
				Decoy:   f.decoy,
			}}, nil
		}
		return nil, syscall.ENOENT
	}

	prefix := p
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]bool)
	var entries []Entry

	for filePath, f := range fs.files {
		if !strings.HasPrefix(filePath, prefix) {
			continue
		}
		rel := strings.TrimPrefix(filePath, prefix)
		parts := strings.SplitN(rel, "/", 2)
		name := parts[0]
		if seen[name] {
			continue
		}
		seen[name] = true

		if len(parts) > 1 {
			entries = append(entries, Entry{Name: name, IsDir: true, Mode: os.ModeDir | 0o755, ModTime: time.Now()})
		} else {
			entries = append(entries, Entry{
				Name:    name,
				Size:    int64(len(f.data)),
				Mode:    f.mode,
				ModTime: f.modTime,
				Decoy:   f.decoy,
			})
		}
	}

	for dirPath := range fs.dirs {
		if !strings.HasPrefix(dirPath, prefix) || dirPath == p {
			continue
		}
		rel := strings.TrimPrefix(dirPath, prefix)
		parts := strings.SplitN(rel, "/", 2)
		name := parts[0]
		if seen[name] {
			continue
		}
		seen[name] = true
		entries = append(entries, Entry{Name: name, IsDir: true, Mode: os.ModeDir | 0o755, ModTime: time.Now()})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadFile returns a copy of the file content.
func (fs *MemoryFS) ReadFile(p string) ([]byte, error) {
	p = normPath(p)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if fs.dirs[p] {
		return nil, syscall.EISDIR
	}
	f, ok := fs.files[p]
	if !ok {
		return nil, syscall.ENOENT
	}
	return bytes.Clone(f.data), nil
}

// WriteFile creates or replaces a file. The parent directory must exist.
func (fs *MemoryFS) WriteFile(p string, data []byte, mode os.FileMode) error {
	return fs.writeFile(p, data, mode, false)
}

// WriteDecoy creates or replaces a file flagged as a decoy artifact.
func (fs *MemoryFS) WriteDecoy(p string, data []byte) error {
	return fs.writeFile(p, data, 0o644, true)
}

func (fs *MemoryFS) writeFile(p string, data []byte, mode os.FileMode, decoy bool) error {
	p = normPath(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.dirs[p] {
		return syscall.EISDIR
	}
	dir := path.Dir(p)
	if !fs.dirs[dir] {
		return syscall.ENOENT
	}

	growth := fileEntryOverhead(p) + int64(len(data))
	if existing, ok := fs.files[p]; ok {
		growth = int64(len(data)) - int64(len(existing.data))
	}
	if err := fs.ensureGrowthBelowSizeLimit(growth); err != nil {
		return err
	}
	fs.files[p] = &memFile{
		data:    bytes.Clone(data),
		mode:    mode,
		modTime: time.Now(),
		decoy:   decoy,
	}
	return nil
}

// Mkdir creates a single directory. The parent must exist.
func (fs *MemoryFS) Mkdir(p string, mode os.FileMode) error {
	p = normPath(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.dirs[path.Dir(p)] {
		return syscall.ENOENT
	}
	if fs.dirs[p] {
		return syscall.EEXIST
	}
	if err := fs.ensureGrowthBelowSizeLimit(dirEntryOverhead(p)); err != nil {
		return err
	}
	fs.dirs[p] = true
	fs.dirModes[p] = mode
	return nil
}

// MkdirAll creates a directory and any missing parents.
func (fs *MemoryFS) MkdirAll(p string, mode os.FileMode) error {
	p = normPath(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	current := ""
	for _, part := range parts {
		if part == "" {
			continue
		}
		current += "/" + part
		if !fs.dirs[current] {
			if err := fs.ensureGrowthBelowSizeLimit(dirEntryOverhead(current)); err != nil {
				return err
			}
			fs.dirs[current] = true
			fs.dirModes[current] = mode
		}
	}
	return nil
}

// Remove deletes a file or an empty directory.
func (fs *MemoryFS) Remove(p string) error {
	p = normPath(p)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.dirs[p] {
		prefix := p + "/"
		for k := range fs.files {
			if strings.HasPrefix(k, prefix) {
				return syscall.ENOTEMPTY
			}
		}
		for k := range fs.dirs {
			if strings.HasPrefix(k, prefix) {
				return syscall.ENOTEMPTY
			}
		}
		fs.totalSize.Add(-dirEntryOverhead(p))
		delete(fs.dirs, p)
		delete(fs.dirModes, p)
		return nil
	}

	f, ok := fs.files[p]
	if !ok {
		return syscall.ENOENT
	}
	fs.totalSize.Add(-(fileEntryOverhead(p) + int64(len(f.data))))
	delete(fs.files, p)
	return nil
}

// DecoyPaths returns every decoy-flagged file path, sorted.
func (fs *MemoryFS) DecoyPaths() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var paths []string
	for p, f := range fs.files {
		if f.decoy {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Size reports the accounted byte usage of the tree.
func (fs *MemoryFS) Size() int64 {
	return fs.totalSize.Load()
}

func fileEntryOverhead(p string) int64 {
	// path key plus map/struct overhead
	return int64(len(p)) + 24
}

func dirEntryOverhead(p string) int64 {
	// two maps hold directory state (dirs and dirModes)
	return int64(len(p))*2 + 2
}

func (fs *MemoryFS) ensureGrowthBelowSizeLimit(growth int64) error {
	if growth <= 0 {
		fs.totalSize.Add(growth)
		return nil
	}
	currentSize := fs.totalSize.Load()
	if currentSize+growth > fs.sizeLimit {
		return syscall.ENOSPC
	}
	fs.totalSize.Add(growth)
	return nil
}
