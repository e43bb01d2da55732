// Package blockset tracks blocked addresses and failed-login strikes on
// an edge sensor. Local entries come from strike accumulation and verdict
// enforcement; global entries are pulled from the control plane and kept
// separately so a sync can never erase local decisions.
package blockset

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/voslund/decoynet/pkg/logging"
)

// Entry origins.
const (
	OriginLocal  = "local"
	OriginGlobal = "global"
)

const (
	DefaultStrikeThreshold = 5
	DefaultStrikeWindow    = 60 * time.Second
	DefaultBlockTTL        = 60 * time.Second
	DefaultCleanupInterval = 30 * time.Second
)

// Entry is one blocked address. A zero ExpiresAt means the entry stands
// until explicitly removed.
type Entry struct {
	Addr      string    `json:"address"`
	Origin    string    `json:"origin"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry's TTL has passed.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// GlobalSet is the control plane's authoritative block set. The version
// increases on every mutation so edges can detect staleness.
type GlobalSet struct {
	Version   int64            `json:"version"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// Repository is the edge-side block state. Safe for concurrent use; reads
// by the acceptor interleave with synchronizer writes.
type Repository struct {
	mu            sync.RWMutex
	local         map[string]Entry
	global        map[string]Entry
	globalVersion int64
	strikes       map[string][]time.Time

	strikeThreshold int
	strikeWindow    time.Duration
	blockTTL        time.Duration

	now    func() time.Time
	logger *slog.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option customizes Repository construction.
type Option func(*Repository)

// WithStrikeThreshold sets how many strikes inside the window trigger a block.
func WithStrikeThreshold(n int) Option {
	return func(r *Repository) { r.strikeThreshold = n }
}

// WithStrikeWindow sets the sliding window strikes are counted over.
func WithStrikeWindow(d time.Duration) Option {
	return func(r *Repository) { r.strikeWindow = d }
}

// WithBlockTTL sets how long strike-triggered blocks last. Zero makes
// them permanent.
func WithBlockTTL(d time.Duration) Option {
	return func(r *Repository) { r.blockTTL = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates an empty block repository.
func NewRepository(opts ...Option) *Repository {
	r := &Repository{
		local:           make(map[string]Entry),
		global:          make(map[string]Entry),
		strikes:         make(map[string][]time.Time),
		strikeThreshold: DefaultStrikeThreshold,
		strikeWindow:    DefaultStrikeWindow,
		blockTTL:        DefaultBlockTTL,
		now:             time.Now,
		logger:          logging.WithComponent("blockset"),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Contains reports whether the address is blocked right now, by either a
// global or a local entry.
func (r *Repository) Contains(addr string) bool {
	_, ok := r.Lookup(addr)
	return ok
}

// Lookup returns the active block entry for an address. Global entries
// take precedence over local ones.
func (r *Repository) Lookup(addr string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	if e, ok := r.global[addr]; ok && !e.Expired(now) {
		return e, true
	}
	if e, ok := r.local[addr]; ok && !e.Expired(now) {
		return e, true
	}
	return Entry{}, false
}

// Strike records one failed login for the address and returns the strike
// count inside the current window. Crossing the threshold installs a
// local block entry and resets the counter.
func (r *Repository) Strike(addr string) (count int, blocked bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.strikeWindow)
	kept := r.strikes[addr][:0]
	for _, t := range r.strikes[addr] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	r.strikes[addr] = kept
	count = len(kept)

	if count < r.strikeThreshold {
		return count, false
	}

	reason := fmt.Sprintf("blocked for %.0fs after %d failed attempts", r.blockTTL.Seconds(), count)
	if r.blockTTL <= 0 {
		reason = fmt.Sprintf("blocked after %d failed attempts", count)
	}
	entry := Entry{
		Addr:      addr,
		Origin:    OriginLocal,
		Reason:    reason,
		CreatedAt: now,
	}
	if r.blockTTL > 0 {
		entry.ExpiresAt = now.Add(r.blockTTL)
	}
	r.local[addr] = entry
	delete(r.strikes, addr)
	r.logger.Info("ip_blocked",
		"addr", addr,
		"strikes", count,
		"ttl_seconds", r.blockTTL.Seconds())
	return count, true
}

// Block installs or replaces a local entry for the address. A zero ttl
// uses the repository default.
func (r *Repository) Block(addr, reason string, ttl time.Duration) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ttl == 0 {
		ttl = r.blockTTL
	}
	now := r.now()
	entry := Entry{
		Addr:      addr,
		Origin:    OriginLocal,
		Reason:    reason,
		CreatedAt: now,
	}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	r.local[addr] = entry
	r.logger.Info("ip_blocked", "addr", addr, "reason", reason)
	return entry
}

// Unblock removes the address from both local and global views. Returns
// true if anything was removed.
func (r *Repository) Unblock(addr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, inLocal := r.local[addr]
	_, inGlobal := r.global[addr]
	delete(r.local, addr)
	delete(r.global, addr)
	delete(r.strikes, addr)
	if inLocal || inGlobal {
		r.logger.Info("ip_unblocked", "addr", addr)
		return true
	}
	return false
}

// ApplyGlobal installs a pulled global set. Stale versions are rejected;
// the authoritative set replaces the previous global view while local
// entries and strikes stay untouched.
func (r *Repository) ApplyGlobal(set GlobalSet) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set.Version <= r.globalVersion {
		return false
	}

	global := make(map[string]Entry, len(set.Entries))
	for addr, e := range set.Entries {
		e.Addr = addr
		e.Origin = OriginGlobal
		global[addr] = e
	}
	r.global = global
	r.globalVersion = set.Version
	r.logger.Info("blocklist_synced", "version", set.Version, "entries", len(global))
	return true
}

// GlobalVersion returns the version of the last applied global set.
func (r *Repository) GlobalVersion() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.globalVersion
}

// Snapshot returns every active entry sorted by address. When an address
// is blocked both locally and globally the global entry is reported.
func (r *Repository) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now()
	merged := make(map[string]Entry)
	for addr, e := range r.local {
		if !e.Expired(now) {
			merged[addr] = e
		}
	}
	for addr, e := range r.global {
		if !e.Expired(now) {
			merged[addr] = e
		}
	}

	entries := make([]Entry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Addr < entries[j].Addr })
	return entries
}

// CleanExpired removes expired entries and strike records that fell out
// of the window. Returns the number of entries removed.
func (r *Repository) CleanExpired() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	removed := 0
	for addr, e := range r.local {
		if e.Expired(now) {
			delete(r.local, addr)
			removed++
		}
	}
	for addr, e := range r.global {
		if e.Expired(now) {
			delete(r.global, addr)
			removed++
		}
	}

	cutoff := now.Add(-r.strikeWindow)
	for addr, times := range r.strikes {
		kept := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				kept = append(kept, t)
			}
		}
		if len(kept) == 0 {
			delete(r.strikes, addr)
		} else {
			r.strikes[addr] = kept
		}
	}

	if removed > 0 {
		r.logger.Debug("blocklist_cleanup", "removed", removed)
	}
	return removed
}

// StartCleanup launches the periodic expiry sweep.
func (r *Repository) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.CleanExpired()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup sweep.
func (r *Repository) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}
