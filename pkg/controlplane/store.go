package controlplane

import (
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/voslund/decoynet/internal/errx"
	"github.com/voslund/decoynet/pkg/blockset"
	"github.com/voslund/decoynet/pkg/storedb"
	"github.com/voslund/decoynet/pkg/telemetry"
)

const storeModule = "controlplane"

const (
	metaBlocklistVersion = "blocklist_version"
	metaBlocklistUpdated = "blocklist_updated_at"
)

func storeMigrations() []storedb.Migration {
	return []storedb.Migration{
		{
			Version: 1,
			Name:    "create_events_blocks_meta",
			SQL: `
CREATE TABLE IF NOT EXISTS events (
  id TEXT PRIMARY KEY,
  ts TEXT NOT NULL,
  kind TEXT NOT NULL,
  sensor_id TEXT NOT NULL,
  session_id TEXT NOT NULL DEFAULT '',
  source_ip TEXT NOT NULL,
  username TEXT NOT NULL DEFAULT '',
  password TEXT NOT NULL DEFAULT '',
  details TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts);
CREATE INDEX IF NOT EXISTS idx_events_source_ts ON events(source_ip, ts);

CREATE TABLE IF NOT EXISTS blocks (
  addr TEXT PRIMARY KEY,
  reason TEXT NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`,
		},
		{
			Version: 2,
			Name:    "create_feed",
			SQL: `
CREATE TABLE IF NOT EXISTS feed (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  attacker_ip TEXT NOT NULL,
  country TEXT NOT NULL,
  city TEXT NOT NULL,
  isp TEXT NOT NULL,
  command TEXT NOT NULL,
  decision TEXT NOT NULL,
  justification TEXT NOT NULL,
  risk_score INTEGER NOT NULL DEFAULT 0,
  latency_seconds REAL NOT NULL DEFAULT 0,
  summary TEXT NOT NULL
);
`,
		},
	}
}

// Store is the control plane's durable state: the deduplicated event log,
// the global block set with its version counter, and the intelligence
// feed.
type Store struct {
	db *sql.DB
}

func OpenStore(path string) (*Store, error) {
	db, err := storedb.Open(storedb.OpenOptions{
		Path:       path,
		Module:     storeModule,
		Migrations: storeMigrations(),
	})
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertEvents writes the batch, ignoring IDs already present, and
// returns only the events that were new. Re-delivered batches are
// harmless.
func (s *Store) InsertEvents(events []telemetry.Event) ([]telemetry.Event, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, errx.With(ErrStoreSave, ": begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(
		`INSERT OR IGNORE INTO events(id, ts, kind, sensor_id, session_id, source_ip, username, password, details)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, errx.With(ErrStoreSave, ": prepare event insert: %w", err)
	}
	defer stmt.Close()

	var inserted []telemetry.Event
	for _, e := range events {
		var details []byte
		if len(e.Details) > 0 {
			details, err = json.Marshal(e.Details)
			if err != nil {
				return nil, errx.With(ErrStoreSave, ": marshal details for %s: %w", e.ID, err)
			}
		}
		res, err := stmt.Exec(
			e.ID,
			e.Timestamp.UTC().Format(time.RFC3339Nano),
			string(e.Kind),
			e.SensorID,
			e.SessionID,
			e.SourceIP,
			e.Username,
			e.Password,
			details,
		)
		if err != nil {
			return nil, errx.With(ErrStoreSave, ": insert event %s: %w", e.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, e)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errx.With(ErrStoreSave, ": commit events: %w", err)
	}
	return inserted, nil
}

// LoadEvents returns the whole event log ordered by timestamp.
func (s *Store) LoadEvents() ([]telemetry.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, ts, kind, sensor_id, session_id, source_ip, username, password, details
		   FROM events
		  ORDER BY ts ASC`)
	if err != nil {
		return nil, errx.With(ErrStoreRead, ": query events: %w", err)
	}
	return scanEvents(rows)
}

// EventsBySource returns one address's events ordered by timestamp.
func (s *Store) EventsBySource(addr string) ([]telemetry.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, ts, kind, sensor_id, session_id, source_ip, username, password, details
		   FROM events
		  WHERE source_ip = ?
		  ORDER BY ts ASC`,
		addr,
	)
	if err != nil {
		return nil, errx.With(ErrStoreRead, ": query events for %s: %w", addr, err)
	}
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]telemetry.Event, error) {
	defer rows.Close()

	var events []telemetry.Event
	for rows.Next() {
		var (
			e       telemetry.Event
			ts      string
			kind    string
			details []byte
		)
		if err := rows.Scan(&e.ID, &ts, &kind, &e.SensorID, &e.SessionID, &e.SourceIP, &e.Username, &e.Password, &details); err != nil {
			return nil, errx.With(ErrStoreRead, ": scan event: %w", err)
		}
		e.Kind = telemetry.Kind(kind)
		t, err := parseStoredTime(ts)
		if err != nil {
			return nil, errx.With(ErrStoreRead, ": parse event ts: %w", err)
		}
		e.Timestamp = t
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, errx.With(ErrStoreRead, ": decode details: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.With(ErrStoreRead, ": iterate events: %w", err)
	}
	return events, nil
}

// AddBlock installs a global entry, bumping the blocklist version only
// when the address was not already present.
func (s *Store) AddBlock(addr, reason string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, errx.With(ErrStoreSave, ": begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT OR IGNORE INTO blocks(addr, reason, created_at) VALUES (?, ?, ?)`,
		addr,
		reason,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, errx.With(ErrStoreSave, ": insert block %s: %w", addr, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := bumpBlocklistVersion(tx); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, errx.With(ErrStoreSave, ": commit block: %w", err)
	}
	return n > 0, nil
}

// RemoveBlock deletes an entry regardless of how it got there. Removing
// an absent address is a no-op and does not bump the version.
func (s *Store) RemoveBlock(addr string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, errx.With(ErrStoreSave, ": begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM blocks WHERE addr = ?`, addr)
	if err != nil {
		return false, errx.With(ErrStoreSave, ": delete block %s: %w", addr, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		if err := bumpBlocklistVersion(tx); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, errx.With(ErrStoreSave, ": commit unblock: %w", err)
	}
	return n > 0, nil
}

func bumpBlocklistVersion(tx *sql.Tx) error {
	var raw string
	err := tx.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaBlocklistVersion).Scan(&raw)
	var current int64
	switch {
	case err == sql.ErrNoRows:
		current = 0
	case err != nil:
		return errx.With(ErrStoreSave, ": read blocklist version: %w", err)
	default:
		current, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return errx.With(ErrStoreSave, ": parse blocklist version: %w", err)
		}
	}

	const upsert = `INSERT INTO meta(key, value) VALUES (?, ?)
	 ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.Exec(upsert, metaBlocklistVersion, strconv.FormatInt(current+1, 10)); err != nil {
		return errx.With(ErrStoreSave, ": write blocklist version: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.Exec(upsert, metaBlocklistUpdated, now); err != nil {
		return errx.With(ErrStoreSave, ": write blocklist updated_at: %w", err)
	}
	return nil
}

// Blocklist returns the authoritative global set for edge synchronizers.
func (s *Store) Blocklist() (blockset.GlobalSet, error) {
	set := blockset.GlobalSet{Entries: make(map[string]blockset.Entry)}

	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaBlocklistVersion).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return set, errx.With(ErrStoreRead, ": read blocklist version: %w", err)
	default:
		set.Version, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return set, errx.With(ErrStoreRead, ": parse blocklist version: %w", err)
		}
	}
	if err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaBlocklistUpdated).Scan(&raw); err == nil {
		if t, err := parseStoredTime(raw); err == nil {
			set.UpdatedAt = t
		}
	}

	rows, err := s.db.Query(`SELECT addr, reason, created_at FROM blocks ORDER BY addr`)
	if err != nil {
		return set, errx.With(ErrStoreRead, ": query blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var addr, reason, createdAt string
		if err := rows.Scan(&addr, &reason, &createdAt); err != nil {
			return set, errx.With(ErrStoreRead, ": scan block: %w", err)
		}
		entry := blockset.Entry{
			Addr:   addr,
			Origin: blockset.OriginGlobal,
			Reason: reason,
		}
		if t, err := parseStoredTime(createdAt); err == nil {
			entry.CreatedAt = t
		}
		set.Entries[addr] = entry
	}
	if err := rows.Err(); err != nil {
		return set, errx.With(ErrStoreRead, ": iterate blocks: %w", err)
	}
	return set, nil
}

// BlockCount returns the number of global entries.
func (s *Store) BlockCount() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, errx.With(ErrStoreRead, ": count blocks: %w", err)
	}
	return n, nil
}

// AppendFeed records one intelligence feed entry.
func (s *Store) AppendFeed(entry FeedEntry) error {
	_, err := s.db.Exec(
		`INSERT INTO feed(ts, attacker_ip, country, city, isp, command, decision, justification, risk_score, latency_seconds, summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.AttackerIP,
		entry.Geolocation.Country,
		entry.Geolocation.City,
		entry.Geolocation.ISP,
		entry.Command,
		entry.Decision,
		entry.Reason,
		entry.RiskScore,
		entry.Latency,
		entry.Summary,
	)
	if err != nil {
		return errx.With(ErrStoreSave, ": append feed: %w", err)
	}
	return nil
}

// Feed returns all feed entries oldest first.
func (s *Store) Feed() ([]FeedEntry, error) {
	rows, err := s.db.Query(
		`SELECT ts, attacker_ip, country, city, isp, command, decision, justification, risk_score, latency_seconds, summary
		   FROM feed
		  ORDER BY seq ASC`)
	if err != nil {
		return nil, errx.With(ErrStoreRead, ": query feed: %w", err)
	}
	defer rows.Close()

	var entries []FeedEntry
	for rows.Next() {
		var (
			e  FeedEntry
			ts string
		)
		if err := rows.Scan(&ts, &e.AttackerIP, &e.Geolocation.Country, &e.Geolocation.City, &e.Geolocation.ISP,
			&e.Command, &e.Decision, &e.Reason, &e.RiskScore, &e.Latency, &e.Summary); err != nil {
			return nil, errx.With(ErrStoreRead, ": scan feed entry: %w", err)
		}
		if t, err := parseStoredTime(ts); err == nil {
			e.Timestamp = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errx.With(ErrStoreRead, ": iterate feed: %w", err)
	}
	return entries, nil
}

func parseStoredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t, err = time.Parse(time.RFC3339, raw)
	}
	return t, err
}
