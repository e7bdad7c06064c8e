// Package cache is the edge service's content-addressed response cache.
//
// Entries are keyed by sha256(schema version, canonical snapshot JSON), so
// field-for-field identical snapshots always address the same row and a
// schema or prompt change invalidates every old entry without a purge.
// Writes for the same key are commutative: content is deterministic for a
// key, so last-writer-wins under concurrent misses is harmless.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/snapshot"
)

// Schema for the analysis_cache table. Applied by Init.
const Schema = `
CREATE TABLE IF NOT EXISTS analysis_cache (
	key TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_cache_created ON analysis_cache(created_at);
`

// DefaultTTL bounds how long one assessment stays servable. Listings change
// price and description; a day is the accepted staleness trade-off.
const DefaultTTL = 24 * time.Hour

// Stats is a point-in-time view of cache effectiveness, for the admin
// surface. Hit/miss counters are process-lifetime, not persisted.
type Stats struct {
	Entries int64 `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Store is the SQLite-backed cache.
type Store struct {
	db     *sql.DB
	ttl    time.Duration
	now    func() time.Time
	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option { return func(s *Store) { s.ttl = d } }

// WithClock sets a custom clock (for testing).
func WithClock(fn func() time.Time) Option { return func(s *Store) { s.now = fn } }

// New creates a cache store on db. Call Init once at startup.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, ttl: DefaultTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the analysis_cache table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Lookup returns the cached analysis for snap, if a live entry exists.
// Expired rows are deleted on the spot and reported as misses.
func (s *Store) Lookup(ctx context.Context, snap snapshot.Snapshot) (*coerce.Analysis, bool, error) {
	key := snapshot.CacheKey(snap)

	var payload []byte
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, created_at FROM analysis_cache WHERE key = ?`, key,
	).Scan(&payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		s.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}

	if s.now().UnixMilli()-createdAt > s.ttl.Milliseconds() {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE key = ?`, key); err != nil {
			slog.Warn("cache: expired row delete failed", "key", key, "error", err)
		}
		s.misses.Add(1)
		return nil, false, nil
	}

	var a coerce.Analysis
	if err := json.Unmarshal(payload, &a); err != nil {
		// A row that no longer decodes is garbage from an old build; drop it.
		s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE key = ?`, key)
		s.misses.Add(1)
		return nil, false, nil
	}

	s.hits.Add(1)
	return &a, true, nil
}

// Store persists the analysis for snap, replacing any existing entry.
func (s *Store) Store(ctx context.Context, snap snapshot.Snapshot, a coerce.Analysis) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_cache (key, payload, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
		snapshot.CacheKey(snap), payload, s.now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Sweep deletes all expired rows. Returns the number removed.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.ttl).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM analysis_cache WHERE created_at <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cache sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartSweeper runs Sweep hourly until done is closed.
func (s *Store) StartSweeper(ctx context.Context, done <-chan struct{}) {
	tick := time.NewTicker(time.Hour)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				if n, err := s.Sweep(ctx); err != nil {
					slog.Warn("cache: sweep failed", "error", err)
				} else if n > 0 {
					slog.Debug("cache: swept expired entries", "count", n)
				}
			}
		}
	}()
}

// Stats reports entry count and process-lifetime hit/miss counters.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_cache`).Scan(&st.Entries); err != nil {
		return st, fmt.Errorf("cache stats: %w", err)
	}
	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	return st, nil
}
