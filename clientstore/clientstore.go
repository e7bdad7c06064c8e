// Package clientstore is the client half's persisted state: auth session,
// free-tier counter, and last counted listing key, in a namespaced SQLite
// key-value table that survives restarts.
//
// Every key is prefixed with a schema namespace ("v1:") so a future layout
// change can write under "v2:" without corrupting or misreading old
// entries.
package clientstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/marktorrescoding/straightshotauto/auth"
	"github.com/marktorrescoding/straightshotauto/dbopen"
)

// Schema for the client_kv table. Applied by Init.
const Schema = `
CREATE TABLE IF NOT EXISTS client_kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const namespace = "v1:"

const (
	keySession     = "session"
	keyFreeCount   = "free_count"
	keyLastFreeKey = "last_free_key"
)

// Store is the SQLite-backed client KV store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a store on db. Call Init once before use.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Init creates the client_kv table if it doesn't exist.
func (s *Store) Init() error {
	_, err := s.db.Exec(Schema)
	return err
}

// Get returns the raw value for key, with ok=false when absent.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM client_kv WHERE key = ?`, namespace+key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("clientstore get %s: %w", key, err)
	}
	return v, true, nil
}

// Set writes the raw value for key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO client_kv (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		namespace+key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("clientstore set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM client_kv WHERE key = ?`, namespace+key)
	return err
}

// Session returns the persisted auth session, or nil when none is stored.
func (s *Store) Session(ctx context.Context) (*auth.Session, error) {
	raw, ok, err := s.Get(ctx, keySession)
	if err != nil || !ok {
		return nil, err
	}
	var sess auth.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		// Unreadable session from an old build: treat as signed out.
		return nil, nil
	}
	return &sess, nil
}

// SetSession persists the auth session.
func (s *Store) SetSession(ctx context.Context, sess auth.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.Set(ctx, keySession, string(raw))
}

// ClearSession removes the persisted session.
func (s *Store) ClearSession(ctx context.Context) error {
	return s.Delete(ctx, keySession)
}

// FreeCount returns the number of completed unauthenticated analyses.
func (s *Store) FreeCount(ctx context.Context) (int, error) {
	raw, ok, err := s.Get(ctx, keyFreeCount)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// CountFreeAnalysis increments the free-tier counter for listingKey,
// at most once per distinct key: a repeat of the last counted key is a
// no-op. Returns the resulting count and whether this call counted.
// The read-modify-write runs in a transaction so overlapping completions
// cannot double-count.
func (s *Store) CountFreeAnalysis(ctx context.Context, listingKey string) (count int, counted bool, err error) {
	err = dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		var lastKey string
		if err := tx.QueryRowContext(ctx,
			`SELECT value FROM client_kv WHERE key = ?`, namespace+keyLastFreeKey,
		).Scan(&lastKey); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var rawCount string
		if err := tx.QueryRowContext(ctx,
			`SELECT value FROM client_kv WHERE key = ?`, namespace+keyFreeCount,
		).Scan(&rawCount); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		count, _ = strconv.Atoi(rawCount)

		if lastKey == listingKey {
			return nil
		}

		count++
		counted = true
		ts := s.now().UnixMilli()
		upsert := `INSERT INTO client_kv (key, value, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
		if _, err := tx.ExecContext(ctx, upsert, namespace+keyFreeCount, strconv.Itoa(count), ts); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsert, namespace+keyLastFreeKey, listingKey, ts); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("clientstore count free analysis: %w", err)
	}
	return count, counted, nil
}
