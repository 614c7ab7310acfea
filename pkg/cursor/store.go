package cursor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/theoren0108/TweetDigest/pkg/models"
)

// Store persists cursors in the accounts table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a cursor store over a migrated database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithClock overrides the clock used for last_synced_at
func (s *Store) WithClock(now func() time.Time) *Store {
	return &Store{db: s.db, now: now}
}

// Observation is the newest (id, timestamp) accepted for an account in a run
type Observation struct {
	Handle    string
	ID        string
	Timestamp *time.Time
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Get returns the cursor for handle. Unknown accounts yield an empty cursor.
func (s *Store) Get(ctx context.Context, handle string) (Cursor, error) {
	return get(ctx, s.db, models.NormalizeHandle(handle))
}

// GetAll returns cursors for the given handles
func (s *Store) GetAll(ctx context.Context, handles []string) (map[string]Cursor, error) {
	out := make(map[string]Cursor, len(handles))
	for _, h := range handles {
		c, err := s.Get(ctx, h)
		if err != nil {
			return nil, err
		}
		out[models.NormalizeHandle(h)] = c
	}
	return out, nil
}

func get(ctx context.Context, q querier, handle string) (Cursor, error) {
	var sinceID, sinceTS sql.NullString
	err := q.QueryRowContext(ctx,
		`SELECT since_id, since_timestamp FROM accounts WHERE handle = ?`, handle).Scan(&sinceID, &sinceTS)
	if err == sql.ErrNoRows {
		return Cursor{}, nil
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("read cursor for %s: %w", handle, err)
	}

	c := Cursor{SinceID: sinceID.String}
	if sinceTS.Valid && sinceTS.String != "" {
		if t, err := time.Parse(time.RFC3339, sinceTS.String); err == nil {
			t = t.UTC()
			c.SinceTimestamp = &t
		}
	}
	return c, nil
}

// Advance merges one observation into the stored cursor
func (s *Store) Advance(ctx context.Context, handle, id string, ts *time.Time) (Cursor, error) {
	out, err := s.AdvanceBatch(ctx, []Observation{{Handle: handle, ID: id, Timestamp: ts}})
	if err != nil {
		return Cursor{}, err
	}
	return out[models.NormalizeHandle(handle)], nil
}

// AdvanceBatch merges observations for several accounts in one transaction.
// Call it only after the posts behind the observations are committed.
func (s *Store) AdvanceBatch(ctx context.Context, obs []Observation) (map[string]Cursor, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin cursor update: %w", err)
	}
	defer tx.Rollback()

	synced := models.FormatTime(s.now())
	out := make(map[string]Cursor, len(obs))
	for _, o := range obs {
		handle := models.NormalizeHandle(o.Handle)
		if handle == "" {
			continue
		}
		prev, ok := out[handle]
		if !ok {
			if prev, err = get(ctx, tx, handle); err != nil {
				return nil, err
			}
		}
		next := prev.Merge(o.ID, o.Timestamp)

		var ts any
		if next.SinceTimestamp != nil {
			ts = models.FormatTime(*next.SinceTimestamp)
		}
		var id any
		if next.SinceID != "" {
			id = next.SinceID
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts(handle, since_id, since_timestamp, last_synced_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(handle) DO UPDATE SET
				since_id = excluded.since_id,
				since_timestamp = excluded.since_timestamp,
				last_synced_at = excluded.last_synced_at`,
			handle, id, ts, synced); err != nil {
			return nil, fmt.Errorf("advance cursor for %s: %w", handle, err)
		}
		out[handle] = next
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit cursor update: %w", err)
	}
	return out, nil
}
