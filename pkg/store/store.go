package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
	"github.com/theoren0108/TweetDigest/pkg/logger"
	"github.com/theoren0108/TweetDigest/pkg/migrate"
	"github.com/theoren0108/TweetDigest/pkg/models"
)

const pragmas = "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"

// Store is the SQLite-backed storage engine for accounts, posts and media
type Store struct {
	db     *sql.DB
	logger logger.Logger
	now    func() time.Time
	remove func(path string) error
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock sets the clock used for inserted_at
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithFileRemover sets how reclaimed media files are deleted
func WithFileRemover(remove func(path string) error) Option {
	return func(s *Store) { s.remove = remove }
}

// Open opens the database at path, creating its directory, and migrates it
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s, err := New(ctx, db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB opens the database file without migrating it, creating its
// directory when needed
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer; WAL still lets readers through.
	db.SetMaxOpenConns(1)
	return db, nil
}

// New wraps an open database and migrates it
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Store, error) {
	s := &Store{
		db:     db,
		logger: logger.NewNopLogger(),
		now:    time.Now,
		remove: removeFile,
	}
	for _, opt := range opts {
		opt(s)
	}

	applied, err := migrate.Migrate(ctx, db)
	if err != nil {
		return nil, err
	}
	if len(applied) > 0 {
		s.logger.InfoWithFields("Applied schema migrations", map[string]interface{}{
			"steps": applied,
		})
	}
	return s, nil
}

// DB exposes the underlying handle for the cursor store and migration commands
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// EnsureAccounts inserts missing accounts. A non-empty category replaces the stored one.
func (s *Store) EnsureAccounts(ctx context.Context, accounts []models.Account) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, a := range accounts {
		handle := models.NormalizeHandle(a.Handle)
		if handle == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO accounts(handle, category) VALUES (?, NULLIF(?, ''))
			ON CONFLICT(handle) DO UPDATE SET category = COALESCE(excluded.category, accounts.category)`,
			handle, a.Category); err != nil {
			return fmt.Errorf("ensure account %s: %w", handle, err)
		}
	}
	return tx.Commit()
}

// ListAccounts returns all accounts ordered by handle
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT handle, COALESCE(category, ''), COALESCE(since_id, ''), since_timestamp, last_synced_at
		FROM accounts ORDER BY handle`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		var (
			a               models.Account
			sinceTS, synced sql.NullString
		)
		if err := rows.Scan(&a.Handle, &a.Category, &a.SinceID, &sinceTS, &synced); err != nil {
			return nil, err
		}
		a.SinceTimestamp = parseNullTime(sinceTS)
		a.LastSyncedAt = parseNullTime(synced)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Categories maps handle to category for accounts that have one
func (s *Store) Categories(ctx context.Context) (map[string]string, error) {
	accounts, err := s.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, a := range accounts {
		if a.Category != "" {
			out[a.Handle] = a.Category
		}
	}
	return out, nil
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid {
		return nil
	}
	t, ok := models.ParseStoredTime(v.String)
	if !ok {
		return nil
	}
	return &t
}

// Stats summarizes the store contents
type Stats struct {
	Accounts       int `json:"accounts"`
	Posts          int `json:"posts"`
	Unsummarized   int `json:"unsummarized"`
	Media          int `json:"media"`
	DistinctHashes int `json:"distinct_hashes"`
}

// Stats counts rows
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM posts),
			(SELECT COUNT(*) FROM posts WHERE is_summarized = 0),
			(SELECT COUNT(*) FROM media),
			(SELECT COUNT(DISTINCT hash) FROM media WHERE hash IS NOT NULL)`).
		Scan(&st.Accounts, &st.Posts, &st.Unsummarized, &st.Media, &st.DistinctHashes)
	if err != nil {
		return Stats{}, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}

// notFound is returned by lookups of a single missing row
func notFound(what, id string) error {
	return errs.New(errs.ErrorTypeNotFound, fmt.Sprintf("%s %q not found", what, id))
}
