package migrate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "digest.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func columns(t *testing.T, db *sql.DB, table string) []string {
	t.Helper()
	rows, err := db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	require.NoError(t, err)
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		names = append(names, name)
	}
	return names
}

func stepNames() []string {
	names := make([]string, len(Steps))
	for i, s := range Steps {
		names[i] = s.Name
	}
	return names
}

func TestMigrateFreshDatabase(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	applied, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, stepNames(), applied)

	assert.Subset(t, columns(t, db, "posts"),
		[]string{"id", "author", "account", "created_at", "text", "url", "raw", "media_manifest", "is_summarized"})
	assert.Subset(t, columns(t, db, "accounts"),
		[]string{"handle", "category", "since_id", "since_timestamp", "last_synced_at"})
	assert.Subset(t, columns(t, db, "media"),
		[]string{"id", "post_id", "media_key", "media_type", "source_url", "local_path", "remote_url", "hash"})

	ledger, err := Applied(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, stepNames(), ledger)
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	_, err := Migrate(ctx, db)
	require.NoError(t, err)

	applied, err := Migrate(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, applied)

	pending, err := Pending(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMigrateBackfillsLegacyDatabase(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	// Shape written by the first release: no ledger, no accounts table.
	_, err := db.Exec(`
		CREATE TABLE posts (id TEXT PRIMARY KEY, author TEXT, created_at TEXT, text TEXT, url TEXT);
		CREATE TABLE since_ids (account TEXT PRIMARY KEY, since_id TEXT);
		CREATE TABLE latest_timestamps (account TEXT PRIMARY KEY, latest_timestamp TEXT);
		INSERT INTO posts VALUES ('10', '@Alice', '2026-10-15T08:00:00Z', 'hello', 'https://x.com/alice/status/10');
		INSERT INTO posts VALUES ('20', 'bob', '2026-10-15T09:00:00Z', 'hi', 'https://x.com/bob/status/20');
		INSERT INTO since_ids VALUES ('Alice', '10');
		INSERT INTO latest_timestamps VALUES ('alice', '2026-10-15T08:00:00Z');
	`)
	require.NoError(t, err)

	_, err = Migrate(ctx, db)
	require.NoError(t, err)

	var account string
	require.NoError(t, db.QueryRow(`SELECT account FROM posts WHERE id = '10'`).Scan(&account))
	assert.Equal(t, "alice", account)

	var sinceID, sinceTS sql.NullString
	require.NoError(t, db.QueryRow(`SELECT since_id, since_timestamp FROM accounts WHERE handle = 'alice'`).
		Scan(&sinceID, &sinceTS))
	assert.Equal(t, "10", sinceID.String)
	assert.Equal(t, "2026-10-15T08:00:00Z", sinceTS.String)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE handle = 'bob'`).Scan(&n))
	assert.Equal(t, 1, n, "authors seen in posts become accounts")

	var raw, manifest string
	require.NoError(t, db.QueryRow(`SELECT raw, media_manifest FROM posts WHERE id = '20'`).Scan(&raw, &manifest))
	assert.Equal(t, "{}", raw)
	assert.Equal(t, "[]", manifest)
}

func TestMigrateToleratesColumnsAddedAdHoc(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	_, err := db.Exec(`
		CREATE TABLE posts (id TEXT PRIMARY KEY, author TEXT, created_at TEXT, text TEXT, url TEXT,
			account TEXT, is_summarized INTEGER DEFAULT 0);
		CREATE TABLE accounts (handle TEXT PRIMARY KEY, platform TEXT, since_id TEXT,
			latest_timestamp TEXT, updated_at TEXT, category TEXT);
		INSERT INTO accounts(handle, since_id, latest_timestamp, category) VALUES ('carol', '5', '2026-01-01T00:00:00Z', 'ai');
		CREATE TABLE media (id TEXT PRIMARY KEY, post_id TEXT, type TEXT, url TEXT);
		INSERT INTO media VALUES ('m1', '5', 'video', 'https://pbs.example/v.mp4');
	`)
	require.NoError(t, err)

	_, err = Migrate(ctx, db)
	require.NoError(t, err)

	var sinceTS, category string
	require.NoError(t, db.QueryRow(`SELECT since_timestamp, category FROM accounts WHERE handle = 'carol'`).
		Scan(&sinceTS, &category))
	assert.Equal(t, "2026-01-01T00:00:00Z", sinceTS)
	assert.Equal(t, "ai", category)

	var mediaType, source string
	require.NoError(t, db.QueryRow(`SELECT media_type, source_url FROM media WHERE post_id = '5'`).
		Scan(&mediaType, &source))
	assert.Equal(t, "video", mediaType)
	assert.Equal(t, "https://pbs.example/v.mp4", source)
}

func TestRunRollsBackFailedStep(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	boom := errors.New("boom")
	steps := []Step{
		{Name: "a", Apply: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `CREATE TABLE one (x INTEGER)`)
			return err
		}},
		{Name: "b", Apply: func(ctx context.Context, tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `CREATE TABLE two (x INTEGER)`); err != nil {
				return err
			}
			return boom
		}},
		{Name: "c", Apply: func(ctx context.Context, tx *sql.Tx) error { return nil }},
	}

	applied, err := Run(ctx, db, steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, errs.ErrMigration)
	assert.Equal(t, []string{"a"}, applied)

	ledger, err := Applied(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ledger)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 'two'`).Scan(&n))
	assert.Zero(t, n, "the failed step left no schema behind")

	steps[1].Apply = func(ctx context.Context, tx *sql.Tx) error { return nil }
	applied, err = Run(ctx, db, steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, applied)
}
