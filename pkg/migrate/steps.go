package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// normalizedHandle is the SQL form of models.NormalizeHandle
const normalizedHandle = `lower(trim(ltrim(trim(%s), '@')))`

// Steps is the ordered schema history. Append only; never edit a released step.
var Steps = []Step{
	{Name: "0001_base", Apply: baseTables},
	{Name: "0002_accounts", Apply: accountsTable},
	{Name: "0003_posts_account", Apply: postsAccountColumns},
	{Name: "0004_media", Apply: mediaTable},
	{Name: "0005_posts_is_summarized", Apply: postsSummarizedFlag},
	{Name: "0006_accounts_category", Apply: accountsCategory},
	{Name: "0007_indexes", Apply: indexes},
}

func baseTables(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS posts (
			id TEXT PRIMARY KEY,
			author TEXT,
			created_at TEXT,
			text TEXT,
			url TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS since_ids (
			account TEXT PRIMARY KEY,
			since_id TEXT
		)`,
	)
}

func accountsTable(ctx context.Context, tx *sql.Tx) error {
	if err := execAll(ctx, tx, `CREATE TABLE IF NOT EXISTS accounts (
		handle TEXT PRIMARY KEY,
		display_name TEXT,
		since_id TEXT,
		last_synced_at TEXT
	)`); err != nil {
		return err
	}
	if err := addColumn(ctx, tx, "accounts", "since_timestamp", "TEXT"); err != nil {
		return err
	}

	// Cursors written by older versions live in since_ids and, for some
	// databases, latest_timestamps or an accounts.latest_timestamp column.
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts(handle, since_id)
		SELECT `+fmt.Sprintf(normalizedHandle, "account")+`, since_id
		FROM since_ids
		WHERE account IS NOT NULL AND `+fmt.Sprintf(normalizedHandle, "account")+` <> ''`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO accounts(handle)
		SELECT DISTINCT `+fmt.Sprintf(normalizedHandle, "author")+`
		FROM posts
		WHERE author IS NOT NULL AND `+fmt.Sprintf(normalizedHandle, "author")+` <> ''`); err != nil {
		return err
	}

	legacyTimestamps, err := tableExists(ctx, tx, "latest_timestamps")
	if err != nil {
		return err
	}
	if legacyTimestamps {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts SET since_timestamp = (
				SELECT lt.latest_timestamp FROM latest_timestamps lt
				WHERE `+fmt.Sprintf(normalizedHandle, "lt.account")+` = accounts.handle
			)
			WHERE since_timestamp IS NULL`); err != nil {
			return err
		}
	}

	legacyColumn, err := columnExists(ctx, tx, "accounts", "latest_timestamp")
	if err != nil {
		return err
	}
	if legacyColumn {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET since_timestamp = latest_timestamp WHERE since_timestamp IS NULL`); err != nil {
			return err
		}
	}
	return nil
}

func postsAccountColumns(ctx context.Context, tx *sql.Tx) error {
	for _, col := range []struct{ name, decl string }{
		{"account", "TEXT"},
		{"raw", "TEXT NOT NULL DEFAULT '{}'"},
		{"media_manifest", "TEXT NOT NULL DEFAULT '[]'"},
		{"inserted_at", "TEXT"},
	} {
		if err := addColumn(ctx, tx, "posts", col.name, col.decl); err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, `UPDATE posts SET account = `+fmt.Sprintf(normalizedHandle, "author")+`
		WHERE account IS NULL AND author IS NOT NULL`)
	return err
}

func mediaTable(ctx context.Context, tx *sql.Tx) error {
	exists, err := tableExists(ctx, tx, "media")
	if err != nil {
		return err
	}
	if exists {
		current, err := columnExists(ctx, tx, "media", "source_url")
		if err != nil {
			return err
		}
		if !current {
			// An older media layout keyed by url; keep its rows under a new name.
			if _, err := tx.ExecContext(ctx, `ALTER TABLE media RENAME TO media_legacy`); err != nil {
				return err
			}
		}
	}

	if err := execAll(ctx, tx,
		`CREATE TABLE IF NOT EXISTS media (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			post_id TEXT NOT NULL,
			media_type TEXT NOT NULL,
			source_url TEXT NOT NULL,
			local_path TEXT,
			remote_url TEXT,
			hash TEXT,
			created_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			UNIQUE(post_id, source_url)
		)`,
	); err != nil {
		return err
	}
	if err := addColumn(ctx, tx, "media", "media_key", "TEXT"); err != nil {
		return err
	}

	legacy, err := tableExists(ctx, tx, "media_legacy")
	if err != nil {
		return err
	}
	if legacy {
		hasURL, err := columnExists(ctx, tx, "media_legacy", "url")
		if err != nil {
			return err
		}
		hasType, err := columnExists(ctx, tx, "media_legacy", "type")
		if err != nil {
			return err
		}
		mediaType := "'photo'"
		if hasType {
			mediaType = "COALESCE(type, 'photo')"
		}
		if hasURL {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO media(post_id, media_type, source_url)
				SELECT post_id, `+mediaType+`, url FROM media_legacy
				WHERE post_id IS NOT NULL AND url IS NOT NULL`); err != nil {
				return err
			}
		}
	}

	return execAll(ctx, tx,
		`CREATE INDEX IF NOT EXISTS idx_media_post_id ON media(post_id)`,
		`CREATE INDEX IF NOT EXISTS idx_media_hash ON media(hash)`,
	)
}

func postsSummarizedFlag(ctx context.Context, tx *sql.Tx) error {
	return addColumn(ctx, tx, "posts", "is_summarized", "INTEGER NOT NULL DEFAULT 0")
}

func accountsCategory(ctx context.Context, tx *sql.Tx) error {
	return addColumn(ctx, tx, "accounts", "category", "TEXT")
}

func indexes(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx,
		`CREATE INDEX IF NOT EXISTS idx_posts_account_created ON posts(account, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_posts_created ON posts(created_at)`,
	)
}
