package migrate

import (
	"context"
	"database/sql"
	"fmt"

	errs "github.com/theoren0108/TweetDigest/pkg/errors"
)

// Step is one named schema change. Apply runs inside the transaction that
// also records the step in the ledger.
type Step struct {
	Name  string
	Apply func(ctx context.Context, tx *sql.Tx) error
}

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// Migrate brings db to the current schema and returns the steps it applied
func Migrate(ctx context.Context, db *sql.DB) ([]string, error) {
	return Run(ctx, db, Steps)
}

// Run applies every step missing from the ledger, in order. A failing step is
// rolled back together with its ledger row and stops the run.
func Run(ctx context.Context, db *sql.DB, steps []Step) ([]string, error) {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMigration, "create ledger", err)
	}

	done, err := Applied(ctx, db)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}

	var applied []string
	for _, step := range steps {
		if seen[step.Name] {
			continue
		}
		if err := apply(ctx, db, step); err != nil {
			return applied, errs.Wrap(errs.ErrorTypeMigration, step.Name, err)
		}
		applied = append(applied, step.Name)
	}
	return applied, nil
}

func apply(ctx context.Context, db *sql.DB, step Step) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := step.Apply(ctx, tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(name) VALUES (?)`, step.Name); err != nil {
		return fmt.Errorf("record ledger: %w", err)
	}
	return tx.Commit()
}

// Applied lists ledger entries in application order
func Applied(ctx context.Context, db *sql.DB) ([]string, error) {
	if _, err := db.ExecContext(ctx, ledgerDDL); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeMigration, "create ledger", err)
	}
	rows, err := db.QueryContext(ctx, `SELECT name FROM schema_migrations ORDER BY applied_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Pending lists steps not yet in the ledger
func Pending(ctx context.Context, db *sql.DB) ([]string, error) {
	done, err := Applied(ctx, db)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(done))
	for _, name := range done {
		seen[name] = true
	}
	var pending []string
	for _, step := range Steps {
		if !seen[step.Name] {
			pending = append(pending, step.Name)
		}
	}
	return pending, nil
}

func tableExists(ctx context.Context, tx *sql.Tx, table string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
	return n > 0, err
}

func columnExists(ctx context.Context, tx *sql.Tx, table, column string) (bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%q)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// addColumn adds a column unless an earlier version already created it
func addColumn(ctx context.Context, tx *sql.Tx, table, column, decl string) error {
	ok, err := columnExists(ctx, tx, table, column)
	if err != nil {
		return fmt.Errorf("inspect %s.%s: %w", table, column, err)
	}
	if ok {
		return nil
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl)); err != nil {
		return fmt.Errorf("add %s.%s: %w", table, column, err)
	}
	return nil
}

func execAll(ctx context.Context, tx *sql.Tx, stmts ...string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
