package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	ierrors "github.com/rajasaid/InsightOS/internal/errors"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS documents (
	path          TEXT PRIMARY KEY,
	fingerprint   TEXT NOT NULL,
	size          INTEGER NOT NULL DEFAULT 0,
	mod_time      INTEGER NOT NULL DEFAULT 0,
	format        TEXT NOT NULL DEFAULT '',
	chunks        INTEGER NOT NULL DEFAULT 0,
	indexed_at    INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL,
	error_kind    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	attempts      INTEGER NOT NULL DEFAULT 0
);

-- One row per chunk; vector is little-endian float32.
CREATE TABLE IF NOT EXISTS chunks (
	source_path  TEXT NOT NULL,
	chunk_index  INTEGER NOT NULL,
	text         TEXT NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	format       TEXT NOT NULL DEFAULT '',
	vector       BLOB NOT NULL,
	inserted_at  INTEGER NOT NULL,
	PRIMARY KEY (source_path, chunk_index)
);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// openDB opens the SQLite database with durable settings: WAL journal,
// synchronous FULL so commits survive power loss, and a single
// connection so writes are serialized in-process.
func openDB(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	dsn := path
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, ierrors.StoreUnavailable("open", err)
		}
		dsn = "file:" + path + "?mode=ro"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, ierrors.StoreUnavailable("open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = FULL",
		"PRAGMA temp_store = MEMORY",
	}
	if !readOnly {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, ierrors.StoreUnavailable("configure", fmt.Errorf("%s: %w", p, err))
		}
	}
	return db, nil
}

func initSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, schemaVersion)
	return err
}

// checkIntegrity validates an existing database file. A missing file is
// not an error.
func checkIntegrity(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}
