package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - actions and settlements
const currentSchemaVersion = 1

// MemoryPath opens a journal that lives only as long as the process.
const MemoryPath = ":memory:"

// Journal is the SQLite action log.
type Journal struct {
	db            *sql.DB
	settlementSeq atomic.Int64
}

// Open creates or opens a journal at path. An empty path means MemoryPath.
//
// The database is configured with:
//   - WAL mode for reads during writes (trace while joined)
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
func Open(path string) (*Journal, error) {
	if path == "" {
		path = MemoryPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// One connection: SQLite has a single writer, and every :memory:
	// connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	j := &Journal{db: db}
	var last sql.NullInt64
	if err := db.QueryRow("SELECT MAX(seq) FROM settlements").Scan(&last); err != nil {
		db.Close()
		return nil, fmt.Errorf("read settlement seq: %w", err)
	}
	j.settlementSeq.Store(last.Int64)

	return j, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	return j.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// SchemaVersion returns the journal's user_version.
func (j *Journal) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := j.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("get user_version: %w", err)
	}
	return version, nil
}
