// Package sqlite implements the repository interfaces on an embedded SQLite
// database (modernc.org/sqlite, pure Go, no cgo).
//
// THE THREE TABLES:
//   - snippets: the collection. Tags live in a JSON array column and are
//     filtered with json_each, so a snippet stays one row.
//   - facets:   (kind, value, count) rows kept in step with snippets inside
//     the same transaction as every write. Distinct languages, frameworks and
//     tags are a single indexed read instead of a full scan.
//   - users:    accounts for GitHub and email/password sign-in.
//
// Every committed write is handed to a live.Publisher afterwards, which is
// how live lists learn that their result set may have changed.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"

	"github.com/sakif/codeshelf/internal/apperror"
	"github.com/sakif/codeshelf/internal/live"
)

// DB wraps a sql.DB connection pool and implements SnippetRepository and
// UserRepository.
type DB struct {
	conn      *sql.DB
	publisher live.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a DB.
type Option func(*DB)

// WithPublisher makes every committed snippet write publish a live.Change.
func WithPublisher(p live.Publisher) Option {
	return func(db *DB) { db.publisher = p }
}

// WithLogger sets the logger used for non-fatal store events.
func WithLogger(l *slog.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/codeshelf.db" → file-based database
//   - ":memory:"          → in-memory database, gone on Close (tests)
//
// ONE CONNECTION:
// The pool is capped at a single connection. SQLite allows one writer at a
// time anyway, and ":memory:" databases are per-connection, so a second pooled
// connection would see an empty schema.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := newDB(conn, opts...)
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// newDB wraps an already-open pool without migrating. Tests use it with
// sqlmock.
func newDB(conn *sql.DB, opts ...Option) *DB {
	db := &DB{conn: conn, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return apperror.StoreFailure("sqlite: ping", err)
	}
	return nil
}

// migrate creates tables and indexes. Every statement is idempotent, so it
// runs on every start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS snippets (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			code        TEXT NOT NULL,
			language    TEXT NOT NULL,
			framework   TEXT,
			tags        TEXT,
			is_public   INTEGER NOT NULL DEFAULT 1,
			author      TEXT NOT NULL DEFAULT '',
			user_id     TEXT NOT NULL DEFAULT '',
			created_at  DATETIME,
			updated_at  DATETIME NOT NULL,
			rating      REAL NOT NULL DEFAULT 0,
			num_ratings INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_snippets_created_at ON snippets(created_at);
		CREATE INDEX IF NOT EXISTS idx_snippets_language ON snippets(language, created_at);
		CREATE INDEX IF NOT EXISTS idx_snippets_user_id ON snippets(user_id);
	`)
	if err != nil {
		return fmt.Errorf("creating snippets table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS facets (
			kind  TEXT NOT NULL,
			value TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (kind, value)
		);
	`)
	if err != nil {
		return fmt.Errorf("creating facets table: %w", err)
	}

	// github_id is NULL for email/password accounts. UNIQUE still holds for
	// the non-NULL ones: SQLite treats NULLs as distinct.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			github_id  INTEGER UNIQUE,
			login      TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			avatar_url TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	if err := db.addColumnIfNotExists("users", "password_hash",
		"TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding password_hash to users: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_users_password_email
			ON users(email) WHERE password_hash != '';
	`)
	if err != nil {
		return fmt.Errorf("creating users email index: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already
// exist. ALTER TABLE errors on a duplicate column, so pragma_table_info is
// checked first.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

func (db *DB) publish(c live.Change) {
	if db.publisher == nil {
		return
	}
	db.publisher.Publish(c)
}

// rollback is deferred after BeginTx. After a successful Commit it returns
// sql.ErrTxDone, which is expected and ignored.
func (db *DB) rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		db.logger.Warn("sqlite: rollback failed", "error", err)
	}
}
