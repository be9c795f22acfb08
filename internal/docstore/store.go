package docstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added UNIQUE index on documents.seq
const currentSchemaVersion = 1

// Store is a document store persisted in SQLite.
// Safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	clock  *Clock
	ids    IDGenerator
	hub    *hub

	// mu serialises commits so clock stamps follow commit order.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for subscription diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces the store clock. The clock is resumed from the
// persisted maximum seq and update time on Open.
func WithClock(c *Clock) Option {
	return func(s *Store) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithIDGenerator sets the generator used for auto-assigned document ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	s := &Store{
		db:     db,
		logger: slog.Default(),
		clock:  NewClock(nil),
		ids:    UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = newHub(s)

	if err := s.resumeClock(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Close stops every live subscription and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.hub.stopAll()
	return s.db.Close()
}

// NewID returns a fresh document id from the store's generator.
func (s *Store) NewID() string {
	return s.ids.Generate()
}

func (s *Store) resumeClock() error {
	var maxSeq, maxTime sql.NullInt64
	err := s.db.QueryRow(`SELECT MAX(seq), MAX(update_time) FROM documents`).Scan(&maxSeq, &maxTime)
	if err != nil {
		return fmt.Errorf("resume clock: %w", err)
	}
	var last time.Time
	if maxTime.Valid {
		last = time.UnixMilli(maxTime.Int64)
	}
	s.clock.resume(maxSeq.Int64, last)
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 makes seq unique so clock resumption can trust MAX(seq).
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_seq_unique
		ON documents(seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// withTx runs fn inside a serialised SQLite transaction and notifies
// subscriptions of the touched collections after a successful commit.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx, st stamp) (changeSet, error)) error {
	changed, err := s.commitLocked(ctx, op, fn)
	if err != nil {
		return err
	}
	s.hub.notify(changed)
	return nil
}

func (s *Store) commitLocked(ctx context.Context, op string, fn func(tx *sql.Tx, st stamp) (changeSet, error)) (changeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, unavailable(op, "", err)
	}
	defer tx.Rollback()

	st := stamp{clock: s.clock, now: s.clock.Now()}
	changed, err := fn(tx, st)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, unavailable(op, "", err)
	}
	return changed, nil
}
