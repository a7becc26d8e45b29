package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/offshore-budgeting/syncore/internal/model"
	"github.com/offshore-budgeting/syncore/internal/query"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added template/budget lookup index on planned_expenses
const currentSchemaVersion = 1

// remoteBuffer bounds undelivered remote change sets.
const remoteBuffer = 64

// ErrClosed is returned by operations on a detached store.
var ErrClosed = errors.New("store is closed")

// Options configure how a store is attached.
type Options struct {
	// Path is the SQLite file. ":memory:" is accepted for tests.
	Path string

	// RemoteChangeNotifications enables delivery of remotely imported
	// change sets on RemoteChanges.
	RemoteChangeNotifications bool

	// RemoteContainer names the remote mirror this store is paired with.
	// Empty in local-only mode.
	RemoteContainer string

	Logger *slog.Logger
}

// Mirrored reports whether the options describe a remote-mirrored store.
func (o Options) Mirrored() bool {
	return o.RemoteChangeNotifications && o.RemoteContainer != ""
}

// Store is an attached SQLite database holding every record kind.
type Store struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	remote chan ChangeSet
}

// Open creates or opens the database described by opts.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times on one path.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open store: empty path")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
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

	s := &Store{db: db, opts: opts, logger: logger}
	if opts.RemoteChangeNotifications {
		s.remote = make(chan ChangeSet, remoteBuffer)
	}
	return s, nil
}

// Close detaches the store. Pending remote notifications are dropped and the
// RemoteChanges channel is closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.remote != nil {
		close(s.remote)
	}
	return s.db.Close()
}

// Options returns the options the store was attached with.
func (s *Store) Options() Options {
	return s.opts
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer sessions when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// NewSession starts an empty unit of work with the given merge policy.
func (s *Store) NewSession(policy MergePolicy) *Session {
	return newSession(s, policy)
}

// Count returns the number of stored rows of kind matching p.
// Unsaved session changes are not visible.
func (s *Store) Count(ctx context.Context, kind model.Kind, p query.Predicate) (int, error) {
	where, params, err := query.Where(p)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	var n int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", kind.Table(), where)
	if err := s.db.QueryRowContext(ctx, q, params...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", kind, err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
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

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
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

// migrateToV1 adds the (template, budget) index used by child lookups.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_planned_template_budget
		ON planned_expenses(global_template_id, budget_id)
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
	q := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(q).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
