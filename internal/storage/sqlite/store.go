// Package sqlite is the relational half of the store: a modernc.org/sqlite
// database holding every entity row, opened in WAL mode with migrations
// applied in strictly increasing numeric order.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/agentmail/internal/core"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// handle is satisfied by *sql.DB, *sql.Tx and the query logger, so every
// entity query runs unchanged inside or outside a unit-of-work.
type handle interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db    *sql.DB
	cb    *CircuitBreaker
	retry RetryConfig
	log   *slog.Logger
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

func WithBreaker(cb *CircuitBreaker) Option {
	return func(s *Store) { s.cb = cb }
}

func WithRetryConfig(cfg RetryConfig) Option {
	return func(s *Store) { s.retry = cfg }
}

func New(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return open("file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", opts...)
}

func NewInMemory(opts ...Option) (*Store, error) {
	return open("file::memory:?_pragma=foreign_keys(1)", opts...)
}

func open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// modernc sqlite serializes writers; a single connection keeps the
	// in-memory database coherent as well.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:    db,
		cb:    NewCircuitBreaker(5, 30*time.Second),
		retry: DefaultRetryConfig(),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CircuitBreakerState exposes the breaker state for health reporting.
func (s *Store) CircuitBreakerState() string { return s.cb.State().String() }

// migrate applies pending migrations in ascending numeric order, each in
// its own transaction. Already-applied versions are skipped, so a crashed
// run resumes cleanly.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY, applied_ts TEXT NOT NULL)`); err != nil {
		return core.Wrap(core.KindMigrationError, err, "create migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return core.Wrap(core.KindMigrationError, err, "read migrations")
	}
	type migration struct {
		version int
		name    string
	}
	var pending []migration
	for _, e := range entries {
		name := e.Name()
		numPart, _, ok := strings.Cut(name, "_")
		if !ok {
			return core.Errf(core.KindMigrationError, "bad migration filename %q", name)
		}
		version, err := strconv.Atoi(numPart)
		if err != nil {
			return core.Errf(core.KindMigrationError, "bad migration filename %q", name)
		}
		pending = append(pending, migration{version: version, name: name})
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].version < pending[j].version })

	for _, m := range pending {
		var applied int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, m.version).Scan(&applied)
		if err != nil {
			return core.Wrap(core.KindMigrationError, err, "check migration %d", m.version)
		}
		if applied > 0 {
			continue
		}
		body, err := migrationFS.ReadFile("migrations/" + m.name)
		if err != nil {
			return core.Wrap(core.KindMigrationError, err, "read migration %s", m.name)
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return core.Wrap(core.KindMigrationError, err, "begin migration %d", m.version)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return core.Wrap(core.KindMigrationError, err, "apply migration %d", m.version)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, applied_ts) VALUES (?, ?)`,
			m.version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return core.Wrap(core.KindMigrationError, err, "record migration %d", m.version)
		}
		if err := tx.Commit(); err != nil {
			return core.Wrap(core.KindMigrationError, err, "commit migration %d", m.version)
		}
		s.log.Info("applied migration", "version", m.version)
	}
	return nil
}

// Q runs entity queries against either the database or a transaction.
type Q struct {
	h   handle
	log *slog.Logger
}

// Reader returns a Q over committed state, outside any unit-of-work.
func (s *Store) Reader() *Q {
	return &Q{h: &queryLogger{inner: s.db, log: s.log}, log: s.log}
}

// Tx is one unit-of-work. Writes are isolated until commit.
type Tx struct {
	Q
	tx *sql.Tx
}

// WithTx runs fn in a unit-of-work. The transaction commits iff fn
// returns nil; serialization-class failures (locked database) are retried
// with bounded backoff, everything else surfaces immediately. The circuit
// breaker rejects work outright after repeated store failures.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	return s.cb.Execute(func() error {
		return s.retry.Do(func() error {
			return s.runTx(ctx, fn)
		})
	})
}

func (s *Store) runTx(ctx context.Context, fn func(tx *Tx) error) error {
	raw, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Wrap(core.KindPersistenceError, err, "begin")
	}
	tx := &Tx{Q: Q{h: &queryLogger{inner: raw, log: s.log}, log: s.log}, tx: raw}
	if err := fn(tx); err != nil {
		if rbErr := raw.Rollback(); rbErr != nil && !isTxDone(rbErr) {
			s.log.Error("rollback failed", "err", rbErr)
		}
		return err
	}
	if err := raw.Commit(); err != nil {
		return core.Wrap(core.KindPersistenceError, err, "commit")
	}
	return nil
}

func isTxDone(err error) bool {
	return err == sql.ErrTxDone
}

// nowUTC is the single clock read and fmtTime the single timestamp
// formatter; every row stores UTC RFC3339Nano.
func nowUTC() time.Time { return time.Now().UTC() }

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
