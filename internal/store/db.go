package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jacklau/reposcout/internal/metrics"
)

const currentVersion = 1

// DefaultMaxSize is the default cache size budget (500 MB).
const DefaultMaxSize int64 = 500 << 20

// DB is the SQLite-backed cache store. Reads run concurrently; writes are
// serialized by writeMu and each lands in a single transaction, so readers
// only ever observe committed state.
type DB struct {
	db       *sql.DB
	writeMu  sync.Mutex
	now      func() time.Time
	maxSize  int64
	readOnly bool
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// Option configures a DB.
type Option func(*DB)

// WithClock overrides the time source used for freshness and LRU bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(d *DB) { d.now = now }
}

// WithMaxSize sets the payload size budget in bytes. Zero or less disables eviction.
func WithMaxSize(bytes int64) Option {
	return func(d *DB) { d.maxSize = bytes }
}

// WithReadOnly rejects every write with ErrReadOnly and skips access-time
// updates. Used for offline mode.
func WithReadOnly() Option {
	return func(d *DB) { d.readOnly = true }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// WithMetrics counts evictions on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *DB) { d.metrics = m }
}

// Open opens (or creates) a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(path string, opts ...Option) (*DB, error) {
	maxConns := 4
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		maxConns = 1
	}

	sqlDB, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &DB{
		db:      sqlDB,
		now:     time.Now,
		maxSize: DefaultMaxSize,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Conn returns the underlying *sql.DB for advanced use cases.
func (d *DB) Conn() *sql.DB {
	return d.db
}

// ReadOnly reports whether writes are disabled.
func (d *DB) ReadOnly() bool {
	return d.readOnly
}

func (d *DB) migrate() error {
	var version int
	err := d.db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("reading user_version: %w", err)
	}

	if version >= currentVersion {
		return nil
	}

	if version < 1 {
		if err := d.migrateV1(); err != nil {
			return err
		}
	}

	_, err = d.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentVersion))
	if err != nil {
		return fmt.Errorf("setting user_version: %w", err)
	}

	return nil
}

func (d *DB) migrateV1() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			identity_key TEXT NOT NULL UNIQUE,
			platform TEXT NOT NULL,
			owner TEXT NOT NULL,
			name TEXT NOT NULL,
			full_name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			homepage TEXT,
			stars INTEGER NOT NULL DEFAULT 0,
			forks INTEGER NOT NULL DEFAULT 0,
			watchers INTEGER NOT NULL DEFAULT 0,
			open_issues INTEGER NOT NULL DEFAULT 0,
			language TEXT,
			topics TEXT,
			topics_text TEXT NOT NULL DEFAULT '',
			license TEXT,
			created_at TEXT,
			updated_at TEXT,
			pushed_at TEXT,
			size INTEGER NOT NULL DEFAULT 0,
			default_branch TEXT,
			archived INTEGER NOT NULL DEFAULT 0,
			visibility TEXT NOT NULL DEFAULT 'public'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_platform ON repositories(platform)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS repositories_fts USING fts5(
			full_name,
			description,
			topics_text,
			content='repositories',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS repositories_ai AFTER INSERT ON repositories BEGIN
			INSERT INTO repositories_fts(rowid, full_name, description, topics_text)
			VALUES (new.id, new.full_name, new.description, new.topics_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS repositories_ad AFTER DELETE ON repositories BEGIN
			INSERT INTO repositories_fts(repositories_fts, rowid, full_name, description, topics_text)
			VALUES ('delete', old.id, old.full_name, old.description, old.topics_text);
		END`,
		`CREATE TRIGGER IF NOT EXISTS repositories_au AFTER UPDATE ON repositories BEGIN
			INSERT INTO repositories_fts(repositories_fts, rowid, full_name, description, topics_text)
			VALUES ('delete', old.id, old.full_name, old.description, old.topics_text);
			INSERT INTO repositories_fts(rowid, full_name, description, topics_text)
			VALUES (new.id, new.full_name, new.description, new.topics_text);
		END`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			payload BLOB NOT NULL,
			size INTEGER NOT NULL,
			fetched_at INTEGER NOT NULL,
			ttl_ms INTEGER NOT NULL,
			validator TEXT,
			stale INTEGER NOT NULL DEFAULT 0,
			last_access INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_last_access ON cache_entries(last_access)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_kind ON cache_entries(kind)`,
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration statement: %w", err)
		}
	}

	return tx.Commit()
}
