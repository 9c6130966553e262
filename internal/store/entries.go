package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Kind is the type of a cache entry.
type Kind string

const (
	KindRepo   Kind = "repo"
	KindSearch Kind = "search"
	KindReadme Kind = "readme"
)

// RepoKey returns the entry key of a repository entity.
func RepoKey(identityKey string) string { return string(KindRepo) + ":" + identityKey }

// SearchKey returns the entry key of a search fingerprint.
func SearchKey(fingerprint string) string { return string(KindSearch) + ":" + fingerprint }

// ReadmeKey returns the entry key of a repository README.
func ReadmeKey(identityKey string) string { return string(KindReadme) + ":" + identityKey }

// Entry is one cached payload with its freshness metadata. Entries are
// replaced wholesale on write, never edited in place, except for the stale
// flag and access time.
type Entry struct {
	Key        string
	Kind       Kind
	Payload    []byte
	FetchedAt  time.Time
	TTL        time.Duration
	Validator  string
	Stale      bool
	LastAccess time.Time
}

// Fresh reports whether the entry may be served without re-fetching.
func (e *Entry) Fresh(now time.Time) bool {
	return !e.Stale && now.Sub(e.FetchedAt) < e.TTL
}

// ExpiresAt returns when the entry stops being fresh.
func (e *Entry) ExpiresAt() time.Time {
	return e.FetchedAt.Add(e.TTL)
}

const entryColumns = `key, kind, payload, fetched_at, ttl_ms, validator, stale, last_access`

// Get returns the entry for key regardless of freshness, or ErrNotFound.
// Unless the store is read-only, the access time is refreshed for LRU.
func (d *DB) Get(ctx context.Context, key string) (*Entry, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM cache_entries WHERE key = ?`, key)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, asCorruption(key, fmt.Errorf("reading cache entry: %w", err))
	}
	if !d.readOnly {
		if err := d.touch(ctx, key); err != nil {
			d.logger.Debug("updating cache access time", "key", key, "error", err)
		}
	}
	return e, nil
}

// Put inserts or replaces an entry. Key, Kind and Payload are required;
// FetchedAt defaults to now.
func (d *DB) Put(ctx context.Context, e Entry) error {
	return d.write(ctx, func(tx *sql.Tx, now time.Time) error {
		return putEntry(ctx, tx, e, now)
	})
}

// Invalidate marks an entry stale so the next read re-fetches it.
func (d *DB) Invalidate(ctx context.Context, key string) error {
	return d.write(ctx, func(tx *sql.Tx, _ time.Time) error {
		res, err := tx.ExecContext(ctx, `UPDATE cache_entries SET stale = 1 WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("invalidating %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// InvalidateKind marks every entry of kind stale and returns how many were marked.
func (d *DB) InvalidateKind(ctx context.Context, kind Kind) (int, error) {
	var n int64
	err := d.write(ctx, func(tx *sql.Tx, _ time.Time) error {
		res, err := tx.ExecContext(ctx, `UPDATE cache_entries SET stale = 1 WHERE kind = ?`, string(kind))
		if err != nil {
			return fmt.Errorf("invalidating %s entries: %w", kind, err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return int(n), err
}

// Clear deletes every cache entry and repository.
func (d *DB) Clear(ctx context.Context) error {
	return d.write(ctx, func(tx *sql.Tx, _ time.Time) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
			return fmt.Errorf("clearing cache entries: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM repositories`); err != nil {
			return fmt.Errorf("clearing repositories: %w", err)
		}
		return nil
	})
}

// CleanupExpired deletes entries past their TTL (and stale ones), along
// with repositories no longer backed by an entity entry. It returns the
// number of entries removed.
func (d *DB) CleanupExpired(ctx context.Context) (int, error) {
	var removed int64
	err := d.write(ctx, func(tx *sql.Tx, now time.Time) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM cache_entries WHERE stale = 1 OR fetched_at + ttl_ms <= ?`,
			now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("deleting expired entries: %w", err)
		}
		removed, _ = res.RowsAffected()
		return deleteOrphanRepositories(ctx, tx)
	})
	return int(removed), err
}

// write runs fn in a serialized transaction and then enforces the size
// budget.
func (d *DB) write(ctx context.Context, fn func(tx *sql.Tx, now time.Time) error) error {
	if d.readOnly {
		return ErrReadOnly
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := d.now()
	if err := fn(tx, now); err != nil {
		return err
	}
	evicted, err := d.evict(ctx, tx)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return asCorruption("", fmt.Errorf("committing transaction: %w", err))
	}
	if evicted > 0 {
		d.logger.Info("evicted cache entries to honor size budget", "count", evicted, "max_bytes", d.maxSize)
		if d.metrics != nil {
			d.metrics.CacheEvictions.Add(float64(evicted))
		}
	}
	return nil
}

func (d *DB) touch(ctx context.Context, key string) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_, err := d.db.ExecContext(ctx, `UPDATE cache_entries SET last_access = ? WHERE key = ?`, d.now().UnixMilli(), key)
	return err
}

// evict removes least-recently-used entries until the payload total fits
// the budget. Entries are removed whole.
func (d *DB) evict(ctx context.Context, tx *sql.Tx) (int, error) {
	if d.maxSize <= 0 {
		return 0, nil
	}
	var total int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(SUM(size), 0) FROM cache_entries`).Scan(&total); err != nil {
		return 0, fmt.Errorf("summing cache size: %w", err)
	}
	if total <= d.maxSize {
		return 0, nil
	}

	rows, err := tx.QueryContext(ctx, `SELECT key, size FROM cache_entries ORDER BY last_access ASC, key ASC`)
	if err != nil {
		return 0, fmt.Errorf("listing eviction candidates: %w", err)
	}
	var victims []string
	for rows.Next() && total > d.maxSize {
		var key string
		var size int64
		if err := rows.Scan(&key, &size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scanning eviction candidate: %w", err)
		}
		victims = append(victims, key)
		total -= size
	}
	if err := rows.Close(); err != nil {
		return 0, err
	}

	for _, key := range victims {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return 0, fmt.Errorf("evicting %s: %w", key, err)
		}
	}
	if err := deleteOrphanRepositories(ctx, tx); err != nil {
		return 0, err
	}
	return len(victims), nil
}

func putEntry(ctx context.Context, tx *sql.Tx, e Entry, now time.Time) error {
	if e.Key == "" || e.Kind == "" {
		return fmt.Errorf("cache entry requires key and kind")
	}
	fetched := e.FetchedAt
	if fetched.IsZero() {
		fetched = now
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO cache_entries (`+entryColumns+`, size)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			fetched_at = excluded.fetched_at,
			ttl_ms = excluded.ttl_ms,
			validator = excluded.validator,
			stale = 0,
			last_access = excluded.last_access,
			size = excluded.size`,
		e.Key, string(e.Kind), e.Payload, fetched.UnixMilli(), e.TTL.Milliseconds(),
		nullStr(e.Validator), now.UnixMilli(), len(e.Payload),
	)
	if err != nil {
		return fmt.Errorf("writing cache entry %s: %w", e.Key, err)
	}
	return nil
}

func deleteOrphanRepositories(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM repositories
		WHERE NOT EXISTS (SELECT 1 FROM cache_entries c WHERE c.key = 'repo:' || repositories.identity_key)`,
	)
	if err != nil {
		return fmt.Errorf("deleting orphaned repositories: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var kind string
	var fetched, ttl, lastAccess int64
	var validator sql.NullString
	var stale int

	if err := row.Scan(&e.Key, &kind, &e.Payload, &fetched, &ttl, &validator, &stale, &lastAccess); err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	e.FetchedAt = time.UnixMilli(fetched).UTC()
	e.TTL = time.Duration(ttl) * time.Millisecond
	e.Validator = validator.String
	e.Stale = stale != 0
	e.LastAccess = time.UnixMilli(lastAccess).UTC()
	return &e, nil
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
