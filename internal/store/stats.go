package store

import (
	"context"
	"fmt"
	"time"
)

// Stats holds aggregate cache statistics.
type Stats struct {
	Entries      int
	Fresh        int
	Expired      int
	Stale        int
	Repositories int
	SizeBytes    int64
	MaxSizeBytes int64
	ByKind       map[Kind]int
	OldestFetch  time.Time
	NewestFetch  time.Time
}

// Stats returns aggregate statistics at the store's current time.
func (d *DB) Stats(ctx context.Context) (*Stats, error) {
	now := d.now().UnixMilli()
	stats := &Stats{
		MaxSizeBytes: d.maxSize,
		ByKind:       make(map[Kind]int),
	}

	var oldest, newest int64
	err := d.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN stale = 0 AND fetched_at + ttl_ms > ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN stale = 0 AND fetched_at + ttl_ms <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(stale), 0),
			COALESCE(SUM(size), 0),
			COALESCE(MIN(fetched_at), 0),
			COALESCE(MAX(fetched_at), 0)
		FROM cache_entries`,
		now, now,
	).Scan(&stats.Entries, &stats.Fresh, &stats.Expired, &stats.Stale, &stats.SizeBytes, &oldest, &newest)
	if err != nil {
		return nil, asCorruption("", fmt.Errorf("counting cache entries: %w", err))
	}
	if stats.Entries > 0 {
		stats.OldestFetch = time.UnixMilli(oldest).UTC()
		stats.NewestFetch = time.UnixMilli(newest).UTC()
	}

	rows, err := d.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM cache_entries GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting entries by kind: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning kind count: %w", err)
		}
		stats.ByKind[Kind(kind)] = n
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}

	err = d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories`).Scan(&stats.Repositories)
	if err != nil {
		return nil, fmt.Errorf("counting repositories: %w", err)
	}

	return stats, nil
}
