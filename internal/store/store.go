package store

import (
	"context"
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

// Cache defines the storage operations used by the search coordinator.
// It is satisfied by *DB and can be replaced with a fake for testing.
type Cache interface {
	// Get returns the entry for key regardless of freshness, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Put inserts or replaces an entry.
	Put(ctx context.Context, e Entry) error

	// PutRepository writes a repository entity and its index entry.
	PutRepository(ctx context.Context, repo model.Repository, ttl time.Duration, validator string) error

	// PutSearch writes a search result and the repositories it contains.
	PutSearch(ctx context.Context, key string, payload []byte, ttl time.Duration, repos []model.Repository) error

	// GetRepository returns a cached repository by identity.
	GetRepository(ctx context.Context, p model.Platform, owner, name string) (*model.Repository, *Entry, error)

	// ListRepositories returns every cached repository.
	ListRepositories(ctx context.Context) ([]model.Repository, error)

	// Invalidate marks an entry stale.
	Invalidate(ctx context.Context, key string) error

	// SearchOffline runs a keyword search over cached repositories.
	SearchOffline(ctx context.Context, text string, limit int) ([]model.Repository, error)

	// RebuildIndex regenerates the full-text index.
	RebuildIndex(ctx context.Context) error

	// ReadOnly reports whether writes are disabled.
	ReadOnly() bool
}

// Compile-time check that *DB satisfies the Cache interface.
var _ Cache = (*DB)(nil)
