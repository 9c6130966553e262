package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/store"
)

// RefreshReport summarizes a RefreshAll run.
type RefreshReport struct {
	Total     int
	Updated   int
	Unchanged int
	Missing   int
	Failed    int
	Skipped   int
}

// ErrOffline is returned by operations that need the network.
var ErrOffline = errors.New("offline mode")

// RefreshAll re-fetches every cached repository through the governed
// clients, at most Workers at a time. Repositories that no longer exist are
// marked stale rather than deleted. progress, if non-nil, is called after
// each repository.
func (c *Coordinator) RefreshAll(ctx context.Context, progress func(done, total int)) (*RefreshReport, error) {
	if c.cfg.Offline {
		return nil, fmt.Errorf("refreshing cache: %w", ErrOffline)
	}
	if c.cache.ReadOnly() {
		return nil, fmt.Errorf("refreshing cache: %w", store.ErrReadOnly)
	}

	repos, err := c.cache.ListRepositories(ctx)
	if errors.Is(err, store.ErrCacheCorruption) {
		c.handleCacheError(ctx, err)
	}
	if err != nil {
		return nil, fmt.Errorf("listing cached repositories: %w", err)
	}

	var updated, unchanged, missing, failed, skipped, done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Workers)

	for i := range repos {
		repo := repos[i]
		g.Go(func() error {
			defer func() {
				n := done.Add(1)
				if progress != nil {
					progress(int(n), len(repos))
				}
			}()

			client, ok := c.clients[repo.Platform]
			if !ok {
				skipped.Add(1)
				return nil
			}
			switch err := c.refreshOne(gctx, client, repo); {
			case err == nil:
				updated.Add(1)
			case errors.Is(err, platform.ErrNotModified):
				unchanged.Add(1)
			case platform.KindOf(err) == platform.KindNotFound:
				missing.Add(1)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				c.logger.Warn("refreshing repository", "repo", repo.Key(), "error", err)
			}
			return nil
		})
	}
	err = g.Wait()

	report := &RefreshReport{
		Total:     len(repos),
		Updated:   int(updated.Load()),
		Unchanged: int(unchanged.Load()),
		Missing:   int(missing.Load()),
		Failed:    int(failed.Load()),
		Skipped:   int(skipped.Load()),
	}
	if err != nil {
		return report, fmt.Errorf("refreshing cache: %w", err)
	}
	return report, nil
}

// refreshOne re-fetches one repository. A 304 still rewrites the entry so
// its fetch time moves forward; a vanished repository is marked stale.
func (c *Coordinator) refreshOne(ctx context.Context, client platform.Client, repo model.Repository) error {
	validator := ""
	cached, entry := c.lookupRepository(ctx, repo.Platform, repo.Owner, repo.Name)
	if entry != nil {
		validator = entry.Validator
	}

	fresh, newValidator, err := c.fetchDetails(ctx, client, repo.Owner, repo.Name, validator)
	switch {
	case err == nil:
		return c.cache.PutRepository(ctx, *fresh, c.cfg.TTL, newValidator)
	case errors.Is(err, platform.ErrNotModified) && cached != nil:
		if werr := c.cache.PutRepository(ctx, *cached, c.cfg.TTL, validator); werr != nil {
			return werr
		}
		return err
	case platform.KindOf(err) == platform.KindNotFound:
		if ierr := c.cache.Invalidate(ctx, store.RepoKey(repo.Key())); ierr != nil && !errors.Is(ierr, store.ErrNotFound) {
			c.logger.Warn("marking repository stale", "repo", repo.Key(), "error", ierr)
		}
		return err
	}
	return err
}
