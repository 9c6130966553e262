package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/store"
)

// Ref names one repository. An empty Platform means "try each configured
// platform in priority order".
type Ref struct {
	Platform model.Platform
	Owner    string
	Name     string
}

// ParseRef parses "owner/name" or "platform:owner/name".
func ParseRef(s string) (Ref, error) {
	var ref Ref
	if prefix, rest, ok := cutPlatform(s); ok {
		p, err := model.ParsePlatform(prefix)
		if err != nil {
			return ref, err
		}
		ref.Platform = p
		s = rest
	}
	owner, name, err := model.ParseFullName(s)
	if err != nil {
		return ref, err
	}
	ref.Owner, ref.Name = owner, name
	return ref, nil
}

func cutPlatform(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case ':':
			return s[:i], s[i+1:], true
		case '/':
			return "", "", false
		}
	}
	return "", "", false
}

func (r Ref) String() string {
	if r.Platform == "" {
		return r.Owner + "/" + r.Name
	}
	return string(r.Platform) + ":" + r.Owner + "/" + r.Name
}

// Entity is a single-repository answer.
type Entity struct {
	Repository *model.Repository
	Meta       Meta
}

func (c *Coordinator) candidates(ref Ref) ([]model.Platform, error) {
	if ref.Platform != "" {
		if _, ok := c.clients[ref.Platform]; !ok && !c.cfg.Offline {
			return nil, fmt.Errorf("platform %s is not configured", ref.Platform)
		}
		return []model.Platform{ref.Platform}, nil
	}
	var out []model.Platform
	for _, p := range c.cfg.Priority {
		if _, ok := c.clients[p]; ok || c.cfg.Offline {
			out = append(out, p)
		}
	}
	return out, nil
}

// Show returns repository details. Every candidate platform's cache is
// consulted before any network call, and a fresh copy is served directly.
// Otherwise platforms are asked in priority order: a stale copy with a
// validator is revalidated with a conditional request, and a 304 answer
// rewrites the cached entry with a new fetch time. When no platform can be
// reached, the highest-priority stale copy is returned instead of the error.
// Auth and other fatal errors propagate.
func (c *Coordinator) Show(ctx context.Context, ref Ref) (*Entity, error) {
	platforms, err := c.candidates(ref)
	if err != nil {
		return nil, err
	}

	type cachedRepo struct {
		repo  *model.Repository
		entry *store.Entry
	}
	cached := make(map[model.Platform]cachedRepo, len(platforms))
	now := c.now()
	for _, p := range platforms {
		repo, entry := c.lookupRepository(ctx, p, ref.Owner, ref.Name)
		if repo == nil {
			continue
		}
		if c.cfg.Offline || entry.Fresh(now) {
			c.lookup("repo", "hit")
			return &Entity{Repository: repo, Meta: Meta{
				CacheHit:  true,
				Stale:     c.cfg.Offline || !entry.Fresh(now),
				Offline:   c.cfg.Offline,
				FetchedAt: entry.FetchedAt,
			}}, nil
		}
		cached[p] = cachedRepo{repo: repo, entry: entry}
	}
	if c.cfg.Offline {
		return nil, fmt.Errorf("repository %s is not cached: %w", ref, store.ErrNotFound)
	}
	c.lookup("repo", "miss")

	var notFound, unavailable error
	failed := make(map[model.Platform]platform.Kind)
	for _, p := range platforms {
		hit, haveCached := cached[p]
		validator := ""
		if haveCached {
			validator = hit.entry.Validator
		}

		start := time.Now()
		repo, newValidator, err := c.fetchDetails(ctx, c.clients[p], ref.Owner, ref.Name, validator)
		meta := Meta{FetchedAt: now, Latency: map[model.Platform]time.Duration{p: time.Since(start)}}
		switch {
		case err == nil:
			if !c.cache.ReadOnly() {
				if werr := c.cache.PutRepository(ctx, *repo, c.cfg.TTL, newValidator); werr != nil {
					c.logger.Warn("caching repository", "repo", repo.Key(), "error", werr)
				}
			}
			if len(failed) > 0 {
				meta.FailedPlatforms = failed
			}
			return &Entity{Repository: repo, Meta: meta}, nil

		case errors.Is(err, platform.ErrNotModified) && haveCached:
			c.lookup("repo", "revalidated")
			if !c.cache.ReadOnly() {
				if werr := c.cache.PutRepository(ctx, *hit.repo, c.cfg.TTL, validator); werr != nil {
					c.logger.Warn("refreshing cached repository", "repo", hit.repo.Key(), "error", werr)
				}
			}
			meta.CacheHit = true
			return &Entity{Repository: hit.repo, Meta: meta}, nil

		case platform.KindOf(err) == platform.KindNotFound:
			notFound = err
			delete(cached, p)

		case isUnavailable(err):
			c.logger.Info("platform unavailable", "platform", string(p), "error", err)
			failed[p] = platform.KindOf(err)
			if unavailable == nil {
				unavailable = err
			}

		default:
			return nil, fmt.Errorf("fetching %s: %w", ref, err)
		}
	}

	if unavailable != nil {
		for _, p := range platforms {
			hit, ok := cached[p]
			if !ok {
				continue
			}
			c.lookup("repo", "stale")
			c.logger.Info("serving stale repository", "platform", string(p), "repo", hit.repo.Key())
			return &Entity{Repository: hit.repo, Meta: Meta{
				CacheHit:        true,
				Stale:           true,
				FetchedAt:       hit.entry.FetchedAt,
				FailedPlatforms: failed,
			}}, nil
		}
		return nil, fmt.Errorf("fetching %s: %w", ref, unavailable)
	}
	if notFound != nil {
		return nil, fmt.Errorf("repository %s: %w", ref, notFound)
	}
	return nil, fmt.Errorf("repository %s is not cached: %w", ref, store.ErrNotFound)
}

// Readme returns the README text, cached under the readme key with the same
// TTL policy as repositories and the same lookup order as Show.
func (c *Coordinator) Readme(ctx context.Context, ref Ref) (string, Meta, error) {
	platforms, err := c.candidates(ref)
	if err != nil {
		return "", Meta{}, err
	}

	cached := make(map[model.Platform]*store.Entry, len(platforms))
	now := c.now()
	for _, p := range platforms {
		key := store.ReadmeKey(model.IdentityKey(p, ref.Owner, ref.Name))
		entry, err := c.cache.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				c.handleCacheError(ctx, err)
			}
			continue
		}
		if c.cfg.Offline || entry.Fresh(now) {
			c.lookup("readme", "hit")
			return string(entry.Payload), Meta{
				CacheHit:  true,
				Stale:     c.cfg.Offline || !entry.Fresh(now),
				Offline:   c.cfg.Offline,
				FetchedAt: entry.FetchedAt,
			}, nil
		}
		cached[p] = entry
	}
	if c.cfg.Offline {
		return "", Meta{}, fmt.Errorf("readme for %s is not cached: %w", ref, store.ErrNotFound)
	}
	c.lookup("readme", "miss")

	var notFound, unavailable error
	failed := make(map[model.Platform]platform.Kind)
	for _, p := range platforms {
		text, err := c.fetchReadme(ctx, c.clients[p], ref.Owner, ref.Name)
		switch {
		case err == nil:
			key := store.ReadmeKey(model.IdentityKey(p, ref.Owner, ref.Name))
			if !c.cache.ReadOnly() {
				if werr := c.cache.Put(ctx, store.Entry{Key: key, Kind: store.KindReadme, Payload: []byte(text), TTL: c.cfg.TTL}); werr != nil {
					c.logger.Warn("caching readme", "key", key, "error", werr)
				}
			}
			meta := Meta{FetchedAt: now}
			if len(failed) > 0 {
				meta.FailedPlatforms = failed
			}
			return text, meta, nil

		case platform.KindOf(err) == platform.KindNotFound:
			notFound = err
			delete(cached, p)

		case isUnavailable(err):
			failed[p] = platform.KindOf(err)
			if unavailable == nil {
				unavailable = err
			}

		default:
			return "", Meta{}, fmt.Errorf("fetching readme for %s: %w", ref, err)
		}
	}

	if unavailable != nil {
		for _, p := range platforms {
			entry, ok := cached[p]
			if !ok {
				continue
			}
			c.lookup("readme", "stale")
			return string(entry.Payload), Meta{
				CacheHit:        true,
				Stale:           true,
				FetchedAt:       entry.FetchedAt,
				FailedPlatforms: failed,
			}, nil
		}
		return "", Meta{}, fmt.Errorf("fetching readme for %s: %w", ref, unavailable)
	}
	if notFound != nil {
		return "", Meta{}, fmt.Errorf("readme for %s: %w", ref, notFound)
	}
	return "", Meta{}, fmt.Errorf("readme for %s is not cached: %w", ref, store.ErrNotFound)
}

// fetchDetails bounds one details call by the configured deadline, so a
// governor waiting out an exhausted quota gives up instead of sleeping
// until the reset.
func (c *Coordinator) fetchDetails(ctx context.Context, client platform.Client, owner, name, validator string) (*model.Repository, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()
	return getDetails(ctx, client, owner, name, validator)
}

func (c *Coordinator) fetchReadme(ctx context.Context, client platform.Client, owner, name string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()
	return client.FetchReadme(ctx, owner, name)
}

// lookupRepository reads a cached repository, treating corruption as a miss
// after triggering an index rebuild.
func (c *Coordinator) lookupRepository(ctx context.Context, p model.Platform, owner, name string) (*model.Repository, *store.Entry) {
	repo, entry, err := c.cache.GetRepository(ctx, p, owner, name)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.handleCacheError(ctx, err)
		}
		return nil, nil
	}
	return repo, entry
}

// isUnavailable reports failures that say nothing about the repository
// itself, where a stale copy is a better answer than an error.
func isUnavailable(err error) bool {
	switch platform.KindOf(err) {
	case platform.KindTransient, platform.KindRateLimit, platform.KindCircuitOpen:
		return true
	}
	return false
}

func getDetails(ctx context.Context, client platform.Client, owner, name, validator string) (*model.Repository, string, error) {
	if cc, ok := client.(platform.ConditionalClient); ok {
		return cc.GetDetailsConditional(ctx, owner, name, validator)
	}
	repo, err := client.GetDetails(ctx, owner, name)
	return repo, "", err
}
