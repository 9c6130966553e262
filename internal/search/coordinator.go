// Package search coordinates multi-platform searches: fan-out through the
// governed platform clients, deduplication, ranking, pagination, and the
// cache-first and offline fallbacks.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jacklau/reposcout/internal/metrics"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/store"
)

// ErrNoResults is returned when every platform failed and the cache holds
// nothing usable for the query.
var ErrNoResults = errors.New("no results available")

// Config tunes the coordinator.
type Config struct {
	// Deadline bounds one whole fan-out.
	Deadline time.Duration
	PerPage  int
	// Workers bounds concurrent platform calls across all searches.
	Workers  int
	TTL      time.Duration
	Priority []model.Platform
	Weights  Weights
	// FreshnessHalfLife is the push age at which freshness scores 0.5.
	FreshnessHalfLife time.Duration
	// MaxPages bounds how many pages one platform is asked for per search.
	MaxPages int
	// Offline serves every read from the cache without network calls.
	Offline bool
}

// DefaultConfig returns the defaults used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		Deadline:          15 * time.Second,
		PerPage:           30,
		Workers:           4,
		TTL:               24 * time.Hour,
		Priority:          model.AllPlatforms,
		Weights:           DefaultWeights(),
		FreshnessHalfLife: 90 * 24 * time.Hour,
		MaxPages:          5,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Deadline <= 0 {
		c.Deadline = d.Deadline
	}
	if c.PerPage <= 0 {
		c.PerPage = d.PerPage
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if len(c.Priority) == 0 {
		c.Priority = d.Priority
	}
	if c.Weights == (Weights{}) {
		c.Weights = d.Weights
	}
	if c.FreshnessHalfLife <= 0 {
		c.FreshnessHalfLife = d.FreshnessHalfLife
	}
	if c.MaxPages <= 0 {
		c.MaxPages = d.MaxPages
	}
	return c
}

// Reranker scores how similar each repository is to the query text, in
// [0,1], indexed like repos.
type Reranker interface {
	Similarity(ctx context.Context, query string, repos []model.Repository) ([]float64, error)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithMetrics records lookups and search outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the time source used for freshness decisions.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithReranker adds semantic similarity to relevance ranking.
func WithReranker(r Reranker) Option {
	return func(c *Coordinator) { c.reranker = r }
}

// Coordinator runs searches and single-entity lookups across platforms.
// It is safe for concurrent use.
type Coordinator struct {
	clients  map[model.Platform]platform.Client
	cache    store.Cache
	cfg      Config
	sem      *semaphore.Weighted
	reranker Reranker

	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a coordinator over clients, which are normally governors.
// Each platform may appear once.
func New(cache store.Cache, clients []platform.Client, cfg Config, opts ...Option) (*Coordinator, error) {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		clients: make(map[model.Platform]platform.Client, len(clients)),
		cache:   cache,
		cfg:     cfg,
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, cl := range clients {
		p := cl.Platform()
		if _, dup := c.clients[p]; dup {
			return nil, fmt.Errorf("platform %s registered twice", p)
		}
		c.clients[p] = cl
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Offline reports whether the coordinator serves only from cache.
func (c *Coordinator) Offline() bool { return c.cfg.Offline }

// cachedPage is the payload stored under a search fingerprint.
type cachedPage struct {
	Repositories []model.Repository `json:"repositories"`
	Total        int                `json:"total"`
}

// Search answers q from cache when fresh, otherwise from the platforms. It
// always resolves by the configured deadline: with live data (possibly
// partial), with a stale cached copy, or with ErrNoResults.
func (c *Coordinator) Search(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.SearchDuration.Observe(time.Since(start).Seconds())
		}
	}()

	q, err := q.normalize(c.cfg, c.clients)
	if err != nil {
		return nil, err
	}
	key := store.SearchKey(q.Fingerprint())
	logger := c.logger.With("query", q.Text, "page", q.Page)

	cached, entry := c.lookupSearch(ctx, key)
	now := c.now()

	if c.cfg.Offline {
		if cached != nil {
			c.lookup("search", "offline")
			return c.fromCache(q, cached, entry, true), nil
		}
		c.lookup("search", "offline_index")
		return c.fromIndex(ctx, q, nil)
	}

	if cached != nil && entry.Fresh(now) {
		c.lookup("search", "hit")
		logger.Debug("search served from cache")
		return c.fromCache(q, cached, entry, false), nil
	}
	c.lookup("search", "miss")

	outcomes := c.fanOut(ctx, q)
	meta := Meta{FetchedAt: now, Latency: make(map[model.Platform]time.Duration)}
	var merged []model.Repository
	var errs []error
	succeeded := 0
	for _, o := range outcomes {
		meta.Latency[o.platform] = o.latency
		merged = append(merged, o.repos...)
		if o.err != nil {
			if meta.FailedPlatforms == nil {
				meta.FailedPlatforms = make(map[model.Platform]platform.Kind)
			}
			meta.FailedPlatforms[o.platform] = platform.KindOf(o.err)
			errs = append(errs, o.err)
			logger.Warn("platform search failed", "platform", string(o.platform), "kind", platform.KindOf(o.err).String(), "error", o.err)
			continue
		}
		succeeded++
	}

	if succeeded == 0 && len(merged) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if cached != nil {
			c.lookup("search", "stale")
			logger.Info("all platforms failed, serving stale cache")
			res := c.fromCache(q, cached, entry, true)
			res.Meta.Offline = false
			res.Meta.FailedPlatforms = meta.FailedPlatforms
			res.Meta.Latency = meta.Latency
			return res, nil
		}
		logger.Info("all platforms failed, searching offline index")
		res, err := c.fromIndex(ctx, q, meta.FailedPlatforms)
		if err != nil {
			return nil, err
		}
		if len(res.Repositories) == 0 {
			return nil, fmt.Errorf("%w: %w", ErrNoResults, errors.Join(errs...))
		}
		res.Meta.Offline = false
		res.Meta.Latency = meta.Latency
		return res, nil
	}

	meta.Partial = len(errs) > 0
	ranked := c.rankMerged(ctx, q, dedup(merged, c.cfg.Priority))
	res := &Result{
		Repositories: paginate(ranked, q.Page, q.PerPage),
		Total:        len(ranked),
		Page:         q.Page,
		PerPage:      q.PerPage,
		Meta:         meta,
	}

	if !meta.Partial && !c.cache.ReadOnly() {
		c.storeSearch(ctx, key, res, ranked)
	}
	return res, nil
}

func (c *Coordinator) rankMerged(ctx context.Context, q Query, repos []model.Repository) []model.Repository {
	rk := ranker{
		weights:  c.cfg.Weights,
		prio:     c.cfg.Priority,
		halfLife: c.cfg.FreshnessHalfLife,
		now:      c.now(),
	}
	var similarity []float64
	if c.reranker != nil && q.Sort == model.SortRelevance && q.Text != "" && c.cfg.Weights.Semantic > 0 && len(repos) > 0 {
		s, err := c.reranker.Similarity(ctx, q.Text, repos)
		switch {
		case err != nil:
			c.logger.Warn("semantic rerank failed, ranking without it", "error", err)
		case len(s) != len(repos):
			c.logger.Warn("semantic rerank returned wrong number of scores", "want", len(repos), "got", len(s))
		default:
			similarity = s
		}
	}
	return rk.rank(repos, q.Text, q.Sort, similarity)
}

// lookupSearch reads and decodes a cached search. Corrupt entries trigger
// an index rebuild and read as a miss.
func (c *Coordinator) lookupSearch(ctx context.Context, key string) (*cachedPage, *store.Entry) {
	entry, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			c.handleCacheError(ctx, err)
		}
		return nil, nil
	}
	var page cachedPage
	if err := json.Unmarshal(entry.Payload, &page); err != nil {
		c.handleCacheError(ctx, &store.CorruptionError{Key: key, Err: err})
		return nil, nil
	}
	return &page, entry
}

func (c *Coordinator) storeSearch(ctx context.Context, key string, res *Result, all []model.Repository) {
	payload, err := json.Marshal(cachedPage{Repositories: res.Repositories, Total: res.Total})
	if err != nil {
		c.logger.Error("encoding search result", "error", err)
		return
	}
	if err := c.cache.PutSearch(ctx, key, payload, c.cfg.TTL, all); err != nil {
		c.logger.Warn("caching search result", "error", err)
	}
}

func (c *Coordinator) fromCache(q Query, page *cachedPage, entry *store.Entry, stale bool) *Result {
	return &Result{
		Repositories: page.Repositories,
		Total:        page.Total,
		Page:         q.Page,
		PerPage:      q.PerPage,
		Meta: Meta{
			CacheHit:  true,
			Stale:     stale,
			Offline:   c.cfg.Offline,
			FetchedAt: entry.FetchedAt,
		},
	}
}

// offlineLimit bounds how many index matches an offline search ranks.
const offlineLimit = 500

// fromIndex answers q from the full-text index over cached repositories,
// or from every cached repository when there is no search text. Results are
// always marked stale.
func (c *Coordinator) fromIndex(ctx context.Context, q Query, failed map[model.Platform]platform.Kind) (*Result, error) {
	read := func() ([]model.Repository, error) {
		if q.Text == "" {
			return c.cache.ListRepositories(ctx)
		}
		return c.cache.SearchOffline(ctx, q.Text, offlineLimit)
	}
	repos, err := read()
	if errors.Is(err, store.ErrCacheCorruption) {
		c.handleCacheError(ctx, err)
		repos, err = read()
	}
	if err != nil {
		return nil, fmt.Errorf("searching offline index: %w", err)
	}

	var kept []model.Repository
	for i := range repos {
		if slices.Contains(q.Platforms, repos[i].Platform) && q.Filter.Match(&repos[i]) {
			kept = append(kept, repos[i])
		}
	}
	ranked := c.rankMerged(ctx, q, dedup(kept, c.cfg.Priority))
	return &Result{
		Repositories: paginate(ranked, q.Page, q.PerPage),
		Total:        len(ranked),
		Page:         q.Page,
		PerPage:      q.PerPage,
		Meta: Meta{
			CacheHit:        true,
			Stale:           true,
			Offline:         c.cfg.Offline,
			FailedPlatforms: failed,
			FetchedAt:       c.now(),
		},
	}, nil
}

// handleCacheError logs a cache failure and, for corruption, rebuilds the
// full-text index. Nothing is deleted.
func (c *Coordinator) handleCacheError(ctx context.Context, err error) {
	if !errors.Is(err, store.ErrCacheCorruption) {
		c.logger.Warn("cache read failed", "error", err)
		return
	}
	c.lookup("search", "corrupt")
	c.logger.Error("cache corruption detected, rebuilding index", "error", err)
	if rerr := c.cache.RebuildIndex(ctx); rerr != nil {
		c.logger.Error("rebuilding cache index", "error", rerr)
	}
}

func (c *Coordinator) lookup(kind, result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(kind, result).Inc()
	}
}
