package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacklau/reposcout/internal/config"
	"github.com/jacklau/reposcout/internal/governor"
	"github.com/jacklau/reposcout/internal/metrics"
	"github.com/jacklau/reposcout/internal/pubsub"
	"github.com/jacklau/reposcout/internal/search"
	"github.com/jacklau/reposcout/internal/semantic"
	"github.com/jacklau/reposcout/internal/store"
)

var (
	cfgFile string
	verbose bool
	offline bool
)

var rootCmd = &cobra.Command{
	Use:   "reposcout",
	Short: "Search repositories across GitHub, GitLab and Bitbucket",
	Long: `Reposcout searches GitHub, GitLab and Bitbucket in parallel, merges and
ranks the results, and keeps a local cache so repeated and offline
searches are served without touching the network.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", config.DefaultPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&offline, "offline", false, "serve everything from the local cache")
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Cache.Offline = true
	}
	return cfg, nil
}

// components holds initialized components for use by subcommands.
type components struct {
	Config      *config.Config
	Store       *store.DB
	Metrics     *metrics.Metrics
	Broker      *pubsub.Broker[governor.CircuitEvent]
	Governors   []*governor.Governor
	Coordinator *search.Coordinator
	Logger      *slog.Logger

	cancel context.CancelFunc
}

// initComponents creates all components from config.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		Broker:  pubsub.NewBroker[governor.CircuitEvent](),
	}

	db, err := openStore(cfg.Cache, c.Metrics, logger)
	if err != nil {
		return nil, fmt.Errorf("opening cache: %w", err)
	}
	c.Store = db

	clients, governors, err := buildPlatforms(cfg, c.Metrics, c.Broker, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	c.Governors = governors

	scfg, err := searchConfig(cfg)
	if err != nil {
		db.Close()
		return nil, err
	}

	opts := []search.Option{
		search.WithLogger(logger),
		search.WithMetrics(c.Metrics),
	}
	if cfg.Semantic.Type != "" {
		embedder, err := semantic.NewEmbedder(semantic.Config{
			Type:   cfg.Semantic.Type,
			Model:  cfg.Semantic.Model,
			APIKey: cfg.Semantic.APIKey,
			URL:    cfg.Semantic.URL,
		})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating embedder: %w", err)
		}
		reranker := semantic.NewReranker(embedder, cfg.Semantic.Type+"/"+cfg.Semantic.Model,
			semantic.WithCacheSize(cfg.Semantic.CacheSize),
			semantic.WithLogger(logger))
		opts = append(opts, search.WithReranker(reranker))
	}

	coord, err := search.New(db, clients, scfg, opts...)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating search coordinator: %w", err)
	}
	c.Coordinator = coord

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go logCircuitEvents(ctx, c.Broker, logger)

	return c, nil
}

// Close stops background work, writes the metrics textfile if configured,
// and closes the store.
func (c *components) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	for _, g := range c.Governors {
		snap := g.Snapshot()
		attrs := []any{"platform", string(snap.Platform), "circuit", snap.State.String(), "failures", snap.Failures}
		if snap.HaveQuota {
			attrs = append(attrs, "quota_remaining", snap.Quota.Remaining, "quota_reset", snap.Quota.Reset)
		}
		c.Logger.Debug("platform state", attrs...)
	}
	if n := c.Broker.Dropped(); n > 0 {
		c.Logger.Warn("circuit events dropped by a slow subscriber", "count", n)
	}
	if path := c.Config.Metrics.Textfile; path != "" {
		if err := c.Metrics.WriteTextfile(path); err != nil {
			c.Logger.Warn("writing metrics", "path", path, "error", err)
		}
	}
	return c.Store.Close()
}

func openStore(cfg config.CacheConfig, m *metrics.Metrics, logger *slog.Logger) (*store.DB, error) {
	opts := []store.Option{
		store.WithMaxSize(cfg.MaxSizeBytes()),
		store.WithLogger(logger),
		store.WithMetrics(m),
	}
	if cfg.Offline {
		opts = append(opts, store.WithReadOnly())
	}
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	return store.Open(cfg.Path, opts...)
}

func searchConfig(cfg *config.Config) (search.Config, error) {
	deadline, err := cfg.Search.Deadline()
	if err != nil {
		return search.Config{}, fmt.Errorf("parsing search deadline: %w", err)
	}
	ttl, err := cfg.Cache.TTL()
	if err != nil {
		return search.Config{}, fmt.Errorf("parsing cache ttl: %w", err)
	}
	priority, err := parsePlatforms(cfg.Search.Priority)
	if err != nil {
		return search.Config{}, err
	}

	return search.Config{
		Deadline: deadline,
		PerPage:  cfg.Search.PerPage,
		Workers:  cfg.Search.Workers,
		TTL:      ttl,
		Priority: priority,
		Weights: search.Weights{
			Popularity: cfg.Search.Weights.Popularity,
			Relevance:  cfg.Search.Weights.Relevance,
			Freshness:  cfg.Search.Weights.Freshness,
			Semantic:   cfg.Semantic.Weight,
		},
		MaxPages: cfg.Search.MaxPages,
		Offline:  cfg.Cache.Offline,
	}, nil
}

// logCircuitEvents logs every circuit transition until ctx is cancelled.
func logCircuitEvents(ctx context.Context, b *pubsub.Broker[governor.CircuitEvent], logger *slog.Logger) {
	for evt := range b.Subscribe(ctx) {
		e := evt.Payload
		logger.Info("platform circuit changed",
			"event", string(evt.Type),
			"platform", string(e.Platform),
			"from", e.From.String(),
			"to", e.To.String(),
			"failures", e.Failures,
			"at", e.At.Format(time.RFC3339))
	}
}
