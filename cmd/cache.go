package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/jacklau/reposcout/internal/config"
	"github.com/jacklau/reposcout/internal/metrics"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/search"
	"github.com/jacklau/reposcout/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove expired cache entries",
	Args:  cobra.NoArgs,
	RunE:  runCacheCleanup,
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate <platform:owner/name>",
	Short: "Mark a cached repository stale so the next read refetches it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCacheInvalidate,
}

var cacheCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the search index and rebuild it if damaged",
	Args:  cobra.NoArgs,
	RunE:  runCacheCheck,
}

var cacheRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch every cached repository",
	Args:  cobra.NoArgs,
	RunE:  runCacheRefresh,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd, cacheCleanupCmd,
		cacheInvalidateCmd, cacheCheckCmd, cacheRefreshCmd)
	rootCmd.AddCommand(cacheCmd)
}

// withStore opens only the cache store, for commands that never touch a
// platform.
func withStore(fn func(ctx context.Context, cfg *config.Config, db *store.DB) error) error {
	logger := setupLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openStore(cfg.Cache, metrics.New(), logger)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer db.Close()
	return fn(context.Background(), cfg, db)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, cfg *config.Config, db *store.DB) error {
		stats, err := db.Stats(ctx)
		if err != nil {
			return fmt.Errorf("reading cache stats: %w", err)
		}

		out := cmd.OutOrStdout()
		if stats.Entries == 0 {
			fmt.Fprintln(out, "Cache is empty.")
			fmt.Fprintln(out, "Run 'reposcout search <terms>' to get started.")
			return nil
		}

		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "Entries\t%d\n", stats.Entries)
		fmt.Fprintf(w, "  fresh\t%d\n", stats.Fresh)
		fmt.Fprintf(w, "  expired\t%d\n", stats.Expired)
		fmt.Fprintf(w, "  stale\t%d\n", stats.Stale)
		kinds := make([]string, 0, len(stats.ByKind))
		for k := range stats.ByKind {
			kinds = append(kinds, string(k))
		}
		slices.Sort(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s\t%d\n", k, stats.ByKind[store.Kind(k)])
		}
		fmt.Fprintf(w, "Repositories\t%d\n", stats.Repositories)
		fmt.Fprintf(w, "Size\t%s of %s\n", formatBytes(stats.SizeBytes), formatBytes(stats.MaxSizeBytes))
		fmt.Fprintf(w, "Oldest fetch\t%s\n", formatTimeAgo(stats.OldestFetch))
		fmt.Fprintf(w, "Newest fetch\t%s\n", formatTimeAgo(stats.NewestFetch))
		w.Flush()

		fmt.Fprintln(out)
		if size, err := dbFileSize(cfg.Cache.Path); err == nil {
			fmt.Fprintf(out, "Database: %s (%s, %s driver)\n", cfg.Cache.Path, formatBytes(size), store.BuildMode)
		} else {
			fmt.Fprintf(out, "Database: %s (size unknown, %s driver)\n", cfg.Cache.Path, store.BuildMode)
		}
		return nil
	})
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, _ *config.Config, db *store.DB) error {
		if err := db.Clear(ctx); err != nil {
			return fmt.Errorf("clearing cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared.")
		return nil
	})
}

func runCacheCleanup(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, _ *config.Config, db *store.DB) error {
		n, err := db.CleanupExpired(ctx)
		if err != nil {
			return fmt.Errorf("removing expired entries: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d expired entries.\n", n)
		return nil
	})
}

func runCacheInvalidate(cmd *cobra.Command, args []string) error {
	ref, err := search.ParseRef(args[0])
	if err != nil {
		return err
	}
	if ref.Platform == "" {
		return fmt.Errorf("invalidate needs a platform prefix, e.g. gh:%s/%s", ref.Owner, ref.Name)
	}
	return withStore(func(ctx context.Context, _ *config.Config, db *store.DB) error {
		key := store.RepoKey(model.IdentityKey(ref.Platform, ref.Owner, ref.Name))
		if err := db.Invalidate(ctx, key); err != nil {
			return fmt.Errorf("invalidating %s: %w", ref, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Marked %s stale.\n", ref)
		return nil
	})
}

func runCacheCheck(cmd *cobra.Command, args []string) error {
	return withStore(func(ctx context.Context, _ *config.Config, db *store.DB) error {
		out := cmd.OutOrStdout()
		err := db.CheckIntegrity(ctx)
		if err == nil {
			fmt.Fprintln(out, "Search index is healthy.")
			return nil
		}
		fmt.Fprintf(out, "Search index damaged: %v\nRebuilding...\n", err)
		if err := db.RebuildIndex(ctx); err != nil {
			return fmt.Errorf("rebuilding search index: %w", err)
		}
		fmt.Fprintln(out, "Search index rebuilt.")
		return nil
	})
}

func runCacheRefresh(cmd *cobra.Command, args []string) error {
	logger := setupLogger()
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Close()

	ctx, stop := signalContext(context.Background())
	defer stop()

	var (
		once sync.Once
		bar  *progressBar
	)
	report, err := c.Coordinator.RefreshAll(ctx, func(done, total int) {
		once.Do(func() { bar = newProgressBar(total, "Refreshing", os.Stderr) })
		bar.Set(done)
	})
	if bar != nil {
		bar.Finish()
	}
	if err != nil {
		return fmt.Errorf("refreshing cache: %w", err)
	}

	out := cmd.OutOrStdout()
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Repositories\t%d\n", report.Total)
	fmt.Fprintf(w, "  updated\t%d\n", report.Updated)
	fmt.Fprintf(w, "  unchanged\t%d\n", report.Unchanged)
	fmt.Fprintf(w, "  missing\t%d\n", report.Missing)
	fmt.Fprintf(w, "  failed\t%d\n", report.Failed)
	fmt.Fprintf(w, "  skipped\t%d\n", report.Skipped)
	w.Flush()
	return nil
}
