package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/search"
)

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// maxDescription bounds the description column in result tables.
const maxDescription = 60

func printRepositories(w io.Writer, repos []model.Repository) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "REPOSITORY\tPLATFORM\tSTARS\tLANGUAGE\tUPDATED\tHEALTH\tDESCRIPTION")
	fmt.Fprintln(tw, "----------\t--------\t-----\t--------\t-------\t------\t-----------")
	now := time.Now()
	for _, r := range repos {
		updated := "-"
		if !r.PushedAt.IsZero() {
			updated = formatTimeAgo(r.PushedAt)
		}
		lang := r.Language
		if lang == "" {
			lang = "-"
		}
		h := r.Health(now)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%d %s\t%s\n",
			r.FullName(), r.Platform, r.Stars, lang, updated, h.Score, h.Status, truncate(r.Description, maxDescription))
	}
	tw.Flush()
}

// describeMeta summarizes where a result came from.
func describeMeta(m search.Meta) string {
	var parts []string
	switch {
	case m.Offline:
		parts = append(parts, "offline (cached data)")
	case m.CacheHit && m.Stale:
		parts = append(parts, "stale cache")
	case m.CacheHit:
		parts = append(parts, "from cache")
	default:
		parts = append(parts, "live")
	}
	if !m.FetchedAt.IsZero() {
		parts = append(parts, "fetched "+formatTimeAgo(m.FetchedAt))
	}
	if m.Partial {
		parts = append(parts, "partial")
	}
	if len(m.FailedPlatforms) > 0 {
		failed := make([]string, 0, len(m.FailedPlatforms))
		for p, k := range m.FailedPlatforms {
			failed = append(failed, fmt.Sprintf("%s: %s", p, k))
		}
		slices.Sort(failed)
		parts = append(parts, "failed "+strings.Join(failed, ", "))
	}
	return "[" + strings.Join(parts, "; ") + "]"
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// formatTimeAgo formats a time as a human-readable relative string.
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

// dbFileSize returns the size in bytes of the database file.
func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
