package search

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

// Query is one logical search across platforms.
type Query struct {
	Text   string
	Filter *filter.Predicate
	// Platforms restricts the search. Empty means every configured platform.
	Platforms []model.Platform
	Sort      model.SortOrder
	// Page is 1-based.
	Page     int
	PerPage  int
	IssuedAt time.Time
}

// Meta annotates every result with where its data came from.
type Meta struct {
	CacheHit bool `json:"cache_hit"`
	// Stale is set whenever the data may be older than its TTL.
	Stale   bool `json:"stale"`
	Partial bool `json:"partial"`
	Offline bool `json:"offline"`
	// FailedPlatforms maps each failed platform to its error kind.
	FailedPlatforms map[model.Platform]platform.Kind    `json:"failed_platforms,omitempty"`
	Latency         map[model.Platform]time.Duration `json:"latency,omitempty"`
	FetchedAt       time.Time                        `json:"fetched_at"`
}

// Result is one page of a merged search.
type Result struct {
	Repositories []model.Repository `json:"repositories"`
	// Total is the number of merged results gathered for the requested page
	// window, before pagination.
	Total   int  `json:"total"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Meta    Meta `json:"meta"`
}

// normalize fills defaults and restricts the platform set to the
// configured clients, in priority order.
func (q Query) normalize(cfg Config, configured map[model.Platform]platform.Client) (Query, error) {
	q.Text = strings.Join(strings.Fields(q.Text), " ")
	if q.Filter == nil {
		q.Filter = &filter.Predicate{}
	}
	if q.Sort == "" {
		q.Sort = model.SortRelevance
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = cfg.PerPage
	}
	if q.PerPage > platform.MaxPerPage {
		q.PerPage = platform.MaxPerPage
	}

	requested := q.Platforms
	q.Platforms = nil
	for _, p := range cfg.Priority {
		if _, ok := configured[p]; !ok {
			continue
		}
		if len(requested) == 0 || slices.Contains(requested, p) {
			q.Platforms = append(q.Platforms, p)
		}
	}
	for _, p := range requested {
		if _, ok := configured[p]; !ok {
			return q, fmt.Errorf("platform %s is not configured", p)
		}
	}
	if len(q.Platforms) == 0 {
		return q, fmt.Errorf("no platforms configured")
	}
	return q, nil
}

// Fingerprint identifies a normalized query for caching. The issuing time
// is excluded; two queries that differ only in filter spelling share a
// fingerprint because the filter is rendered canonically.
func (q Query) Fingerprint() string {
	platforms := make([]string, len(q.Platforms))
	for i, p := range q.Platforms {
		platforms[i] = string(p)
	}
	slices.Sort(platforms)

	parts := []string{
		"v1",
		strings.ToLower(q.Text),
		q.Filter.String(),
		strings.Join(platforms, ","),
		string(q.Sort),
		strconv.Itoa(q.Page),
		strconv.Itoa(q.PerPage),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
