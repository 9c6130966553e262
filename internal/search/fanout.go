package search

import (
	"context"
	"time"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

// outcome is one platform's contribution to a fan-out.
type outcome struct {
	platform model.Platform
	repos    []model.Repository
	err      error
	latency  time.Duration
}

// fanOut queries every platform in q concurrently under one deadline and
// returns one outcome per platform, in q.Platforms order. Platforms that
// have not answered when the deadline passes are reported as timed out and
// their calls are cancelled.
func (c *Coordinator) fanOut(ctx context.Context, q Query) []outcome {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Deadline)
	defer cancel()

	start := time.Now()
	results := make(chan outcome, len(q.Platforms))
	for _, p := range q.Platforms {
		go func(p model.Platform, client platform.Client) {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				results <- outcome{platform: p, err: platform.NewError(p, "search", platform.KindTransient, err), latency: time.Since(start)}
				return
			}
			defer c.sem.Release(1)

			t := time.Now()
			repos, err := c.searchPlatform(ctx, client, q)
			results <- outcome{platform: p, repos: repos, err: err, latency: time.Since(t)}
		}(p, c.clients[p])
	}

	got := make(map[model.Platform]outcome, len(q.Platforms))
collect:
	for len(got) < len(q.Platforms) {
		select {
		case o := <-results:
			got[o.platform] = o
		case <-ctx.Done():
			// Take whatever already finished, then give up on the rest.
			for {
				select {
				case o := <-results:
					got[o.platform] = o
				default:
					break collect
				}
			}
		}
	}

	out := make([]outcome, 0, len(q.Platforms))
	for _, p := range q.Platforms {
		o, ok := got[p]
		if !ok {
			o = outcome{
				platform: p,
				err:      platform.NewError(p, "search", platform.KindTransient, context.DeadlineExceeded),
				latency:  time.Since(start),
			}
		}
		c.recordOutcome(o)
		out = append(out, o)
	}
	return out
}

// searchPlatform collects enough results from one platform to fill the
// requested page, applying the filter terms the platform cannot evaluate.
// Results gathered before a failing page are returned with the error.
func (c *Coordinator) searchPlatform(ctx context.Context, client platform.Client, q Query) ([]model.Repository, error) {
	native, residual := q.Filter.Partition(client.Capabilities())
	want := q.Page * q.PerPage
	req := platform.SearchRequest{
		Text:    q.Text,
		Native:  native,
		Sort:    q.Sort,
		PerPage: min(want, platform.MaxPerPage),
	}

	var out []model.Repository
	for pages := 0; len(out) < want && pages < c.cfg.MaxPages; pages++ {
		page, err := client.Search(ctx, req)
		if err != nil {
			return out, err
		}
		for i := range page.Repositories {
			if residual.Match(&page.Repositories[i]) {
				out = append(out, page.Repositories[i])
			}
		}
		if page.Next == "" {
			break
		}
		req.Cursor = page.Next
	}
	return out, nil
}

func (c *Coordinator) recordOutcome(o outcome) {
	if c.metrics == nil {
		return
	}
	result := "ok"
	if o.err != nil {
		result = platform.KindOf(o.err).String()
	}
	c.metrics.PlatformResults.WithLabelValues(string(o.platform), result).Inc()
}
