package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/metrics"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/pubsub"
	"github.com/jacklau/reposcout/internal/retry"
)

const (
	defaultFailureThreshold = 5
	defaultCoolDown         = 30 * time.Second
)

// Config tunes one governor.
type Config struct {
	// RequestsPerSecond is the token refill rate. Zero or less disables
	// client-side pacing.
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Policy
	FailureThreshold  int
	CoolDown          time.Duration
}

// Option configures a Governor.
type Option func(*Governor)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Governor) { g.logger = l }
}

// WithMetrics records call outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Governor) { g.metrics = m }
}

// WithBroker publishes circuit transitions on b.
func WithBroker(b *pubsub.Broker[CircuitEvent]) Option {
	return func(g *Governor) { g.broker = b }
}

// WithClock overrides the time source used for quota decisions. The
// circuit breaker always runs on the wall clock.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// WithSleep overrides how the governor waits between attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Governor) { g.sleep = sleep }
}

// Governor wraps one platform.Client with token-bucket pacing, quota
// tracking, retry with backoff, and a circuit breaker. All mutable
// per-platform state lives here; quota and openedAt are guarded by mu.
type Governor struct {
	client   platform.Client
	platform model.Platform
	policy   retry.Policy
	limiter  *rate.Limiter
	breaker  *gobreaker.TwoStepCircuitBreaker[struct{}]
	coolDown time.Duration

	tripFailures atomic.Int64

	mu        sync.Mutex
	openedAt  time.Time
	quota     platform.Quota
	haveQuota bool

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *slog.Logger
	metrics *metrics.Metrics
	broker  *pubsub.Broker[CircuitEvent]
}

var _ platform.ConditionalClient = (*Governor)(nil)

// New wraps client. If the client reports quota headers, the governor
// subscribes to them.
func New(client platform.Client, cfg Config, opts ...Option) *Governor {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaultFailureThreshold
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = defaultCoolDown
	}

	limit := rate.Inf
	burst := cfg.Burst
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst <= 0 {
			burst = 1
		}
	}

	g := &Governor{
		client:   client,
		platform: client.Platform(),
		policy:   cfg.Retry,
		limiter:  rate.NewLimiter(limit, burst),
		coolDown: cfg.CoolDown,
		now:      time.Now,
		sleep:    retry.Sleep,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("platform", string(g.platform))
	g.breaker = g.newBreaker(cfg.FailureThreshold, cfg.CoolDown)

	if qr, ok := client.(platform.QuotaReporter); ok {
		qr.SetQuotaObserver(g.observeQuota)
	}
	if g.metrics != nil {
		g.metrics.CircuitState.WithLabelValues(string(g.platform)).Set(float64(StateClosed))
	}
	return g
}

// Platform returns the wrapped client's platform.
func (g *Governor) Platform() model.Platform { return g.platform }

// Capabilities returns the wrapped client's native filter support.
func (g *Governor) Capabilities() filter.Capabilities { return g.client.Capabilities() }

// Search runs one governed search page request.
func (g *Governor) Search(ctx context.Context, req platform.SearchRequest) (*platform.Page, error) {
	return call(ctx, g, "search", func(ctx context.Context) (*platform.Page, error) {
		return g.client.Search(ctx, req)
	})
}

// GetDetails runs one governed repository lookup.
func (g *Governor) GetDetails(ctx context.Context, owner, name string) (*model.Repository, error) {
	return call(ctx, g, "get", func(ctx context.Context) (*model.Repository, error) {
		return g.client.GetDetails(ctx, owner, name)
	})
}

// FetchReadme runs one governed README fetch.
func (g *Governor) FetchReadme(ctx context.Context, owner, name string) (string, error) {
	return call(ctx, g, "readme", func(ctx context.Context) (string, error) {
		return g.client.FetchReadme(ctx, owner, name)
	})
}

type detailsResult struct {
	repo      *model.Repository
	validator string
}

// GetDetailsConditional runs a governed conditional lookup. Clients without
// conditional support fall back to a full fetch with an empty validator.
func (g *Governor) GetDetailsConditional(ctx context.Context, owner, name, validator string) (*model.Repository, string, error) {
	cc, ok := g.client.(platform.ConditionalClient)
	res, err := call(ctx, g, "get", func(ctx context.Context) (detailsResult, error) {
		if !ok {
			repo, err := g.client.GetDetails(ctx, owner, name)
			return detailsResult{repo: repo}, err
		}
		repo, v, err := cc.GetDetailsConditional(ctx, owner, name, validator)
		return detailsResult{repo: repo, validator: v}, err
	})
	return res.repo, res.validator, err
}

// Snapshot is a point-in-time view of the governor's state.
type Snapshot struct {
	Platform  model.Platform
	State     State
	Failures  int
	OpenedAt  time.Time
	Quota     platform.Quota
	HaveQuota bool
}

// Snapshot returns the current breaker and quota state.
func (g *Governor) Snapshot() Snapshot {
	state := fromBreaker(g.breaker.State())
	failures := int(g.breaker.Counts().ConsecutiveFailures)

	g.mu.Lock()
	defer g.mu.Unlock()
	return Snapshot{
		Platform:  g.platform,
		State:     state,
		Failures:  failures,
		OpenedAt:  g.openedAt,
		Quota:     g.quota,
		HaveQuota: g.haveQuota,
	}
}

// State returns the current circuit state.
func (g *Governor) State() State {
	return fromBreaker(g.breaker.State())
}

func (g *Governor) observeQuota(q platform.Quota) {
	g.mu.Lock()
	g.quota = q
	g.haveQuota = true
	g.mu.Unlock()
}

// call is the governed attempt loop shared by every operation.
func call[T any](ctx context.Context, g *Governor, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := g.policy.Attempts()
	for attempt := 0; attempt < attempts; attempt++ {
		done, err := g.admit(op)
		if err != nil {
			// A circuit that opened during our own retries should not mask
			// the failure that opened it.
			if lastErr != nil {
				return zero, lastErr
			}
			g.count(op, platform.KindCircuitOpen.String())
			return zero, err
		}

		if err := g.waitTurn(ctx, op); err != nil {
			done(outcomeNeutral.report())
			if lastErr != nil {
				return zero, lastErr
			}
			g.count(op, platform.KindOf(err).String())
			return zero, err
		}

		start := time.Now()
		v, err := fn(ctx)
		if g.metrics != nil {
			g.metrics.PlatformLatency.WithLabelValues(string(g.platform), op).Observe(time.Since(start).Seconds())
		}
		done(classify(ctx, err).report())

		if err == nil {
			g.count(op, "success")
			return v, nil
		}
		if errors.Is(err, platform.ErrNotModified) {
			g.count(op, "not_modified")
			return v, err
		}

		kind := platform.KindOf(err)
		g.count(op, kind.String())
		lastErr = err
		if !kind.Retryable() || ctx.Err() != nil || attempt == attempts-1 {
			break
		}

		delay := g.policy.Delay(attempt, platform.RetryAfterOf(err))
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < delay {
			g.logger.Debug("retry would exceed deadline, giving up", "op", op, "delay", delay)
			break
		}

		g.logger.Debug("retrying platform call", "op", op, "attempt", attempt+1, "delay", delay, "kind", kind.String())
		if g.metrics != nil {
			g.metrics.GovernorRetries.WithLabelValues(string(g.platform), kind.String()).Inc()
		}
		if err := g.sleep(ctx, delay); err != nil {
			break
		}
	}
	return zero, lastErr
}

// classify maps a call result onto breaker bookkeeping. Only transient and
// rate-limit failures count against the platform; a missing repository is a
// healthy answer.
func classify(ctx context.Context, err error) outcome {
	if err == nil || errors.Is(err, platform.ErrNotModified) {
		return outcomeSuccess
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return outcomeNeutral
	}
	switch platform.KindOf(err) {
	case platform.KindTransient, platform.KindRateLimit:
		return outcomeFailure
	case platform.KindNotFound:
		return outcomeSuccess
	}
	return outcomeNeutral
}

// admit consults the breaker. On success the returned func must be called
// exactly once with the call's outcome.
func (g *Governor) admit(op string) (func(error), error) {
	done, err := g.breaker.Allow()
	if err == nil {
		return done, nil
	}

	var wait time.Duration
	if errors.Is(err, gobreaker.ErrOpenState) {
		g.mu.Lock()
		wait = g.coolDown - time.Since(g.openedAt)
		g.mu.Unlock()
		if wait < 0 {
			wait = 0
		}
	}
	return nil, &platform.Error{
		Platform:   g.platform,
		Op:         op,
		Kind:       platform.KindCircuitOpen,
		RetryAfter: wait,
		Err:        err,
	}
}

// transition logs and publishes a state change. It runs inside the
// breaker's lock and must not call back into it.
func (g *Governor) transition(from, to State) {
	now := time.Now()
	evt := CircuitEvent{
		Platform: g.platform,
		From:     from,
		To:       to,
		At:       now,
	}
	if to == StateOpen {
		g.mu.Lock()
		g.openedAt = now
		g.mu.Unlock()
		if from == StateClosed {
			evt.Failures = int(g.tripFailures.Load())
		}
		g.logger.Warn("circuit opened", "failures", evt.Failures, "cool_down", g.coolDown)
	} else {
		g.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
	}
	if g.metrics != nil {
		g.metrics.CircuitState.WithLabelValues(string(g.platform)).Set(float64(to))
	}
	g.broker.Publish(eventType(to), evt)
}

// waitTurn blocks until the platform quota allows another request and a
// pacing token is available, or fails if ctx would expire first.
func (g *Governor) waitTurn(ctx context.Context, op string) error {
	g.mu.Lock()
	q, have := g.quota, g.haveQuota
	g.mu.Unlock()

	if now := g.now(); have && q.Exhausted(now) {
		wait := q.Reset.Sub(now)
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			return &platform.Error{
				Platform:   g.platform,
				Op:         op,
				Kind:       platform.KindRateLimit,
				RetryAfter: wait,
				Err:        fmt.Errorf("quota resets at %s, after the deadline", q.Reset.Format(time.RFC3339)),
			}
		}
		g.logger.Info("quota exhausted, waiting for reset", "wait", wait)
		if g.metrics != nil {
			g.metrics.RateLimitWaits.WithLabelValues(string(g.platform)).Inc()
		}
		if err := g.sleep(ctx, wait); err != nil {
			return platform.NewError(g.platform, op, platform.KindTransient, err)
		}
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return platform.NewError(g.platform, op, platform.KindTransient,
			fmt.Errorf("waiting for rate limit token: %w: %v", context.DeadlineExceeded, err))
	}
	return nil
}

func (g *Governor) count(op, outcome string) {
	if g.metrics != nil {
		g.metrics.GovernorCalls.WithLabelValues(string(g.platform), op, outcome).Inc()
	}
}
