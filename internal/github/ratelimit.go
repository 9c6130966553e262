package github

import (
	"context"
	"errors"
	"net/http"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

// quotaFromResponse extracts the rate-limit state go-github parsed from the
// response headers. It reports false when the headers were absent.
func quotaFromResponse(resp *gogithub.Response) (platform.Quota, bool) {
	if resp == nil || resp.Response == nil {
		return platform.Quota{}, false
	}
	if resp.Header.Get("X-RateLimit-Remaining") == "" {
		return platform.Quota{}, false
	}
	return platform.Quota{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Reset:     resp.Rate.Reset.Time,
		Observed:  time.Now(),
	}, true
}

// classifyError maps go-github errors onto the platform taxonomy. Primary
// rate limits carry the reset time as the retry-after hint; secondary
// (abuse) limits carry GitHub's Retry-After.
func classifyError(op string, resp *gogithub.Response, err error) error {
	e := &platform.Error{Platform: model.GitHub, Op: op, Err: err}

	var rle *gogithub.RateLimitError
	var abuse *gogithub.AbuseRateLimitError
	var er *gogithub.ErrorResponse
	switch {
	case errors.As(err, &rle):
		e.Kind = platform.KindRateLimit
		e.StatusCode = statusOf(rle.Response)
		if wait := time.Until(rle.Rate.Reset.Time); wait > 0 {
			e.RetryAfter = wait
		}
	case errors.As(err, &abuse):
		e.Kind = platform.KindRateLimit
		e.StatusCode = statusOf(abuse.Response)
		e.RetryAfter = abuse.GetRetryAfter()
	case errors.As(err, &er):
		e.StatusCode = statusOf(er.Response)
		if er.Response != nil {
			e.Kind = platform.KindForStatus(er.Response.StatusCode, er.Response.Header)
			if e.Kind == platform.KindRateLimit {
				e.RetryAfter = platform.ParseRetryAfter(er.Response.Header.Get("Retry-After"), time.Now())
			}
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.Kind = platform.KindTransient
	default:
		e.Kind = platform.KindOf(err)
		if e.Kind == platform.KindUnknown && resp != nil && resp.Response != nil {
			e.StatusCode = resp.StatusCode
			e.Kind = platform.KindForStatus(resp.StatusCode, resp.Header)
		}
	}
	return e
}

func statusOf(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}
