package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

func TestKindForStatus(t *testing.T) {
	spent := http.Header{}
	spent.Set("X-RateLimit-Remaining", "0")
	retry := http.Header{}
	retry.Set("Retry-After", "5")

	tests := []struct {
		name   string
		status int
		header http.Header
		want   Kind
	}{
		{"unauthorized", 401, http.Header{}, KindAuth},
		{"forbidden", 403, http.Header{}, KindAuth},
		{"forbidden quota spent", 403, spent, KindRateLimit},
		{"forbidden retry-after", 403, retry, KindRateLimit},
		{"not found", 404, http.Header{}, KindNotFound},
		{"too many requests", 429, http.Header{}, KindRateLimit},
		{"request timeout", 408, http.Header{}, KindTransient},
		{"bad gateway", 502, http.Header{}, KindTransient},
		{"unprocessable", 422, http.Header{}, KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindForStatus(tt.status, tt.header); got != tt.want {
				t.Errorf("KindForStatus(%d) = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"typed", &Error{Kind: KindAuth}, KindAuth},
		{"wrapped typed", fmt.Errorf("outer: %w", &Error{Kind: KindNotFound}), KindNotFound},
		{"sentinel", fmt.Errorf("x: %w", ErrCircuitOpen), KindCircuitOpen},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"unexpected eof", io.ErrUnexpectedEOF, KindTransient},
		{"plain", errors.New("boom"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("search: %w", &Error{Platform: model.GitHub, Kind: KindRateLimit, RetryAfter: 3 * time.Second})
	if !errors.Is(err, ErrRateLimited) {
		t.Error("expected errors.Is(err, ErrRateLimited)")
	}
	if errors.Is(err, ErrAuth) {
		t.Error("rate limit error should not match ErrAuth")
	}
	if got := RetryAfterOf(err); got != 3*time.Second {
		t.Errorf("RetryAfterOf = %v", got)
	}
	if !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := ParseRetryAfter("7", now); got != 7*time.Second {
		t.Errorf("seconds form = %v", got)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got := ParseRetryAfter(date, now); got != 90*time.Second {
		t.Errorf("date form = %v", got)
	}
	if got := ParseRetryAfter("soon", now); got != 0 {
		t.Errorf("garbage = %v", got)
	}
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.WriteHeader(http.StatusOK)
		case "/limited":
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte("slow down"))
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/same":
			w.WriteHeader(http.StatusNotModified)
		}
	}))
	defer srv.Close()

	get := func(path string) error {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer resp.Body.Close()
		return CheckResponse(model.GitLab, "search", resp)
	}

	if err := get("/ok"); err != nil {
		t.Errorf("/ok: %v", err)
	}
	err := get("/limited")
	if KindOf(err) != KindRateLimit || RetryAfterOf(err) != 12*time.Second {
		t.Errorf("/limited: kind=%v retry=%v", KindOf(err), RetryAfterOf(err))
	}
	if !strings.Contains(err.Error(), "slow down") {
		t.Errorf("body missing from %q", err.Error())
	}
	if err := get("/gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("/gone: %v", err)
	}
	if err := get("/same"); !errors.Is(err, ErrNotModified) {
		t.Errorf("/same: %v", err)
	}
}

func TestParseQuota(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "60")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "1700000060")

	q, ok := ParseQuota(h, now)
	if !ok {
		t.Fatal("expected quota")
	}
	if q.Limit != 60 || q.Remaining != 0 || !q.Reset.Equal(time.Unix(1_700_000_060, 0)) {
		t.Errorf("quota = %+v", q)
	}
	if !q.Exhausted(now) {
		t.Error("expected exhausted")
	}
	if q.Exhausted(now.Add(2 * time.Minute)) {
		t.Error("quota should recover after reset")
	}

	gl := http.Header{}
	gl.Set("RateLimit-Remaining", "10")
	gl.Set("RateLimit-Reset", "30")
	q, ok = ParseQuota(gl, now)
	if !ok || q.Remaining != 10 || !q.Reset.Equal(now.Add(30*time.Second)) {
		t.Errorf("gitlab quota = %+v ok=%v", q, ok)
	}

	if _, ok := ParseQuota(http.Header{}, now); ok {
		t.Error("expected no quota without headers")
	}
}

func TestParseQuotaResetOnly(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	h := http.Header{}
	h.Set("RateLimit-Reset", "1700000060")
	h.Set("X-RateLimit-Remaining", "abc")

	if q, ok := ParseQuota(h, now); ok {
		t.Errorf("a reset without a remaining count must not be reported, got %+v", q)
	}
}
