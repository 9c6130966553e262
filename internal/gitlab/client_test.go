package gitlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

func projectJSON(ns, path string, stars int) map[string]interface{} {
	return map[string]interface{}{
		"id":                  42,
		"path":                path,
		"path_with_namespace": ns + "/" + path,
		"description":         "a gitlab project",
		"web_url":             "https://gitlab.com/" + ns + "/" + path,
		"star_count":          stars,
		"forks_count":         4,
		"open_issues_count":   1,
		"topics":              []string{"Rust", "cli"},
		"created_at":          "2021-05-06T07:08:09.000Z",
		"last_activity_at":    "2024-03-04T05:06:07.000Z",
		"default_branch":      "main",
		"archived":            false,
		"visibility":          "public",
		"namespace":           map[string]interface{}{"full_path": ns},
		"license":             map[string]interface{}{"key": "mit", "name": "MIT License"},
		"statistics":          map[string]interface{}{"repository_size": 4096},
	}
}

func newTestClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestSearchParams(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v4/projects" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("PRIVATE-TOKEN") != "secret" {
			t.Errorf("missing token header")
		}
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		w.Header().Set("X-Next-Page", "3")
		w.Header().Set("RateLimit-Limit", "2000")
		w.Header().Set("RateLimit-Remaining", "1999")
		w.Header().Set("RateLimit-Reset", "1900000000")
		json.NewEncoder(w).Encode([]interface{}{projectJSON("group/sub", "tool", 12)})
	}))
	defer srv.Close()

	c := newTestClient(t, Config{Token: "secret", BaseURL: srv.URL + "/"})
	var quota platform.Quota
	c.SetQuotaObserver(func(q platform.Quota) { quota = q })

	pred := filter.MustCompile("topic:rust topic:cli archived:false stars:>10")
	native, residual := pred.Partition(c.Capabilities())
	if residual.String() != "stars:gt:10" {
		t.Fatalf("residual = %q", residual.String())
	}

	page, err := c.Search(context.Background(), platform.SearchRequest{
		Text:    "rust cli",
		Native:  native,
		Sort:    model.SortStars,
		Cursor:  "2",
		PerPage: 20,
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	want := map[string]string{
		"search":   "rust cli",
		"order_by": "star_count",
		"sort":     "desc",
		"per_page": "20",
		"page":     "2",
		"topic":    "rust,cli",
		"archived": "false",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("param %s = %q, want %q", k, got[k], v)
		}
	}
	if page.Next != "3" {
		t.Errorf("Next = %q, want 3", page.Next)
	}
	if quota.Remaining != 1999 || quota.Reset.Unix() != 1900000000 {
		t.Errorf("quota = %+v", quota)
	}

	if len(page.Repositories) != 1 {
		t.Fatalf("expected 1 repository, got %d", len(page.Repositories))
	}
	r := page.Repositories[0]
	if r.Platform != model.GitLab || r.Owner != "group/sub" || r.Name != "tool" {
		t.Errorf("identity = %s %s/%s", r.Platform, r.Owner, r.Name)
	}
	if r.Stars != 12 || r.Size != 4 || r.License != "mit" {
		t.Errorf("unexpected fields: %+v", r)
	}
	if !r.PushedAt.Equal(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)) {
		t.Errorf("pushed = %v", r.PushedAt)
	}
	if r.Topics[0] != "rust" {
		t.Errorf("topics = %v", r.Topics)
	}
}

func TestSearchLastPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Next-Page", "")
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	page, err := newTestClient(t, Config{BaseURL: srv.URL}).Search(context.Background(), platform.SearchRequest{Text: "x"})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if page.Next != "" || len(page.Repositories) != 0 {
		t.Errorf("expected empty last page, got %+v", page)
	}
}

func TestGetDetailsConditional(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/group%2Fsub%2Ftool" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("license") != "true" || r.URL.Query().Get("statistics") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.Header.Get("If-None-Match") == `W/"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `W/"v1"`)
		json.NewEncoder(w).Encode(projectJSON("group/sub", "tool", 3))
	}))
	defer srv.Close()

	c := newTestClient(t, Config{BaseURL: srv.URL})

	repo, etag, err := c.GetDetailsConditional(context.Background(), "group/sub", "tool", "")
	if err != nil {
		t.Fatalf("GetDetailsConditional failed: %v", err)
	}
	if etag != `W/"v1"` || repo.Key() != model.IdentityKey(model.GitLab, "group/sub", "tool") {
		t.Errorf("etag=%q key=%q", etag, repo.Key())
	}

	_, _, err = c.GetDetailsConditional(context.Background(), "group/sub", "tool", `W/"v1"`)
	if !errors.Is(err, platform.ErrNotModified) {
		t.Fatalf("expected ErrNotModified, got %v", err)
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		kind   platform.Kind
	}{
		{"unauthorized", http.StatusUnauthorized, nil, platform.KindAuth},
		{"not found", http.StatusNotFound, nil, platform.KindNotFound},
		{"too many requests", http.StatusTooManyRequests, map[string]string{"Retry-After": "7"}, platform.KindRateLimit},
		{"unavailable", http.StatusServiceUnavailable, nil, platform.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				calls.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"message":"nope"}`))
			}))
			defer srv.Close()

			_, err := newTestClient(t, Config{BaseURL: srv.URL}).GetDetails(context.Background(), "a", "b")
			if got := platform.KindOf(err); got != tt.kind {
				t.Fatalf("kind = %v, want %v (err=%v)", got, tt.kind, err)
			}
			if tt.kind == platform.KindRateLimit && platform.RetryAfterOf(err) != 7*time.Second {
				t.Errorf("retry after = %v", platform.RetryAfterOf(err))
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("expected exactly one request, got %d", n)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(t, Config{BaseURL: url}).GetDetails(context.Background(), "a", "b")
	if platform.KindOf(err) != platform.KindTransient {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestFetchReadme(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.EscapedPath() != "/api/v4/projects/a%2Fb/repository/files/README.md/raw" {
			t.Errorf("unexpected path %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("ref") != "HEAD" {
			t.Errorf("ref = %q", r.URL.Query().Get("ref"))
		}
		w.Write([]byte("# B\n"))
	}))
	defer srv.Close()

	text, err := newTestClient(t, Config{BaseURL: srv.URL}).FetchReadme(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("FetchReadme failed: %v", err)
	}
	if text != "# B\n" {
		t.Errorf("readme = %q", text)
	}
}

func TestDefaultBaseURL(t *testing.T) {
	c := newTestClient(t, Config{})
	if got := c.gl.BaseURL().String(); got != "https://gitlab.com/api/v4/" {
		t.Errorf("base url = %q", got)
	}
}
