package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jacklau/reposcout/internal/config"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/search"
)

// executeCommand runs rootCmd with args and returns its stdout.
func executeCommand(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	oldCfg, oldOffline := cfgFile, offline
	oldSearchJSON, oldShowJSON := searchJSON, showJSON
	t.Cleanup(func() {
		cfgFile, offline = oldCfg, oldOffline
		searchJSON, showJSON = oldSearchJSON, oldShowJSON
		rootCmd.SetOut(nil)
		rootCmd.SetIn(nil)
		rootCmd.SetArgs(nil)
	})

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

// fakeGitHub serves the handful of endpoints the GitHub client uses.
func fakeGitHub(t *testing.T, searches *atomic.Int32) *httptest.Server {
	t.Helper()
	repo := map[string]any{
		"name":             "rust-tool",
		"full_name":        "octo/rust-tool",
		"owner":            map[string]any{"login": "octo"},
		"description":      "a rust command line tool",
		"html_url":         "https://github.com/octo/rust-tool",
		"stargazers_count": 42,
		"forks_count":      3,
		"language":         "Rust",
		"topics":           []string{"cli"},
		"created_at":       "2020-01-02T03:04:05Z",
		"updated_at":       "2024-02-03T04:05:06Z",
		"pushed_at":        "2024-02-01T00:00:00Z",
		"visibility":       "public",
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"total_count": 1,
			"items":       []any{repo},
		})
	})
	mux.HandleFunc("/repos/octo/rust-tool", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		json.NewEncoder(w).Encode(repo)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeConfig(t *testing.T, body string) (path, dir string) {
	t.Helper()
	dir = t.TempDir()
	path = filepath.Join(dir, "config.yaml")
	body = strings.ReplaceAll(body, "$DIR", dir)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path, dir
}

func TestSearchCommandEndToEnd(t *testing.T) {
	var searches atomic.Int32
	srv := fakeGitHub(t, &searches)

	path, dir := writeConfig(t, fmt.Sprintf(`
platforms:
  github:
    base_url: %s
cache:
  path: $DIR/cache.db
governor:
  max_attempts: 1
metrics:
  textfile: $DIR/reposcout.prom
`, srv.URL))

	out, err := executeCommand(t, "", "--config", path, "search", "rust", "--json")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	var res search.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output %q: %v", out, err)
	}
	if len(res.Repositories) != 1 || res.Repositories[0].FullName() != "octo/rust-tool" {
		t.Fatalf("unexpected repositories: %+v", res.Repositories)
	}
	if res.Repositories[0].Platform != model.GitHub {
		t.Errorf("expected github platform, got %s", res.Repositories[0].Platform)
	}
	if res.Meta.CacheHit {
		t.Error("first search should not be a cache hit")
	}

	out, err = executeCommand(t, "", "--config", path, "search", "rust", "--json")
	if err != nil {
		t.Fatalf("second search failed: %v", err)
	}
	res = search.Result{}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if !res.Meta.CacheHit {
		t.Error("second search should be served from cache")
	}
	if n := searches.Load(); n != 1 {
		t.Errorf("expected 1 platform search, got %d", n)
	}

	prom, err := os.ReadFile(filepath.Join(dir, "reposcout.prom"))
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(prom), "reposcout_") {
		t.Errorf("metrics textfile has no reposcout metrics: %q", prom)
	}
}

func TestSearchCommandTable(t *testing.T) {
	var searches atomic.Int32
	srv := fakeGitHub(t, &searches)
	path, _ := writeConfig(t, fmt.Sprintf(`
platforms:
  github:
    base_url: %s
cache:
  path: $DIR/cache.db
`, srv.URL))

	out, err := executeCommand(t, "", "--config", path, "search", "rust", "--filter", "stars:>10")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	for _, want := range []string{"REPOSITORY", "octo/rust-tool", "42", "live"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestShowCommand(t *testing.T) {
	var searches atomic.Int32
	srv := fakeGitHub(t, &searches)
	path, _ := writeConfig(t, fmt.Sprintf(`
platforms:
  github:
    base_url: %s
cache:
  path: $DIR/cache.db
`, srv.URL))

	out, err := executeCommand(t, "", "--config", path, "show", "gh:octo/rust-tool")
	if err != nil {
		t.Fatalf("show failed: %v", err)
	}
	for _, want := range []string{"octo/rust-tool", "Stars:      42", "Language:   Rust", "Health:     47/100 (warning, abandoned)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = executeCommand(t, "", "--config", path, "show", "gh:octo/rust-tool", "--json")
	if err != nil {
		t.Fatalf("show --json failed: %v", err)
	}
	var got struct {
		Health struct {
			Score  int
			Status string
		}
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding show output: %v\n%s", err, out)
	}
	if got.Health.Score != 47 || got.Health.Status != "warning" {
		t.Errorf("health = %+v, want 47 warning", got.Health)
	}
}

func TestOfflineSearchWithEmptyCache(t *testing.T) {
	path, _ := writeConfig(t, `
cache:
  path: $DIR/cache.db
`)
	// Create the database so the read-only open succeeds.
	if _, err := executeCommand(t, "", "--config", path, "cache", "stats"); err != nil {
		t.Fatalf("cache stats failed: %v", err)
	}

	out, err := executeCommand(t, "", "--config", path, "--offline", "search", "anything")
	if err != nil {
		t.Fatalf("offline search failed: %v", err)
	}
	if !strings.Contains(out, "No repositories matched.") || !strings.Contains(out, "offline") {
		t.Errorf("unexpected offline output:\n%s", out)
	}
}

func TestCacheCommands(t *testing.T) {
	var searches atomic.Int32
	srv := fakeGitHub(t, &searches)
	path, _ := writeConfig(t, fmt.Sprintf(`
platforms:
  github:
    base_url: %s
cache:
  path: $DIR/cache.db
`, srv.URL))

	out, err := executeCommand(t, "", "--config", path, "cache", "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "Cache is empty.") {
		t.Errorf("expected empty cache, got:\n%s", out)
	}

	if _, err := executeCommand(t, "", "--config", path, "show", "gh:octo/rust-tool"); err != nil {
		t.Fatalf("show failed: %v", err)
	}

	out, err = executeCommand(t, "", "--config", path, "cache", "stats")
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if !strings.Contains(out, "Repositories") || !strings.Contains(out, "repo") {
		t.Errorf("expected repository stats, got:\n%s", out)
	}

	out, err = executeCommand(t, "", "--config", path, "cache", "invalidate", "gh:octo/rust-tool")
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if !strings.Contains(out, "Marked github:octo/rust-tool stale.") {
		t.Errorf("unexpected invalidate output: %q", out)
	}

	if _, err := executeCommand(t, "", "--config", path, "cache", "invalidate", "octo/rust-tool"); err == nil {
		t.Error("invalidate without a platform should fail")
	}

	out, err = executeCommand(t, "", "--config", path, "cache", "refresh")
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if !strings.Contains(out, "updated") {
		t.Errorf("unexpected refresh output:\n%s", out)
	}

	out, err = executeCommand(t, "", "--config", path, "cache", "check")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "healthy") {
		t.Errorf("unexpected check output: %q", out)
	}

	out, err = executeCommand(t, "", "--config", path, "cache", "cleanup")
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if !strings.Contains(out, "Removed 0 expired entries.") {
		t.Errorf("unexpected cleanup output: %q", out)
	}

	if _, err := executeCommand(t, "", "--config", path, "cache", "clear"); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	out, _ = executeCommand(t, "", "--config", path, "cache", "stats")
	if !strings.Contains(out, "Cache is empty.") {
		t.Errorf("expected empty cache after clear, got:\n%s", out)
	}
}

func TestSearchConfigFromDefaults(t *testing.T) {
	sc, err := searchConfig(config.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sc.Deadline != 15*time.Second {
		t.Errorf("expected 15s deadline, got %v", sc.Deadline)
	}
	if sc.TTL != 24*time.Hour {
		t.Errorf("expected 24h ttl, got %v", sc.TTL)
	}
	want := []model.Platform{model.GitHub, model.GitLab, model.Bitbucket}
	if fmt.Sprint(sc.Priority) != fmt.Sprint(want) {
		t.Errorf("expected priority %v, got %v", want, sc.Priority)
	}
	if sc.Weights.Popularity != 0.4 || sc.Weights.Semantic != 0 {
		t.Errorf("unexpected weights %+v", sc.Weights)
	}
}

func TestGovernorConfig(t *testing.T) {
	gc, err := governorConfig(config.GovernorConfig{
		RequestsPerSecond: 2,
		Burst:             4,
		MaxAttempts:       5,
		BaseDelayRaw:      "250ms",
		MaxDelayRaw:       "4s",
		FailureThreshold:  2,
		CoolDownRaw:       "10s",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gc.RequestsPerSecond != 2 || gc.Burst != 4 || gc.FailureThreshold != 2 {
		t.Errorf("unexpected governor config %+v", gc)
	}
	if gc.Retry.MaxAttempts != 5 || gc.Retry.BaseDelay != 250*time.Millisecond || gc.Retry.MaxDelay != 4*time.Second {
		t.Errorf("unexpected retry policy %+v", gc.Retry)
	}
	if gc.CoolDown != 10*time.Second {
		t.Errorf("expected 10s cool down, got %v", gc.CoolDown)
	}

	if _, err := governorConfig(config.GovernorConfig{CoolDownRaw: "later"}); err == nil {
		t.Error("expected error for invalid cool down")
	}
}

func TestBuildPlatforms(t *testing.T) {
	logger := setupLogger()

	cfg := config.Default()
	clients, governors, err := buildPlatforms(cfg, nil, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(clients) != 1 || clients[0].Platform() != model.GitHub || len(governors) != 1 {
		t.Fatalf("expected only github by default, got %d clients", len(clients))
	}

	cfg.Platforms.GitLab.Enabled = true
	cfg.Platforms.Bitbucket.Enabled = true
	clients, _, err = buildPlatforms(cfg, nil, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got []model.Platform
	for _, c := range clients {
		got = append(got, c.Platform())
	}
	if fmt.Sprint(got) != fmt.Sprint(model.AllPlatforms) {
		t.Errorf("expected %v, got %v", model.AllPlatforms, got)
	}

	disabled := false
	cfg = config.Default()
	cfg.Platforms.GitHub.Enabled = &disabled
	if _, _, err := buildPlatforms(cfg, nil, nil, logger); err == nil {
		t.Error("expected error when no platform is enabled")
	}
}

func TestBuildQuery(t *testing.T) {
	q, err := buildQuery([]string{"http", "router"}, "language:eq:go", []string{"gh", "gitlab"}, "stars", 2, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Text != "http router" || q.Sort != model.SortStars || q.Page != 2 || q.PerPage != 10 {
		t.Errorf("unexpected query %+v", q)
	}
	if fmt.Sprint(q.Platforms) != fmt.Sprint([]model.Platform{model.GitHub, model.GitLab}) {
		t.Errorf("unexpected platforms %v", q.Platforms)
	}

	tests := []struct {
		name      string
		filter    string
		platforms []string
		sort      string
		page      int
	}{
		{"bad filter", "stars:gt:many", nil, "relevance", 1},
		{"bad sort", "", nil, "popularity", 1},
		{"bad platform", "", []string{"sourceforge"}, "relevance", 1},
		{"bad page", "", nil, "relevance", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := buildQuery(nil, tc.filter, tc.platforms, tc.sort, tc.page, 0); err == nil {
				t.Error("expected error")
			}
		})
	}
}
