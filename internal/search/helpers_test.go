package search

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
	"github.com/jacklau/reposcout/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeClient is an in-memory platform client. Search pages through repos
// using the index of the next item as cursor.
type fakeClient struct {
	platform model.Platform
	caps     filter.Capabilities

	mu        sync.Mutex
	repos     []model.Repository
	searchErr error
	block     bool

	details    map[string]model.Repository
	detailsErr error
	etag       string
	readme     string
	readmeErr  error

	searches    int
	detailCalls int
	readmeCalls int
	lastReq     platform.SearchRequest
}

func (f *fakeClient) Platform() model.Platform { return f.platform }

func (f *fakeClient) Capabilities() filter.Capabilities { return f.caps }

func (f *fakeClient) Search(ctx context.Context, req platform.SearchRequest) (*platform.Page, error) {
	f.mu.Lock()
	f.searches++
	f.lastReq = req
	block, err := f.block, f.searchErr
	repos := f.repos
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, platform.NewError(f.platform, "search", platform.KindTransient, ctx.Err())
	}
	if err != nil {
		return nil, err
	}

	start := 0
	if req.Cursor != "" {
		start, _ = strconv.Atoi(req.Cursor)
	}
	end := min(start+req.PerPage, len(repos))
	page := &platform.Page{Repositories: append([]model.Repository(nil), repos[start:end]...)}
	if end < len(repos) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeClient) GetDetails(ctx context.Context, owner, name string) (*model.Repository, error) {
	r, _, err := f.GetDetailsConditional(ctx, owner, name, "")
	return r, err
}

func (f *fakeClient) GetDetailsConditional(_ context.Context, owner, name, validator string) (*model.Repository, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailsErr != nil {
		return nil, "", f.detailsErr
	}
	if validator != "" && validator == f.etag {
		return nil, validator, platform.ErrNotModified
	}
	r, ok := f.details[owner+"/"+name]
	if !ok {
		return nil, "", platform.NewError(f.platform, "get", platform.KindNotFound, nil)
	}
	return &r, f.etag, nil
}

func (f *fakeClient) FetchReadme(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readmeCalls++
	if f.readmeErr != nil {
		return "", f.readmeErr
	}
	return f.readme, nil
}

// blockingClient never answers a details call before ctx ends.
type blockingClient struct {
	*fakeClient
}

func (b *blockingClient) GetDetailsConditional(ctx context.Context, _, _, _ string) (*model.Repository, string, error) {
	<-ctx.Done()
	return nil, "", platform.NewError(b.platform, "get", platform.KindTransient, ctx.Err())
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeClient) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches
}

func repo(p model.Platform, owner, name string, stars int) model.Repository {
	r := model.Repository{
		Platform:    p,
		Owner:       owner,
		Name:        name,
		Description: "a repository named " + name,
		URL:         "https://" + string(p) + ".example/" + owner + "/" + name,
		Stars:       stars,
		Language:    "Rust",
		Topics:      []string{"cli"},
		CreatedAt:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	r.Normalize()
	return r
}

func numbered(p model.Platform, n int) []model.Repository {
	out := make([]model.Repository, n)
	for i := range out {
		out[i] = repo(p, "owner"+strconv.Itoa(i), "rust-cli-"+strconv.Itoa(i), 10*(i+1))
	}
	return out
}

type fixture struct {
	coord *Coordinator
	db    *store.DB
	clock *testClock
}

func newFixture(t *testing.T, cfg Config, clients ...platform.Client) *fixture {
	t.Helper()
	clock := &testClock{t: testNow}
	db, err := store.Open(":memory:", store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	coord, err := New(db, clients, cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return &fixture{coord: coord, db: db, clock: clock}
}

// withClients builds a second coordinator over the same cache and clock.
func (fx *fixture) withClients(t *testing.T, cfg Config, clients ...platform.Client) *Coordinator {
	t.Helper()
	coord, err := New(fx.db, clients, cfg, WithClock(fx.clock.Now))
	require.NoError(t, err)
	return coord
}

func keys(repos []model.Repository) []string {
	out := make([]string, len(repos))
	for i := range repos {
		out[i] = repos[i].Key()
	}
	return out
}
