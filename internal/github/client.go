package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

// Client is the GitHub platform client. It performs exactly one API call
// per operation and never retries.
type Client struct {
	gh *gogithub.Client

	mu       sync.RWMutex
	observer func(platform.Quota)
}

var (
	_ platform.ConditionalClient = (*Client)(nil)
	_ platform.QuotaReporter     = (*Client)(nil)
)

// requestTimeout bounds one HTTP exchange with the API.
const requestTimeout = 30 * time.Second

// New creates a client from credentials.
func New(cfg Config) (*Client, error) {
	var gh *gogithub.Client
	switch {
	case cfg.usesApp():
		hc, err := appHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
		gh = gogithub.NewClient(hc)
	case cfg.Token != "":
		gh = gogithub.NewClient(&http.Client{Timeout: requestTimeout}).WithAuthToken(cfg.Token)
	default:
		gh = gogithub.NewClient(&http.Client{Timeout: requestTimeout})
	}

	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parsing github base url: %w", err)
		}
		gh.BaseURL = base
	}
	return NewFromClient(gh), nil
}

// NewFromClient wraps an existing go-github client.
func NewFromClient(gh *gogithub.Client) *Client {
	return &Client{gh: gh}
}

// Platform returns model.GitHub.
func (c *Client) Platform() model.Platform { return model.GitHub }

// Capabilities lists the filters expressible as search qualifiers.
func (c *Client) Capabilities() filter.Capabilities { return capabilities }

// SetQuotaObserver registers fn to receive rate-limit headers.
func (c *Client) SetQuotaObserver(fn func(platform.Quota)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Search runs one page of /search/repositories.
func (c *Client) Search(ctx context.Context, req platform.SearchRequest) (*platform.Page, error) {
	page := 1
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil || n < 1 {
			return nil, platform.NewError(model.GitHub, "search", platform.KindUnknown, fmt.Errorf("invalid cursor %q", req.Cursor))
		}
		page = n
	}
	perPage := req.PerPage
	if perPage <= 0 || perPage > platform.MaxPerPage {
		perPage = platform.MaxPerPage
	}

	opts := &gogithub.SearchOptions{
		Sort:  sortParam(req.Sort),
		Order: "desc",
		ListOptions: gogithub.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	result, resp, err := c.gh.Search.Repositories(ctx, buildQuery(req.Text, req.Native), opts)
	c.report(resp)
	if err != nil {
		return nil, classifyError("search", resp, err)
	}

	out := &platform.Page{Repositories: make([]model.Repository, 0, len(result.Repositories))}
	for _, r := range result.Repositories {
		out.Repositories = append(out.Repositories, convertRepository(r))
	}
	if resp.NextPage > 0 {
		out.Next = strconv.Itoa(resp.NextPage)
	}
	return out, nil
}

// GetDetails fetches a single repository.
func (c *Client) GetDetails(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, _, err := c.GetDetailsConditional(ctx, owner, name, "")
	return repo, err
}

// GetDetailsConditional fetches a repository with If-None-Match. A 304
// answer does not count against the rate limit and yields
// platform.ErrNotModified.
func (c *Client) GetDetailsConditional(ctx context.Context, owner, name, validator string) (*model.Repository, string, error) {
	u := fmt.Sprintf("repos/%s/%s", url.PathEscape(owner), url.PathEscape(name))
	req, err := c.gh.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}

	var repo gogithub.Repository
	resp, err := c.gh.Do(ctx, req, &repo)
	c.report(resp)
	if resp != nil && resp.StatusCode == http.StatusNotModified {
		return nil, validator, platform.ErrNotModified
	}
	if err != nil {
		return nil, "", classifyError("get", resp, err)
	}

	out := convertRepository(&repo)
	return &out, resp.Header.Get("ETag"), nil
}

// FetchReadme returns the decoded README of the default branch.
func (c *Client) FetchReadme(ctx context.Context, owner, name string) (string, error) {
	content, resp, err := c.gh.Repositories.GetReadme(ctx, owner, name, nil)
	c.report(resp)
	if err != nil {
		return "", classifyError("readme", resp, err)
	}
	text, err := content.GetContent()
	if err != nil {
		return "", platform.NewError(model.GitHub, "readme", platform.KindUnknown, fmt.Errorf("decoding readme: %w", err))
	}
	return text, nil
}

func (c *Client) report(resp *gogithub.Response) {
	q, ok := quotaFromResponse(resp)
	if !ok {
		return
	}
	c.mu.RLock()
	fn := c.observer
	c.mu.RUnlock()
	if fn != nil {
		fn(q)
	}
}

func sortParam(s model.SortOrder) string {
	switch s {
	case model.SortStars:
		return "stars"
	case model.SortForks:
		return "forks"
	case model.SortUpdated:
		return "updated"
	}
	return ""
}
