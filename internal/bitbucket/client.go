// Package bitbucket implements the Bitbucket Cloud platform client over the
// 2.0 REST API.
package bitbucket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

const defaultBaseURL = "https://api.bitbucket.org/2.0"

// Config holds the Bitbucket endpoint and app-password credentials.
type Config struct {
	Username    string
	AppPassword string
	BaseURL     string
}

// Client is the Bitbucket platform client.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu       sync.RWMutex
	observer func(platform.Quota)
}

var (
	_ platform.ConditionalClient = (*Client)(nil)
	_ platform.QuotaReporter     = (*Client)(nil)
)

// New creates a Bitbucket client. A nil httpClient uses one with a 30s
// timeout.
func New(cfg Config, httpClient *http.Client) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.AppPassword,
		http:     httpClient,
	}
}

// Platform returns model.Bitbucket.
func (c *Client) Platform() model.Platform { return model.Bitbucket }

// Capabilities lists the filters expressible in BBQL.
func (c *Client) Capabilities() filter.Capabilities { return capabilities }

// SetQuotaObserver registers fn to receive rate-limit headers.
func (c *Client) SetQuotaObserver(fn func(platform.Quota)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

type repositoryPage struct {
	Values []repository `json:"values"`
	Next   string       `json:"next"`
}

// Search runs one page of /repositories. The cursor is the absolute next
// link returned by the previous page.
func (c *Client) Search(ctx context.Context, req platform.SearchRequest) (*platform.Page, error) {
	endpoint := req.Cursor
	if endpoint == "" {
		endpoint = c.baseURL + "/repositories?" + searchParams(req).Encode()
	} else if !strings.HasPrefix(endpoint, c.baseURL+"/") {
		return nil, platform.NewError(model.Bitbucket, "search", platform.KindUnknown, fmt.Errorf("cursor %q is not a %s link", endpoint, c.baseURL))
	}

	var page repositoryPage
	if _, err := c.get(ctx, "search", endpoint, "", &page); err != nil {
		return nil, err
	}

	out := &platform.Page{Repositories: make([]model.Repository, 0, len(page.Values)), Next: page.Next}
	for i := range page.Values {
		out.Repositories = append(out.Repositories, page.Values[i].toRepository())
	}
	return out, nil
}

// GetDetails fetches a single repository by workspace and slug.
func (c *Client) GetDetails(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, _, err := c.GetDetailsConditional(ctx, owner, name, "")
	return repo, err
}

// GetDetailsConditional fetches a repository with If-None-Match.
func (c *Client) GetDetailsConditional(ctx context.Context, owner, name, validator string) (*model.Repository, string, error) {
	var r repository
	resp, err := c.get(ctx, "get", c.repoURL(owner, name), validator, &r)
	if errors.Is(err, platform.ErrNotModified) {
		return nil, validator, err
	}
	if err != nil {
		return nil, "", err
	}
	repo := r.toRepository()
	return &repo, resp.Header.Get("ETag"), nil
}

// FetchReadme returns README.md from the main branch.
func (c *Client) FetchReadme(ctx context.Context, owner, name string) (string, error) {
	req, err := c.newRequest(ctx, c.repoURL(owner, name)+"/src/HEAD/README.md", "")
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", platform.WrapTransport(model.Bitbucket, "readme", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	c.report(resp.Header)

	if err := platform.CheckResponse(model.Bitbucket, "readme", resp); err != nil {
		return "", err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", platform.WrapTransport(model.Bitbucket, "readme", fmt.Errorf("reading readme: %w", err))
	}
	return string(body), nil
}

func (c *Client) repoURL(owner, name string) string {
	return c.baseURL + "/repositories/" + url.PathEscape(owner) + "/" + url.PathEscape(name)
}

func (c *Client) newRequest(ctx context.Context, endpoint, validator string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating bitbucket request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, op, endpoint, validator string, out any) (*http.Response, error) {
	req, err := c.newRequest(ctx, endpoint, validator)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, platform.WrapTransport(model.Bitbucket, op, err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	c.report(resp.Header)

	if err := platform.CheckResponse(model.Bitbucket, op, resp); err != nil {
		return resp, err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp, platform.WrapTransport(model.Bitbucket, op, fmt.Errorf("decoding bitbucket response: %w", err))
	}
	return resp, nil
}

func (c *Client) report(h http.Header) {
	q, ok := platform.ParseQuota(h, time.Now())
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

func searchParams(req platform.SearchRequest) url.Values {
	q := url.Values{}
	if bbql := buildQuery(req.Text, req.Native); bbql != "" {
		q.Set("q", bbql)
	}
	switch req.Sort {
	case model.SortUpdated:
		q.Set("sort", "-updated_on")
	case model.SortCreated:
		q.Set("sort", "-created_on")
	}
	perPage := req.PerPage
	if perPage <= 0 || perPage > platform.MaxPerPage {
		perPage = platform.MaxPerPage
	}
	q.Set("pagelen", strconv.Itoa(perPage))
	return q
}
