// Package gitlab implements the GitLab platform client on the official
// client-go SDK.
package gitlab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gl "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
	"github.com/jacklau/reposcout/internal/platform"
)

const defaultBaseURL = "https://gitlab.com/api/v4"

// Config holds the GitLab endpoint and credentials.
type Config struct {
	// Token is a personal or project access token sent as PRIVATE-TOKEN.
	Token   string
	BaseURL string
}

// Client is the GitLab platform client.
type Client struct {
	gl *gl.Client

	mu       sync.RWMutex
	observer func(platform.Quota)
}

var (
	_ platform.ConditionalClient = (*Client)(nil)
	_ platform.QuotaReporter     = (*Client)(nil)
)

// New creates a GitLab client. A nil httpClient uses one with a 30s timeout.
// The SDK's own retries and rate limiter are disabled: pacing and retry
// belong to the governor wrapping this client.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	client, err := gl.NewClient(cfg.Token,
		gl.WithBaseURL(base),
		gl.WithHTTPClient(httpClient),
		gl.WithoutRetries(),
		gl.WithCustomLimiter(rate.NewLimiter(rate.Inf, 0)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating gitlab client: %w", err)
	}
	return &Client{gl: client}, nil
}

// Platform returns model.GitLab.
func (c *Client) Platform() model.Platform { return model.GitLab }

// Capabilities lists the filters expressible as /projects parameters.
func (c *Client) Capabilities() filter.Capabilities { return capabilities }

// SetQuotaObserver registers fn to receive RateLimit-* headers.
func (c *Client) SetQuotaObserver(fn func(platform.Quota)) {
	c.mu.Lock()
	c.observer = fn
	c.mu.Unlock()
}

// Search lists one page of /projects matching the request.
func (c *Client) Search(ctx context.Context, req platform.SearchRequest) (*platform.Page, error) {
	opts, err := listOptions(req)
	if err != nil {
		return nil, platform.NewError(model.GitLab, "search", platform.KindUnknown, err)
	}

	projects, resp, err := c.gl.Projects.ListProjects(opts, gl.WithContext(ctx))
	c.report(resp)
	if err != nil {
		return nil, classifyError("search", resp, err)
	}

	page := &platform.Page{Repositories: make([]model.Repository, 0, len(projects))}
	for _, p := range projects {
		page.Repositories = append(page.Repositories, convertProject(p))
	}
	if resp.NextPage > 0 {
		page.Next = strconv.Itoa(resp.NextPage)
	}
	return page, nil
}

// GetDetails fetches a single project by its full path.
func (c *Client) GetDetails(ctx context.Context, owner, name string) (*model.Repository, error) {
	repo, _, err := c.GetDetailsConditional(ctx, owner, name, "")
	return repo, err
}

// GetDetailsConditional fetches a project with If-None-Match.
func (c *Client) GetDetailsConditional(ctx context.Context, owner, name, validator string) (*model.Repository, string, error) {
	reqOpts := []gl.RequestOptionFunc{gl.WithContext(ctx)}
	if validator != "" {
		reqOpts = append(reqOpts, gl.WithHeader("If-None-Match", validator))
	}

	p, resp, err := c.gl.Projects.GetProject(owner+"/"+name, &gl.GetProjectOptions{
		License:    gl.Ptr(true),
		Statistics: gl.Ptr(true),
	}, reqOpts...)
	c.report(resp)
	if resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotModified {
		return nil, validator, platform.ErrNotModified
	}
	if err != nil {
		return nil, "", classifyError("get", resp, err)
	}

	repo := convertProject(p)
	return &repo, resp.Header.Get("ETag"), nil
}

// FetchReadme returns README.md from the default branch.
func (c *Client) FetchReadme(ctx context.Context, owner, name string) (string, error) {
	raw, resp, err := c.gl.RepositoryFiles.GetRawFile(owner+"/"+name, "README.md",
		&gl.GetRawFileOptions{Ref: gl.Ptr("HEAD")}, gl.WithContext(ctx))
	c.report(resp)
	if err != nil {
		return "", classifyError("readme", resp, err)
	}
	return string(raw), nil
}

func (c *Client) report(resp *gl.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	q, ok := platform.ParseQuota(resp.Header, time.Now())
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

// classifyError maps client-go errors onto the platform taxonomy. Requests
// that never got a response are transport failures.
func classifyError(op string, resp *gl.Response, err error) error {
	e := &platform.Error{Platform: model.GitLab, Op: op, Err: err}

	var httpResp *http.Response
	var er *gl.ErrorResponse
	switch {
	case errors.As(err, &er) && er.Response != nil:
		httpResp = er.Response
	case resp != nil && resp.Response != nil:
		httpResp = resp.Response
	}
	if httpResp == nil {
		e.Kind = platform.KindOf(err)
		if e.Kind == platform.KindUnknown {
			e.Kind = platform.KindTransient
		}
		return e
	}

	e.StatusCode = httpResp.StatusCode
	e.Kind = platform.KindForStatus(httpResp.StatusCode, httpResp.Header)
	if e.Kind == platform.KindRateLimit {
		e.RetryAfter = platform.ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now())
	}
	return e
}

func listOptions(req platform.SearchRequest) (*gl.ListProjectsOptions, error) {
	perPage := req.PerPage
	if perPage <= 0 || perPage > platform.MaxPerPage {
		perPage = platform.MaxPerPage
	}
	opts := &gl.ListProjectsOptions{ListOptions: gl.ListOptions{PerPage: perPage}}

	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid cursor %q", req.Cursor)
		}
		opts.ListOptions.Page = n
	}
	if text := strings.TrimSpace(req.Text); text != "" {
		opts.Search = gl.Ptr(text)
	}
	if ob := orderBy(req.Sort); ob != "" {
		opts.OrderBy = gl.Ptr(ob)
		opts.Sort = gl.Ptr("desc")
	}
	applyNative(opts, req.Native)
	return opts, nil
}

func orderBy(s model.SortOrder) string {
	switch s {
	case model.SortStars:
		return "star_count"
	case model.SortUpdated:
		return "last_activity_at"
	case model.SortCreated:
		return "created_at"
	}
	return ""
}
