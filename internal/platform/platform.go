package platform

import (
	"context"
	"time"

	"github.com/jacklau/reposcout/internal/filter"
	"github.com/jacklau/reposcout/internal/model"
)

// MaxPerPage is the largest page size any supported platform accepts.
const MaxPerPage = 100

// SearchRequest is one page request against a single platform.
type SearchRequest struct {
	// Text is the free-text search term.
	Text string
	// Native holds the filter atoms the platform declared it can evaluate.
	Native []filter.Atom
	Sort   model.SortOrder
	// Cursor is the opaque continuation returned in Page.Next. Empty means
	// the first page.
	Cursor  string
	PerPage int
}

// Page is one page of normalized results.
type Page struct {
	Repositories []model.Repository
	// Next is the cursor for the following page, empty at the end.
	Next string
}

// Client translates canonical requests into one platform's wire calls and
// normalizes the responses. Implementations never retry, sleep or cache;
// failures are returned as *Error so the governor can classify them.
type Client interface {
	Platform() model.Platform
	Capabilities() filter.Capabilities
	Search(ctx context.Context, req SearchRequest) (*Page, error)
	GetDetails(ctx context.Context, owner, name string) (*model.Repository, error)
	FetchReadme(ctx context.Context, owner, name string) (string, error)
}

// ConditionalClient is implemented by clients that support validator-based
// conditional fetches. When validator is non-empty and the resource has not
// changed, the call returns ErrNotModified. The returned string is the new
// validator, possibly empty.
type ConditionalClient interface {
	Client
	GetDetailsConditional(ctx context.Context, owner, name, validator string) (*model.Repository, string, error)
}

// Quota is the rate-limit state a platform reported on its last response.
type Quota struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Observed  time.Time
}

// Exhausted reports whether no requests remain before Reset.
func (q Quota) Exhausted(now time.Time) bool {
	return q.Remaining <= 0 && !q.Reset.IsZero() && now.Before(q.Reset)
}

// QuotaReporter is implemented by clients that parse rate-limit headers.
// The observer is called after every response that carried quota headers.
type QuotaReporter interface {
	SetQuotaObserver(fn func(Quota))
}
