package model

import (
	"fmt"
	"strings"
	"time"
)

// Platform identifies a source-control hosting platform.
type Platform string

const (
	GitHub    Platform = "github"
	GitLab    Platform = "gitlab"
	Bitbucket Platform = "bitbucket"
)

// AllPlatforms lists every supported platform in default priority order.
var AllPlatforms = []Platform{GitHub, GitLab, Bitbucket}

// ParsePlatform converts a user-supplied name into a Platform.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "github", "gh":
		return GitHub, nil
	case "gitlab", "gl":
		return GitLab, nil
	case "bitbucket", "bb":
		return Bitbucket, nil
	default:
		return "", fmt.Errorf("unknown platform %q", s)
	}
}

// String returns the display name of the platform.
func (p Platform) String() string {
	switch p {
	case GitHub:
		return "GitHub"
	case GitLab:
		return "GitLab"
	case Bitbucket:
		return "Bitbucket"
	default:
		return string(p)
	}
}

// Visibility values normalized across platforms.
const (
	VisibilityPublic   = "public"
	VisibilityPrivate  = "private"
	VisibilityInternal = "internal"
)

// Repository is the canonical repository metadata shared by every platform.
type Repository struct {
	Platform      Platform  `json:"platform"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"url"`
	Homepage      string    `json:"homepage,omitempty"`
	Stars         int       `json:"stars"`
	Forks         int       `json:"forks"`
	Watchers      int       `json:"watchers"`
	OpenIssues    int       `json:"open_issues"`
	Language      string    `json:"language,omitempty"`
	Topics        []string  `json:"topics,omitempty"`
	License       string    `json:"license,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	PushedAt      time.Time `json:"pushed_at"`
	Size          int64     `json:"size"`
	DefaultBranch string    `json:"default_branch,omitempty"`
	Archived      bool      `json:"archived"`
	Visibility    string    `json:"visibility"`
}

// FullName returns "owner/name".
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Key returns the repository identity key.
func (r *Repository) Key() string {
	return IdentityKey(r.Platform, r.Owner, r.Name)
}

// Completeness counts populated metadata attributes. It is used to pick a
// winner when the same logical repository is returned by several platforms.
func (r *Repository) Completeness() int {
	n := 0
	for _, s := range []string{r.Description, r.URL, r.Homepage, r.Language, r.License, r.DefaultBranch, r.Visibility} {
		if s != "" {
			n++
		}
	}
	for _, v := range []int{r.Stars, r.Forks, r.Watchers, r.OpenIssues} {
		if v > 0 {
			n++
		}
	}
	for _, t := range []time.Time{r.CreatedAt, r.UpdatedAt, r.PushedAt} {
		if !t.IsZero() {
			n++
		}
	}
	if len(r.Topics) > 0 {
		n++
	}
	if r.Size > 0 {
		n++
	}
	return n
}

// Normalize brings a freshly fetched repository into canonical form: UTC
// timestamps, trimmed strings, lower-cased de-duplicated topics, and a
// known visibility value.
func (r *Repository) Normalize() {
	r.Owner = strings.TrimSpace(r.Owner)
	r.Name = strings.TrimSpace(r.Name)
	r.Description = strings.TrimSpace(r.Description)
	r.CreatedAt = utc(r.CreatedAt)
	r.UpdatedAt = utc(r.UpdatedAt)
	r.PushedAt = utc(r.PushedAt)
	if r.PushedAt.IsZero() {
		r.PushedAt = r.UpdatedAt
	}

	var topics []string
	seen := make(map[string]bool, len(r.Topics))
	for _, t := range r.Topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		topics = append(topics, t)
	}
	r.Topics = topics

	switch strings.ToLower(r.Visibility) {
	case VisibilityPrivate:
		r.Visibility = VisibilityPrivate
	case VisibilityInternal:
		r.Visibility = VisibilityInternal
	default:
		r.Visibility = VisibilityPublic
	}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC().Round(0)
}

// IdentityKey builds the unique (platform, owner/name) key, lower-cased.
func IdentityKey(p Platform, owner, name string) string {
	return strings.ToLower(string(p) + ":" + owner + "/" + name)
}

// ParseFullName splits "owner/name". Owners may contain nested groups
// (GitLab subgroups), so the split happens at the last slash.
func ParseFullName(fullName string) (owner, name string, err error) {
	fullName = strings.Trim(strings.TrimSpace(fullName), "/")
	idx := strings.LastIndex(fullName, "/")
	if idx <= 0 || idx == len(fullName)-1 {
		return "", "", fmt.Errorf("invalid repository name: expected owner/name, got %q", fullName)
	}
	return fullName[:idx], fullName[idx+1:], nil
}

// SortOrder controls how merged search results are ordered.
type SortOrder string

const (
	SortRelevance SortOrder = "relevance"
	SortStars     SortOrder = "stars"
	SortForks     SortOrder = "forks"
	SortUpdated   SortOrder = "updated"
	SortCreated   SortOrder = "created"
)

// ParseSortOrder validates a sort order name. Empty means relevance.
func ParseSortOrder(s string) (SortOrder, error) {
	switch SortOrder(strings.ToLower(s)) {
	case "", SortRelevance:
		return SortRelevance, nil
	case SortStars:
		return SortStars, nil
	case SortForks:
		return SortForks, nil
	case SortUpdated:
		return SortUpdated, nil
	case SortCreated:
		return SortCreated, nil
	default:
		return "", fmt.Errorf("unsupported sort order %q", s)
	}
}
