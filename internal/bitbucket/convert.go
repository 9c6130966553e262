package bitbucket

import (
	"time"

	"github.com/jacklau/reposcout/internal/model"
)

type repository struct {
	FullName    string    `json:"full_name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	IsPrivate   bool      `json:"is_private"`
	Language    string    `json:"language"`
	Website     string    `json:"website"`
	Size        int64     `json:"size"`
	CreatedOn   time.Time `json:"created_on"`
	UpdatedOn   time.Time `json:"updated_on"`
	Workspace   struct {
		Slug string `json:"slug"`
	} `json:"workspace"`
	MainBranch *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Links struct {
		HTML struct {
			Href string `json:"href"`
		} `json:"html"`
	} `json:"links"`
}

// toRepository normalizes a Bitbucket repository. Bitbucket reports no star
// or fork counts, and size in bytes.
func (r *repository) toRepository() model.Repository {
	owner, name := r.Workspace.Slug, r.Slug
	if owner == "" || name == "" {
		if o, n, err := model.ParseFullName(r.FullName); err == nil {
			owner, name = o, n
		}
	}
	visibility := model.VisibilityPublic
	if r.IsPrivate {
		visibility = model.VisibilityPrivate
	}

	out := model.Repository{
		Platform:    model.Bitbucket,
		Owner:       owner,
		Name:        name,
		Description: r.Description,
		URL:         r.Links.HTML.Href,
		Homepage:    r.Website,
		Language:    r.Language,
		CreatedAt:   r.CreatedOn,
		UpdatedAt:   r.UpdatedOn,
		Size:        r.Size / 1024,
		Visibility:  visibility,
	}
	if r.MainBranch != nil {
		out.DefaultBranch = r.MainBranch.Name
	}
	out.Normalize()
	return out
}
