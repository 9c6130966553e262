package github

import (
	gogithub "github.com/google/go-github/v60/github"

	"github.com/jacklau/reposcout/internal/model"
)

// convertRepository normalizes a go-github repository. Size is in KB as
// GitHub reports it.
func convertRepository(r *gogithub.Repository) model.Repository {
	watchers := r.GetSubscribersCount()
	if watchers == 0 {
		watchers = r.GetWatchersCount()
	}
	visibility := r.GetVisibility()
	if visibility == "" && r.GetPrivate() {
		visibility = model.VisibilityPrivate
	}
	license := r.GetLicense().GetSPDXID()
	if license == "NOASSERTION" {
		license = r.GetLicense().GetName()
	}

	out := model.Repository{
		Platform:      model.GitHub,
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		Description:   r.GetDescription(),
		URL:           r.GetHTMLURL(),
		Homepage:      r.GetHomepage(),
		Stars:         r.GetStargazersCount(),
		Forks:         r.GetForksCount(),
		Watchers:      watchers,
		OpenIssues:    r.GetOpenIssuesCount(),
		Language:      r.GetLanguage(),
		Topics:        r.Topics,
		License:       license,
		CreatedAt:     r.GetCreatedAt().Time,
		UpdatedAt:     r.GetUpdatedAt().Time,
		PushedAt:      r.GetPushedAt().Time,
		Size:          int64(r.GetSize()),
		DefaultBranch: r.GetDefaultBranch(),
		Archived:      r.GetArchived(),
		Visibility:    visibility,
	}
	out.Normalize()
	return out
}
