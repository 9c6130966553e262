package gitlab

import (
	gl "gitlab.com/gitlab-org/api/client-go"

	"github.com/jacklau/reposcout/internal/model"
)

// convertProject normalizes a project. GitLab has no separate push time, so
// last activity stands in for both update and push. Repository size arrives
// in bytes and is stored in KB like the other platforms.
func convertProject(p *gl.Project) model.Repository {
	var owner, name string
	if p.Namespace != nil {
		owner = p.Namespace.FullPath
	}
	name = p.Path
	if owner == "" || name == "" {
		if o, n, err := model.ParseFullName(p.PathWithNamespace); err == nil {
			owner, name = o, n
		}
	}

	r := model.Repository{
		Platform:      model.GitLab,
		Owner:         owner,
		Name:          name,
		Description:   p.Description,
		URL:           p.WebURL,
		Stars:         p.StarCount,
		Forks:         p.ForksCount,
		OpenIssues:    p.OpenIssuesCount,
		Topics:        p.Topics,
		DefaultBranch: p.DefaultBranch,
		Archived:      p.Archived,
		Visibility:    string(p.Visibility),
	}
	if p.CreatedAt != nil {
		r.CreatedAt = *p.CreatedAt
	}
	if p.LastActivityAt != nil {
		r.UpdatedAt = *p.LastActivityAt
		r.PushedAt = *p.LastActivityAt
	}
	if p.License != nil {
		r.License = p.License.Key
	}
	if p.Statistics != nil {
		r.Size = p.Statistics.RepositorySize / 1024
	}
	r.Normalize()
	return r
}
