package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/jacklau/reposcout/internal/model"
)

// Weights are the composite score coefficients.
type Weights struct {
	Popularity float64 `yaml:"popularity"`
	Relevance  float64 `yaml:"relevance"`
	Freshness  float64 `yaml:"freshness"`
	// Semantic scales the optional similarity score.
	Semantic float64 `yaml:"semantic"`
}

// DefaultWeights favors relevance and popularity equally.
func DefaultWeights() Weights {
	return Weights{Popularity: 0.4, Relevance: 0.4, Freshness: 0.2, Semantic: 0.3}
}

const (
	nameMatch        = 1.0
	topicMatch       = 0.75
	descriptionMatch = 0.5
)

// priority orders platforms for tie-breaks. Unlisted platforms sort last.
type priority []model.Platform

func (p priority) rank(pl model.Platform) int {
	for i, x := range p {
		if x == pl {
			return i
		}
	}
	return len(p)
}

type scored struct {
	repo  model.Repository
	score float64
}

// ranker scores and orders merged results.
type ranker struct {
	weights  Weights
	prio     priority
	halfLife time.Duration
	now      time.Time
}

// rank orders repos for the given sort. For relevance the composite score
// decides; otherwise the sort field does. Ties fall back to platform
// priority, then owner/name, so the output never depends on input order.
// similarity may be nil; when present it is indexed like repos.
func (rk ranker) rank(repos []model.Repository, text string, order model.SortOrder, similarity []float64) []model.Repository {
	items := make([]scored, len(repos))
	maxStars := 0
	for i := range repos {
		maxStars = max(maxStars, repos[i].Stars)
	}
	tokens := tokenize(text)
	for i := range repos {
		items[i] = scored{repo: repos[i]}
		if order != model.SortRelevance {
			continue
		}
		s := rk.weights.Popularity*popularity(repos[i].Stars, maxStars) +
			rk.weights.Relevance*relevance(&repos[i], tokens) +
			rk.weights.Freshness*freshness(&repos[i], rk.now, rk.halfLife)
		if similarity != nil {
			s += rk.weights.Semantic * similarity[i]
		}
		items[i].score = s
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := &items[i], &items[j]
		switch c := compareBy(order, a, b); {
		case c > 0:
			return true
		case c < 0:
			return false
		}
		if pa, pb := rk.prio.rank(a.repo.Platform), rk.prio.rank(b.repo.Platform); pa != pb {
			return pa < pb
		}
		na, nb := strings.ToLower(a.repo.FullName()), strings.ToLower(b.repo.FullName())
		if na != nb {
			return na < nb
		}
		return a.repo.Key() < b.repo.Key()
	})

	out := make([]model.Repository, len(items))
	for i := range items {
		out[i] = items[i].repo
	}
	return out
}

// compareBy returns a positive value when a ranks before b.
func compareBy(order model.SortOrder, a, b *scored) int {
	switch order {
	case model.SortStars:
		return a.repo.Stars - b.repo.Stars
	case model.SortForks:
		return a.repo.Forks - b.repo.Forks
	case model.SortUpdated:
		return a.repo.UpdatedAt.Compare(b.repo.UpdatedAt)
	case model.SortCreated:
		return a.repo.CreatedAt.Compare(b.repo.CreatedAt)
	}
	switch {
	case a.score > b.score:
		return 1
	case a.score < b.score:
		return -1
	}
	return 0
}

func popularity(stars, maxStars int) float64 {
	if maxStars <= 0 || stars <= 0 {
		return 0
	}
	return math.Log1p(float64(stars)) / math.Log1p(float64(maxStars))
}

// relevance averages, over the query tokens, the strongest place each token
// matched: the name, a topic, or the description.
func relevance(r *model.Repository, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	name := strings.ToLower(r.Name)
	desc := strings.ToLower(r.Description)
	total := 0.0
	for _, t := range tokens {
		switch {
		case strings.Contains(name, t):
			total += nameMatch
		case topicContains(r.Topics, t):
			total += topicMatch
		case strings.Contains(desc, t):
			total += descriptionMatch
		}
	}
	return total / float64(len(tokens))
}

func topicContains(topics []string, t string) bool {
	for _, topic := range topics {
		if strings.Contains(topic, t) {
			return true
		}
	}
	return false
}

// freshness halves every halfLife since the last push.
func freshness(r *model.Repository, now time.Time, halfLife time.Duration) float64 {
	last := r.PushedAt
	if last.IsZero() {
		last = r.UpdatedAt
	}
	if last.IsZero() || halfLife <= 0 {
		return 0
	}
	age := now.Sub(last)
	if age <= 0 {
		return 1
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(halfLife))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// paginate returns the 1-based page of repos.
func paginate(repos []model.Repository, page, perPage int) []model.Repository {
	start := (page - 1) * perPage
	if start >= len(repos) {
		return []model.Repository{}
	}
	end := min(start+perPage, len(repos))
	return repos[start:end]
}
