package search

import (
	"sort"
	"strings"

	"github.com/jacklau/reposcout/internal/model"
)

var mirrorSuffixes = []string{"-mirror", "_mirror", ".mirror"}

// mirrorName normalizes owner/name for cross-platform matching: lower case,
// without a trailing .git or mirror suffix.
func mirrorName(owner, name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimSuffix(n, ".git")
	for _, s := range mirrorSuffixes {
		n = strings.TrimSuffix(n, s)
	}
	return strings.ToLower(strings.TrimSpace(owner)) + "/" + n
}

// prefer reports whether a should be kept over b when both describe the
// same logical repository.
func prefer(a, b *model.Repository, prio priority) bool {
	if ca, cb := a.Completeness(), b.Completeness(); ca != cb {
		return ca > cb
	}
	if a.Stars != b.Stars {
		return a.Stars > b.Stars
	}
	if pa, pb := prio.rank(a.Platform), prio.rank(b.Platform); pa != pb {
		return pa < pb
	}
	return a.Key() < b.Key()
}

// dedup merges entries describing the same logical repository. Entries
// sharing an identity key always merge. Entries on different platforms
// merge when their mirror-normalized owner/name match; two distinct
// repositories on the same platform never merge. The output has unique
// identity keys and keeps the input order of the surviving entries.
func dedup(repos []model.Repository, prio priority) []model.Repository {
	// Exact identity first.
	byKey := make(map[string]int, len(repos))
	var unique []model.Repository
	var firstSeen []int
	for i := range repos {
		k := repos[i].Key()
		if j, ok := byKey[k]; ok {
			if prefer(&repos[i], &unique[j], prio) {
				unique[j] = repos[i]
			}
			continue
		}
		byKey[k] = len(unique)
		unique = append(unique, repos[i])
		firstSeen = append(firstSeen, i)
	}

	// Visit candidates best-first so every cluster is seeded by its winner
	// and the grouping does not depend on input order.
	order := make([]int, len(unique))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(x, y int) bool {
		return prefer(&unique[order[x]], &unique[order[y]], prio)
	})

	type cluster struct {
		winner    int
		platforms map[model.Platform]bool
	}
	clusters := make(map[string][]*cluster)
	var kept []int
	for _, idx := range order {
		r := &unique[idx]
		name := mirrorName(r.Owner, r.Name)
		joined := false
		for _, c := range clusters[name] {
			if !c.platforms[r.Platform] {
				c.platforms[r.Platform] = true
				joined = true
				break
			}
		}
		if !joined {
			clusters[name] = append(clusters[name], &cluster{winner: idx, platforms: map[model.Platform]bool{r.Platform: true}})
			kept = append(kept, idx)
		}
	}

	sort.Slice(kept, func(x, y int) bool { return firstSeen[kept[x]] < firstSeen[kept[y]] })
	out := make([]model.Repository, len(kept))
	for i, idx := range kept {
		out[i] = unique[idx]
	}
	return out
}
