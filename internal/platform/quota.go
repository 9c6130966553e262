package platform

import (
	"net/http"
	"strconv"
	"time"
)

// quotaHeaderSets lists the rate-limit header families in use: GitHub's
// X-RateLimit-* and the IETF draft RateLimit-* that GitLab sends.
var quotaHeaderSets = [][3]string{
	{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
	{"RateLimit-Limit", "RateLimit-Remaining", "RateLimit-Reset"},
}

// ParseQuota extracts rate-limit state from response headers. It returns
// false unless a header family carries a numeric remaining count: a reset
// time alone says nothing about whether the quota is spent. Reset values are
// unix seconds; small values are treated as a delta from now.
func ParseQuota(h http.Header, now time.Time) (Quota, bool) {
	for _, set := range quotaHeaderSets {
		remaining, err := strconv.Atoi(h.Get(set[1]))
		if err != nil {
			continue
		}

		q := Quota{Observed: now, Remaining: remaining}
		if n, err := strconv.Atoi(h.Get(set[0])); err == nil {
			q.Limit = n
		}
		if n, err := strconv.ParseInt(h.Get(set[2]), 10, 64); err == nil {
			if n < 1_000_000_000 {
				q.Reset = now.Add(time.Duration(n) * time.Second)
			} else {
				q.Reset = time.Unix(n, 0)
			}
		}
		return q, true
	}
	return Quota{}, false
}
