package model

import (
	"math"
	"time"
)

// HealthStatus buckets a health score.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthModerate HealthStatus = "moderate"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// MaintenanceLevel describes how recently a repository saw a push.
type MaintenanceLevel string

const (
	MaintenanceActive     MaintenanceLevel = "active"
	MaintenanceMaintained MaintenanceLevel = "maintained"
	MaintenanceStale      MaintenanceLevel = "stale"
	MaintenanceInactive   MaintenanceLevel = "inactive"
	MaintenanceAbandoned  MaintenanceLevel = "abandoned"
)

// Health is a 0-100 score derived from repository metadata. Each component
// is capped at its own maximum: activity 30, community 25,
// responsiveness 20, maturity 15 and documentation 10.
type Health struct {
	Score          int              `json:"score"`
	Status         HealthStatus     `json:"status"`
	Maintenance    MaintenanceLevel `json:"maintenance"`
	Activity       int              `json:"activity"`
	Community      int              `json:"community"`
	Responsiveness int              `json:"responsiveness"`
	Maturity       int              `json:"maturity"`
	Documentation  int              `json:"documentation"`
}

// Health scores the repository as of now. Archived repositories always
// score zero.
func (r *Repository) Health(now time.Time) Health {
	if r.Archived {
		return Health{Status: HealthCritical, Maintenance: MaintenanceAbandoned}
	}
	sincePush := daysSince(now, r.PushedAt)
	h := Health{
		Activity:       activityScore(sincePush),
		Community:      communityScore(r.Stars, r.Forks, r.Watchers),
		Responsiveness: responsivenessScore(r.Stars, r.OpenIssues),
		Maturity:       maturityScore(daysSince(now, r.CreatedAt)),
		Documentation:  documentationScore(r.Description, len(r.Topics)),
		Maintenance:    maintenanceLevel(sincePush),
	}
	h.Score = h.Activity + h.Community + h.Responsiveness + h.Maturity + h.Documentation
	h.Status = healthStatus(h.Score)
	return h
}

// daysSince returns whole days between t and now. An unknown time counts
// as infinitely old; a time in the future counts as today.
func daysSince(now, t time.Time) int {
	if t.IsZero() {
		return math.MaxInt
	}
	d := int(now.Sub(t).Hours() / 24)
	return max(d, 0)
}

func activityScore(days int) int {
	switch {
	case days <= 7:
		return 30
	case days <= 30:
		return 25
	case days <= 90:
		return 20
	case days <= 180:
		return 15
	case days <= 365:
		return 10
	case days <= 730:
		return 5
	default:
		return 0
	}
}

func communityScore(stars, forks, watchers int) int {
	var s int
	switch {
	case stars < 10:
		s = 0
	case stars < 50:
		s = 5
	case stars < 200:
		s = 10
	case stars < 1000:
		s = 15
	case stars < 5000:
		s = 20
	default:
		s = 25
	}
	if forks > 10 {
		s += 2
	}
	if watchers > 10 {
		s += 2
	}
	return min(s, 25)
}

// responsivenessScore rates open issues relative to popularity. Small
// projects get a neutral score since the ratio is noise there.
func responsivenessScore(stars, openIssues int) int {
	if stars < 10 {
		return 15
	}
	ratio := float64(openIssues) / float64(stars)
	switch {
	case ratio < 0.01:
		return 20
	case ratio < 0.05:
		return 17
	case ratio < 0.10:
		return 14
	case ratio < 0.20:
		return 11
	case ratio < 0.30:
		return 8
	default:
		return 5
	}
}

func maturityScore(days int) int {
	switch {
	case days == math.MaxInt:
		return 0
	case days <= 30:
		return 3
	case days <= 90:
		return 5
	case days <= 180:
		return 8
	case days <= 365:
		return 11
	case days <= 730:
		return 13
	default:
		return 15
	}
}

func documentationScore(description string, topics int) int {
	var s int
	if description != "" {
		s += 5
	}
	switch {
	case topics == 0:
	case topics <= 2:
		s += 2
	case topics <= 5:
		s += 3
	default:
		s += 5
	}
	return min(s, 10)
}

func maintenanceLevel(days int) MaintenanceLevel {
	switch {
	case days <= 30:
		return MaintenanceActive
	case days <= 90:
		return MaintenanceMaintained
	case days <= 180:
		return MaintenanceStale
	case days <= 365:
		return MaintenanceInactive
	default:
		return MaintenanceAbandoned
	}
}

func healthStatus(score int) HealthStatus {
	switch {
	case score >= 80:
		return HealthHealthy
	case score >= 60:
		return HealthModerate
	case score >= 40:
		return HealthWarning
	default:
		return HealthCritical
	}
}
