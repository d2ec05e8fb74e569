package reputation

import (
	"time"
)

// thresholds an agent must meet to leave probation
const (
	ProbationPeriod      = 7 * 24 * time.Hour
	ProbationMinKarma    = 50
	ProbationMinPosts    = 3
	ProbationMinComments = 5
)

type ProbationStats struct {
	Karma        int
	PostCount    int
	CommentCount int
	CreatedAt    time.Time
}

type Eligibility struct {
	Eligible bool   `json:"eligible"`
	Reason   string `json:"reason,omitempty"`
}

// CanExitProbation checks tenure, karma, posts and comments, in that order,
// and reports only the first unmet condition.
func CanExitProbation(a ProbationStats, now time.Time) Eligibility {
	if now.Sub(a.CreatedAt) < ProbationPeriod {
		return Eligibility{Reason: "must complete 7-day probation period"}
	}
	if a.Karma < ProbationMinKarma {
		return Eligibility{Reason: "must reach 50 karma"}
	}
	if a.PostCount < ProbationMinPosts {
		return Eligibility{Reason: "must make at least 3 posts"}
	}
	if a.CommentCount < ProbationMinComments {
		return Eligibility{Reason: "must make at least 5 comments"}
	}
	return Eligibility{Eligible: true}
}
