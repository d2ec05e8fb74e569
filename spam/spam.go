// Package spam flags agents whose recent activity looks automated or abusive.
package spam

import (
	"sort"
	"time"
)

const (
	burstPosts  = 10
	burstWindow = time.Hour

	ratioMinActions = 20
	ratioMinKarma   = 0.1
)

type Activity struct {
	PostCount    int
	CommentCount int
	Karma        int
	// creation times of the agent's recent posts, any order
	RecentPosts []time.Time
}

type Verdict struct {
	IsSpam bool   `json:"isSpam"`
	Reason string `json:"reason,omitempty"`
}

// Rule inspects an activity snapshot and returns a reason if it matches.
type Rule = func(a *Activity) (string, bool)

// DefaultRules is evaluated in order; first match wins.
var DefaultRules = []Rule{
	BurstPostingRule,
	LowKarmaRatioRule,
}

func Detect(a Activity) Verdict {
	return DetectWith(a, DefaultRules)
}

func DetectWith(a Activity, rules []Rule) Verdict {
	for _, r := range rules {
		if reason, hit := r(&a); hit {
			return Verdict{IsSpam: true, Reason: reason}
		}
	}
	return Verdict{}
}

// BurstPostingRule matches when the ten most recent posts landed within an hour.
func BurstPostingRule(a *Activity) (string, bool) {
	if len(a.RecentPosts) < burstPosts {
		return "", false
	}
	posts := make([]time.Time, len(a.RecentPosts))
	copy(posts, a.RecentPosts)
	sort.Slice(posts, func(i, j int) bool { return posts[i].After(posts[j]) })

	span := posts[0].Sub(posts[burstPosts-1])
	if span < burstWindow {
		return "10 posts in less than 1 hour", true
	}
	return "", false
}

// LowKarmaRatioRule matches busy agents whose karma is under a tenth of their
// total posts and comments.
func LowKarmaRatioRule(a *Activity) (string, bool) {
	total := a.PostCount + a.CommentCount
	if total > ratioMinActions && float64(a.Karma) < float64(total)*ratioMinKarma {
		return "very low karma ratio (< 10%)", true
	}
	return "", false
}
