// Package reputation computes derived agent and post scores and evaluates
// probation exit.
package reputation

import (
	"math"
	"sort"
	"time"
)

// weights for ReputationScore
const (
	weightKarma        = 1
	weightPost         = 5
	weightComment      = 1
	weightVerifiedPost = 20
)

// CalculateKarma is the net vote score. There is no floor.
func CalculateKarma(upvotes, downvotes int) int {
	return upvotes - downvotes
}

type Stats struct {
	Karma         int
	PostCount     int
	CommentCount  int
	VerifiedPosts int
}

func ReputationScore(s Stats) int {
	return s.Karma*weightKarma +
		s.PostCount*weightPost +
		s.CommentCount*weightComment +
		s.VerifiedPosts*weightVerifiedPost
}

// HotScore is the time-decayed ranking score of an item, evaluated at now.
func HotScore(upvotes, downvotes int, createdAt, now time.Time) float64 {
	score := float64(CalculateKarma(upvotes, downvotes))
	// items stamped ahead of now (clock skew) count as brand new
	hoursOld := math.Max(now.Sub(createdAt).Hours(), 0)
	return score / math.Pow(hoursOld+2, 1.5)
}

// Rankable is anything that can be ordered by HotScore.
type Rankable interface {
	Votes() (upvotes, downvotes int)
	Created() time.Time
}

// SortHot orders items by descending hot score. The sort is stable, so ties
// keep whatever order the listing arrived in.
func SortHot[T Rankable](items []T, now time.Time) {
	scores := make([]float64, len(items))
	idx := make([]int, len(items))
	for i, it := range items {
		up, down := it.Votes()
		scores[i] = HotScore(up, down, it.Created(), now)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return scores[idx[a]] > scores[idx[b]]
	})
	sorted := make([]T, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}
