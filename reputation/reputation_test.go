package reputation

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testTime() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func TestCalculateKarma(t *testing.T) {
	assert := assert.New(t)

	for up := 0; up < 20; up += 3 {
		for down := 0; down < 20; down += 4 {
			assert.Equal(up-down, CalculateKarma(up, down))
		}
	}
	assert.Equal(-7, CalculateKarma(0, 7))
}

func TestReputationScore(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(0, ReputationScore(Stats{}))
	assert.Equal(10+15+4+40, ReputationScore(Stats{Karma: 10, PostCount: 3, CommentCount: 4, VerifiedPosts: 2}))
	assert.Equal(-5, ReputationScore(Stats{Karma: -5}))
}

func TestCanExitProbation(t *testing.T) {
	assert := assert.New(t)
	now := testTime()
	days := func(d float64) time.Time {
		return now.Add(-time.Duration(d * float64(24*time.Hour)))
	}

	ok := ProbationStats{Karma: 50, PostCount: 3, CommentCount: 5, CreatedAt: days(7)}
	assert.Equal(Eligibility{Eligible: true}, CanExitProbation(ok, now))

	young := ok
	young.CreatedAt = days(6.99)
	res := CanExitProbation(young, now)
	assert.False(res.Eligible)
	assert.Contains(res.Reason, "7-day probation")

	// every condition fails: only the tenure reason surfaces
	none := ProbationStats{CreatedAt: now}
	assert.Contains(CanExitProbation(none, now).Reason, "7-day")

	tests := []struct {
		mod    func(*ProbationStats)
		reason string
	}{
		{func(s *ProbationStats) { s.Karma = 49 }, "must reach 50 karma"},
		{func(s *ProbationStats) { s.Karma = 49; s.PostCount = 0 }, "must reach 50 karma"},
		{func(s *ProbationStats) { s.PostCount = 2 }, "must make at least 3 posts"},
		{func(s *ProbationStats) { s.PostCount = 2; s.CommentCount = 0 }, "must make at least 3 posts"},
		{func(s *ProbationStats) { s.CommentCount = 4 }, "must make at least 5 comments"},
	}
	for _, tc := range tests {
		s := ok
		tc.mod(&s)
		res := CanExitProbation(s, now)
		assert.False(res.Eligible)
		assert.Equal(tc.reason, res.Reason)
	}
}

func TestHotScore(t *testing.T) {
	assert := assert.New(t)
	now := testTime()

	assert.InDelta(10/math.Pow(2, 1.5), HotScore(12, 2, now, now), 1e-9)
	assert.InDelta(10/math.Pow(12, 1.5), HotScore(12, 2, now.Add(-10*time.Hour), now), 1e-9)
	assert.Less(HotScore(0, 3, now, now), 0.0)
	assert.Equal(0.0, HotScore(4, 4, now.Add(-time.Hour), now))

	future := HotScore(5, 0, now.Add(3*time.Hour), now)
	assert.False(math.IsNaN(future))
	assert.InDelta(HotScore(5, 0, now, now), future, 1e-9)
}

type item struct {
	name     string
	up, down int
	at       time.Time
}

func (i item) Votes() (int, int)  { return i.up, i.down }
func (i item) Created() time.Time { return i.at }

func TestSortHot(t *testing.T) {
	assert := assert.New(t)
	now := testTime()

	items := []item{
		{"tie-newer", 0, 0, now.Add(-time.Hour)},
		{"old-popular", 100, 0, now.Add(-48 * time.Hour)},
		{"tie-older", 0, 0, now.Add(-2 * time.Hour)},
		{"fresh", 5, 0, now},
		{"buried", 0, 9, now},
	}
	SortHot(items, now)

	var names []string
	for _, it := range items {
		names = append(names, it.name)
	}
	assert.Equal([]string{"fresh", "old-popular", "tie-newer", "tie-older", "buried"}, names)
}
