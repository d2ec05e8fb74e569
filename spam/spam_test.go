package spam

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testTime() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

// n posts evenly spread, newest first, covering span
func posts(now time.Time, n int, span time.Duration) []time.Time {
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		var off time.Duration
		if n > 1 {
			off = span * time.Duration(i) / time.Duration(n-1)
		}
		out[i] = now.Add(-off)
	}
	return out
}

func TestBurstRule(t *testing.T) {
	assert := assert.New(t)
	now := testTime()

	v := Detect(Activity{PostCount: 10, Karma: 100, RecentPosts: posts(now, 10, 45*time.Minute)})
	assert.True(v.IsSpam)
	assert.Equal("10 posts in less than 1 hour", v.Reason)

	v = Detect(Activity{PostCount: 9, Karma: 100, RecentPosts: posts(now, 9, 10*time.Minute)})
	assert.False(v.IsSpam)
	assert.Empty(v.Reason)

	v = Detect(Activity{PostCount: 10, Karma: 100, RecentPosts: posts(now, 10, 2*time.Hour)})
	assert.False(v.IsSpam)

	// only the ten most recent matter, even when supplied oldest-first
	list := posts(now, 12, 55*time.Minute)
	list = append(list, now.Add(-10*time.Hour))
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
	v = Detect(Activity{PostCount: 13, Karma: 100, RecentPosts: list})
	assert.True(v.IsSpam)
}

func TestRatioRule(t *testing.T) {
	assert := assert.New(t)

	v := Detect(Activity{PostCount: 11, CommentCount: 10, Karma: 2})
	assert.True(v.IsSpam)
	assert.Equal("very low karma ratio (< 10%)", v.Reason)

	// 21 actions, karma 3 is over 2.1
	assert.False(Detect(Activity{PostCount: 11, CommentCount: 10, Karma: 3}).IsSpam)
	// not busy enough to judge
	assert.False(Detect(Activity{PostCount: 10, CommentCount: 10, Karma: -50}).IsSpam)
}

func TestBurstWinsOverRatio(t *testing.T) {
	now := testTime()
	v := Detect(Activity{PostCount: 30, CommentCount: 30, Karma: 0, RecentPosts: posts(now, 10, time.Minute)})
	assert.True(t, v.IsSpam)
	assert.Equal(t, "10 posts in less than 1 hour", v.Reason)
}

func TestDetectWith(t *testing.T) {
	never := func(a *Activity) (string, bool) { return "", false }
	always := func(a *Activity) (string, bool) { return "custom", true }

	assert.False(t, DetectWith(Activity{}, []Rule{never}).IsSpam)
	assert.Equal(t, Verdict{IsSpam: true, Reason: "custom"}, DetectWith(Activity{}, []Rule{never, always}))
}
