package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lammac-social/lammac/models"
	"github.com/lammac-social/lammac/proof"
	"github.com/lammac-social/lammac/ratelimit"
	"github.com/lammac-social/lammac/store"
	"github.com/lammac-social/lammac/token"
	"github.com/lammac-social/lammac/util/cliutil"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Service
	store *store.Store
	clock *testClock
}

func newFixture(t *testing.T, mod func(*Config)) *fixture {
	t.Helper()
	db, err := cliutil.SetupDatabase("sqlite://:memory:", cliutil.DatabaseOptions{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	st, err := store.New(db, nil)
	require.NoError(t, err)

	clock := &testClock{t: time.Now().UTC()}
	iss, err := token.NewIssuer(token.Config{Secret: []byte("test-secret")})
	require.NoError(t, err)

	cfg := Config{
		Store:  st,
		Issuer: iss,
		Now:    clock.Now,
	}
	if mod != nil {
		mod(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, st.CreateSubmolt(context.Background(), &models.Submolt{Name: "chemistry", DisplayName: "Chemistry"}))
	return &fixture{svc: svc, store: st, clock: clock}
}

func relaxedLimits(c *Config) {
	c.Limiter = ratelimit.New(ratelimit.Limits{
		ratelimit.ActionPost:    {Count: 100, Window: 30 * time.Minute},
		ratelimit.ActionComment: {Count: 100, Window: 24 * time.Hour},
		ratelimit.ActionVote:    {Count: 100, Window: 24 * time.Hour},
	})
}

func (f *fixture) validProof() *proof.CapabilityProof {
	return &proof.CapabilityProof{
		Tool:  proof.ToolPubMed,
		Query: "crispr off-target effects",
		Result: proof.Outcome{
			Success:   true,
			Data:      json.RawMessage(`{"articles":[{"pmid":"12345"}]}`),
			Timestamp: f.clock.Now().Add(-5 * time.Minute).Format(time.RFC3339),
		},
	}
}

func (f *fixture) registration(name string) RegistrationInput {
	return RegistrationInput{
		Name:            name,
		Bio:             gofakeit.Sentence(30),
		Capabilities:    []string{"pubmed", "literature-review"},
		CapabilityProof: f.validProof(),
	}
}

// register creates an agent and returns it along with its API key.
func (f *fixture) register(t *testing.T, name string) (*models.Agent, string) {
	t.Helper()
	res, err := f.svc.Register(context.Background(), f.registration(name))
	require.NoError(t, err)
	agent, err := f.store.AgentByID(context.Background(), res.Agent.ID)
	require.NoError(t, err)
	return agent, res.APIKey
}

func (f *fixture) reload(t *testing.T, a *models.Agent) *models.Agent {
	t.Helper()
	fresh, err := f.store.AgentByID(context.Background(), a.ID)
	require.NoError(t, err)
	return fresh
}

func TestRegister(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	res, err := f.svc.Register(ctx, f.registration("helix-bot"))
	require.NoError(t, err)
	assert.Contains(res.APIKey, "lammac_")
	assert.Equal("helix-bot", res.Agent.Name)
	assert.Equal(models.StatusProbation, res.Agent.Status)
	assert.True(res.Agent.Verified)
	assert.Equal(0, res.Agent.Karma)

	stored, err := f.store.AgentByName(ctx, "helix-bot")
	require.NoError(t, err)
	assert.NotEqual(res.APIKey, stored.APIKeyHash)
	assert.NotContains(stored.APIKeyHash, res.APIKey)

	_, err = f.svc.Register(ctx, f.registration("helix-bot"))
	assert.ErrorIs(err, ErrNameTaken)
}

func TestRegisterValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	tooMany := make([]string, 21)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("cap-%d", i)
	}

	tests := []struct {
		name  string
		mod   func(in *RegistrationInput)
		field string
	}{
		{"short name", func(in *RegistrationInput) { in.Name = "ab" }, "name"},
		{"bad characters", func(in *RegistrationInput) { in.Name = "bad name!" }, "name"},
		{"short bio", func(in *RegistrationInput) { in.Bio = "too short" }, "bio"},
		{"no capabilities", func(in *RegistrationInput) { in.Capabilities = nil }, "capabilities"},
		{"too many capabilities", func(in *RegistrationInput) { in.Capabilities = tooMany }, "capabilities"},
		{"missing proof", func(in *RegistrationInput) { in.CapabilityProof = nil }, "capabilityProof"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			in := f.registration("valid-name")
			tc.mod(&in)
			_, err := f.svc.Register(ctx, in)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestRegisterRejectsProof(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	in := f.registration("stale-bot")
	in.CapabilityProof.Result.Timestamp = f.clock.Now().Add(-2 * time.Hour).Format(time.RFC3339)
	_, err := f.svc.Register(ctx, in)
	var perr *ProofError
	require.ErrorAs(t, err, &perr)
	assert.Equal("proof is too old (must be within 1 hour)", perr.Reason)

	in = f.registration("empty-bot")
	in.CapabilityProof.Result.Data = json.RawMessage(`{"articles":[]}`)
	_, err = f.svc.Register(ctx, in)
	require.ErrorAs(t, err, &perr)
	assert.Equal("invalid result format for tool pubmed", perr.Reason)

	_, err = f.store.AgentByName(ctx, "stale-bot")
	assert.ErrorIs(err, ErrNotFound)
}

func TestLogin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	agent, key := f.register(t, "login-bot")
	other, _ := f.register(t, "other-bot")

	_, err := f.svc.Login(ctx, "sk_"+key)
	var verr *ValidationError
	assert.ErrorAs(err, &verr)

	_, err = f.svc.Login(ctx, "lammac_0000")
	assert.ErrorIs(err, ErrInvalidAPIKey)

	res, err := f.svc.Login(ctx, key)
	require.NoError(t, err)
	assert.Equal(agent.ID, res.Agent.ID)
	assert.NotEmpty(res.Token)
	assert.NotNil(f.reload(t, agent).LastActiveAt)

	authed, err := f.svc.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(agent.ID, authed.ID)

	// a cache entry pointing at the wrong agent must not be trusted
	f.svc.keyCache.Add(keyDigest(key), other.ID)
	res, err = f.svc.Login(ctx, key)
	require.NoError(t, err)
	assert.Equal(agent.ID, res.Agent.ID)
	id, ok := f.svc.keyCache.Get(keyDigest(key))
	assert.True(ok)
	assert.Equal(agent.ID, id)

	_, err = f.svc.Authenticate(ctx, "garbage")
	assert.ErrorIs(err, ErrInvalidToken)
}

func TestLoginWithoutCache(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.KeyCacheSize = -1 })
	agent, key := f.register(t, "nocache-bot")

	res, err := f.svc.Login(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, agent.ID, res.Agent.ID)
	assert.Nil(t, f.svc.keyCache)
}

func TestBannedAgent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)

	_, key := f.register(t, "naughty-bot")
	res, err := f.svc.Login(ctx, key)
	require.NoError(t, err)

	banned, err := f.svc.BanAgent(ctx, "naughty-bot", "spam")
	require.NoError(t, err)
	assert.True(banned.Banned())

	_, err = f.svc.Login(ctx, key)
	assert.ErrorIs(err, ErrBanned)
	_, err = f.svc.Authenticate(ctx, res.Token)
	assert.ErrorIs(err, ErrBanned)

	_, err = f.svc.CreatePost(ctx, banned, PostInput{Submolt: "chemistry", Title: "hello"})
	assert.ErrorIs(err, ErrBanned)
}

func TestPostRateLimit(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	agent, _ := f.register(t, "eager-bot")

	post, err := f.svc.CreatePost(ctx, agent, PostInput{Submolt: "chemistry", Title: "First results", Content: gofakeit.Sentence(40)})
	require.NoError(t, err)
	assert.True(post.Verified)
	assert.Equal(1, f.reload(t, agent).PostCount)

	_, err = f.svc.CreatePost(ctx, agent, PostInput{Submolt: "chemistry", Title: "Second results"})
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	require.NotNil(t, denied.ResetTime)
	assert.WithinDuration(post.CreatedAt.Add(30*time.Minute), *denied.ResetTime, 2*time.Second)

	f.clock.Advance(31 * time.Minute)
	_, err = f.svc.CreatePost(ctx, agent, PostInput{Submolt: "chemistry", Title: "Second results"})
	assert.NoError(err)
}

func TestPostValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	agent, _ := f.register(t, "careless-bot")

	_, err := f.svc.CreatePost(ctx, agent, PostInput{Submolt: "chemistry", Title: "   "})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)

	_, err = f.svc.CreatePost(ctx, agent, PostInput{Submolt: "astrology", Title: "Horoscopes"})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "submolt", verr.Field)
}

func TestSpamBurst(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, relaxedLimits)
	agent, _ := f.register(t, "burst-bot")

	for i := 0; i < 10; i++ {
		_, err := f.svc.CreatePost(ctx, f.reload(t, agent), PostInput{Submolt: "chemistry", Title: fmt.Sprintf("post %d", i)})
		require.NoError(t, err)
	}
	_, err := f.svc.CreatePost(ctx, f.reload(t, agent), PostInput{Submolt: "chemistry", Title: "one too many"})
	var denied *DeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal("10 posts in less than 1 hour", denied.Reason)
	assert.Nil(denied.ResetTime)
}

func TestVoting(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	author, _ := f.register(t, "author-bot")
	voter, _ := f.register(t, "voter-bot")

	post, err := f.svc.CreatePost(ctx, author, PostInput{Submolt: "chemistry", Title: "Vote on me"})
	require.NoError(t, err)

	res, err := f.svc.Vote(ctx, voter, VoteInput{TargetType: models.TargetPost, TargetID: post.ID, Value: 1})
	require.NoError(t, err)
	assert.True(res.Changed)
	assert.Equal(1, res.Karma)

	res, err = f.svc.Vote(ctx, voter, VoteInput{TargetType: models.TargetPost, TargetID: post.ID, Value: 1})
	require.NoError(t, err)
	assert.False(res.Changed)
	assert.Equal(1, res.Karma)

	res, err = f.svc.Vote(ctx, voter, VoteInput{TargetType: models.TargetPost, TargetID: post.ID, Value: -1})
	require.NoError(t, err)
	assert.Equal(-1, res.Karma)
	assert.Equal(-1, f.reload(t, author).Karma)

	_, err = f.svc.Vote(ctx, voter, VoteInput{TargetType: "agent", TargetID: author.ID, Value: 1})
	var verr *ValidationError
	assert.ErrorAs(err, &verr)

	_, err = f.svc.Vote(ctx, voter, VoteInput{TargetType: models.TargetPost, TargetID: "missing", Value: 1})
	assert.ErrorIs(err, ErrNotFound)
}

func TestVoteRateLimitCountsRetractions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, func(c *Config) {
		c.Limiter = ratelimit.New(ratelimit.Limits{
			ratelimit.ActionPost:    {Count: 1, Window: 30 * time.Minute},
			ratelimit.ActionComment: {Count: 50, Window: 24 * time.Hour},
			ratelimit.ActionVote:    {Count: 3, Window: 24 * time.Hour},
		})
	})
	author, _ := f.register(t, "cycle-author")
	voter, _ := f.register(t, "cycle-voter")

	post, err := f.svc.CreatePost(ctx, author, PostInput{Submolt: "chemistry", Title: "Vote churn"})
	require.NoError(t, err)

	accepted := 0
	var denied *DeniedError
	for i := 0; i < 20; i++ {
		_, err := f.svc.Vote(ctx, voter, VoteInput{TargetType: models.TargetPost, TargetID: post.ID, Value: 1 - i%2})
		if err == nil {
			accepted++
			continue
		}
		require.ErrorAs(t, err, &denied)
	}
	assert.Equal(3, accepted)
	require.NotNil(t, denied)
	assert.NotNil(denied.ResetTime)

	// flips count too
	f2 := newFixture(t, func(c *Config) {
		c.Limiter = ratelimit.New(ratelimit.Limits{
			ratelimit.ActionPost:    {Count: 1, Window: 30 * time.Minute},
			ratelimit.ActionComment: {Count: 50, Window: 24 * time.Hour},
			ratelimit.ActionVote:    {Count: 2, Window: 24 * time.Hour},
		})
	})
	author2, _ := f2.register(t, "flip-author")
	voter2, _ := f2.register(t, "flip-voter")
	post2, err := f2.svc.CreatePost(ctx, author2, PostInput{Submolt: "chemistry", Title: "Flip churn"})
	require.NoError(t, err)
	_, err = f2.svc.Vote(ctx, voter2, VoteInput{TargetType: models.TargetPost, TargetID: post2.ID, Value: 1})
	require.NoError(t, err)
	_, err = f2.svc.Vote(ctx, voter2, VoteInput{TargetType: models.TargetPost, TargetID: post2.ID, Value: -1})
	require.NoError(t, err)
	_, err = f2.svc.Vote(ctx, voter2, VoteInput{TargetType: models.TargetPost, TargetID: post2.ID, Value: 1})
	assert.ErrorAs(err, &denied)
}

func TestCommentsAndThread(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	author, _ := f.register(t, "thread-author")
	commenter, _ := f.register(t, "thread-commenter")

	post, err := f.svc.CreatePost(ctx, author, PostInput{Submolt: "chemistry", Title: "Discuss"})
	require.NoError(t, err)

	top, err := f.svc.CreateComment(ctx, commenter, post.ID, CommentInput{Content: "Interesting result"})
	require.NoError(t, err)
	_, err = f.svc.CreateComment(ctx, author, post.ID, CommentInput{Content: "Thanks", ParentID: &top.ID})
	require.NoError(t, err)

	th, err := f.svc.Thread(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(th.Comments, 2)
	assert.Equal(2, th.Post.CommentCount)

	notifs, err := f.svc.Notifications(ctx, commenter, true, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(models.NotifyReply, notifs[0].Type)

	n, err := f.svc.MarkNotificationsRead(ctx, commenter)
	require.NoError(t, err)
	assert.EqualValues(1, n)

	_, err = f.svc.CreateComment(ctx, commenter, post.ID, CommentInput{Content: ""})
	var verr *ValidationError
	assert.ErrorAs(err, &verr)

	_, err = f.svc.RemovePost(ctx, post.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Thread(ctx, post.ID)
	assert.ErrorIs(err, ErrNotFound)
	_, err = f.svc.CreateComment(ctx, commenter, post.ID, CommentInput{Content: "Too late"})
	assert.ErrorIs(err, ErrNotFound)
}

func TestListPosts(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, relaxedLimits)
	author, _ := f.register(t, "lister-bot")
	voter, _ := f.register(t, "fan-bot")

	first, err := f.svc.CreatePost(ctx, author, PostInput{Submolt: "chemistry", Title: "older but loved"})
	require.NoError(t, err)
	_, err = f.svc.CreatePost(ctx, f.reload(t, author), PostInput{Submolt: "chemistry", Title: "newer"})
	require.NoError(t, err)
	_, err = f.svc.Vote(ctx, voter, VoteInput{TargetType: models.TargetPost, TargetID: first.ID, Value: 1})
	require.NoError(t, err)

	hot, err := f.svc.ListPosts(ctx, ListInput{})
	require.NoError(t, err)
	require.Len(t, hot, 2)
	assert.Equal(first.ID, hot[0].ID)

	newest, err := f.svc.ListPosts(ctx, ListInput{Sort: "new", Limit: 1})
	require.NoError(t, err)
	require.Len(t, newest, 1)
	assert.Equal("newer", newest[0].Title)

	_, err = f.svc.ListPosts(ctx, ListInput{Sort: "random"})
	var verr *ValidationError
	assert.ErrorAs(err, &verr)
}

func TestExitProbation(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, relaxedLimits)
	agent, _ := f.register(t, "patient-bot")

	el, err := f.svc.ExitProbation(ctx, agent)
	require.NoError(t, err)
	assert.False(el.Eligible)
	assert.Equal("must complete 7-day probation period", el.Reason)

	f.clock.Advance(8 * 24 * time.Hour)
	el, err = f.svc.ExitProbation(ctx, f.reload(t, agent))
	require.NoError(t, err)
	assert.Equal("must reach 50 karma", el.Reason)

	_, err = f.svc.BoostKarma(ctx, "patient-bot", 60)
	require.NoError(t, err)

	var post *models.Post
	for i := 0; i < 3; i++ {
		post, err = f.svc.CreatePost(ctx, f.reload(t, agent), PostInput{Submolt: "chemistry", Title: fmt.Sprintf("finding %d", i)})
		require.NoError(t, err)
	}
	el, err = f.svc.ExitProbation(ctx, f.reload(t, agent))
	require.NoError(t, err)
	assert.Equal("must make at least 5 comments", el.Reason)

	for i := 0; i < 5; i++ {
		_, err = f.svc.CreateComment(ctx, f.reload(t, agent), post.ID, CommentInput{Content: gofakeit.Sentence(8)})
		require.NoError(t, err)
	}
	fresh := f.reload(t, agent)
	el, err = f.svc.ExitProbation(ctx, fresh)
	require.NoError(t, err)
	assert.True(el.Eligible)
	assert.Equal(models.StatusActive, fresh.Status)
	assert.Equal(models.StatusActive, f.reload(t, agent).Status)

	prof, err := f.svc.Profile(ctx, "patient-bot")
	require.NoError(t, err)
	// 60 karma + 5*3 posts + 5 comments + 20*3 verified posts
	assert.Equal(140, prof.Reputation)
}

func TestProbationPromotedOnActivity(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, relaxedLimits)
	agent, _ := f.register(t, "busy-bot")

	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.svc.BoostKarma(ctx, "busy-bot", 50)
	require.NoError(t, err)
	var post *models.Post
	for i := 0; i < 3; i++ {
		post, err = f.svc.CreatePost(ctx, f.reload(t, agent), PostInput{Submolt: "chemistry", Title: fmt.Sprintf("note %d", i)})
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err = f.svc.CreateComment(ctx, f.reload(t, agent), post.ID, CommentInput{Content: gofakeit.Sentence(6)})
		require.NoError(t, err)
	}
	assert.Equal(models.StatusProbation, f.reload(t, agent).Status)

	// the next mutation notices every requirement is met
	fresh := f.reload(t, agent)
	_, err = f.svc.Vote(ctx, fresh, VoteInput{TargetType: models.TargetPost, TargetID: post.ID, Value: 1})
	require.NoError(t, err)
	assert.Equal(models.StatusActive, fresh.Status)
	assert.Equal(models.StatusActive, f.reload(t, agent).Status)
}

func TestAdmin(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture(t, nil)
	f.register(t, "admin-target")

	_, err := f.svc.BoostKarma(ctx, "admin-target", -5)
	var verr *ValidationError
	assert.ErrorAs(err, &verr)

	_, err = f.svc.BoostKarma(ctx, "nobody", 5)
	assert.ErrorIs(err, ErrNotFound)

	a, err := f.svc.VerifyAgent(ctx, "admin-target")
	require.NoError(t, err)
	assert.True(a.Verified)
	assert.Equal(models.StatusActive, a.Status)

	sm, err := f.svc.CreateSubmolt(ctx, "Genomics", "Genomics", "sequencing and assembly")
	require.NoError(t, err)
	assert.Equal("genomics", sm.Name)
	_, err = f.svc.CreateSubmolt(ctx, "genomics", "", "")
	assert.ErrorIs(err, ErrNameTaken)
	_, err = f.svc.CreateSubmolt(ctx, "x", "", "")
	assert.ErrorAs(err, &verr)

	subs, err := f.svc.Submolts(ctx)
	require.NoError(t, err)
	assert.Len(subs, 2)
}
