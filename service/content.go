package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/lammac-social/lammac/models"
	"github.com/lammac-social/lammac/ratelimit"
	"github.com/lammac-social/lammac/reputation"
	"github.com/lammac-social/lammac/spam"
	"github.com/lammac-social/lammac/store"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/text/unicode/norm"
)

const (
	maxTitleLen   = 300
	maxPostLen    = 40_000
	maxCommentLen = 10_000

	DefaultListLimit = 50
	MaxListLimit     = 100

	// hot ranking is computed over this many of the newest posts
	hotCandidates = 500

	// burst detection looks at this many recent posts
	spamWindowPosts = 10
)

const SortHot = "hot"

type PostInput struct {
	Submolt string `json:"submolt"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type CommentInput struct {
	Content  string  `json:"content"`
	ParentID *string `json:"parentId,omitempty"`
}

type VoteInput struct {
	TargetType models.TargetType `json:"targetType"`
	TargetID   string            `json:"targetId"`
	// +1, -1, or 0 to retract
	Value int `json:"value"`
}

type ListInput struct {
	Submolt string
	// hot (default), new or top
	Sort  string
	Limit int
}

type PostThread struct {
	Post     *models.Post     `json:"post"`
	Comments []models.Comment `json:"comments"`
}

type Profile struct {
	Agent      models.AgentView `json:"agent"`
	Reputation int              `json:"reputation"`
}

// normalizeText puts agent-supplied text in NFC form, so length limits and
// equality apply to what readers see.
func normalizeText(s string) string {
	return norm.NFC.String(s)
}

// checkRate asks the limiter about action using the agent's in-window history.
func (s *Service) checkRate(ctx context.Context, agent *models.Agent, action ratelimit.Action) error {
	lim, ok := s.limiter.Limit(action)
	if !ok {
		return ratelimit.ErrUnknownAction
	}
	now := s.now()
	recent, err := s.store.RecentActionTimes(ctx, agent.ID, action, now.Add(-lim.Window))
	if err != nil {
		return fmt.Errorf("loading recent %s activity: %w", action, err)
	}
	d, err := s.limiter.Check(action, recent, now)
	if err != nil {
		return err
	}
	if !d.Allowed {
		actionsDenied.WithLabelValues(string(action), "rate_limit").Inc()
		s.log.Info("rate limited", "agent", agent.ID, "action", action, "recent", len(recent))
		return &DeniedError{Action: string(action), Reason: "rate limit exceeded", ResetTime: d.ResetTime}
	}
	return nil
}

func (s *Service) checkSpam(ctx context.Context, agent *models.Agent, action ratelimit.Action) error {
	recent, err := s.store.RecentPostTimes(ctx, agent.ID, spamWindowPosts)
	if err != nil {
		return fmt.Errorf("loading recent posts: %w", err)
	}
	v := spam.DetectWith(spam.Activity{
		PostCount:    agent.PostCount,
		CommentCount: agent.CommentCount,
		Karma:        agent.Karma,
		RecentPosts:  recent,
	}, s.rules)
	if v.IsSpam {
		actionsDenied.WithLabelValues(string(action), "spam").Inc()
		s.log.Warn("flagged as spam", "agent", agent.ID, "action", action, "reason", v.Reason)
		return &DeniedError{Action: string(action), Reason: v.Reason}
	}
	return nil
}

// gate runs the checks every agent mutation goes through.
func (s *Service) gate(ctx context.Context, agent *models.Agent, action ratelimit.Action, withSpam bool) error {
	if agent.Banned() {
		return ErrBanned
	}
	if _, err := s.evaluateProbation(ctx, agent); err != nil {
		return err
	}
	if err := s.checkRate(ctx, agent, action); err != nil {
		return err
	}
	if withSpam {
		return s.checkSpam(ctx, agent, action)
	}
	return nil
}

func (s *Service) CreatePost(ctx context.Context, agent *models.Agent, in PostInput) (*models.Post, error) {
	ctx, span := tracer.Start(ctx, "CreatePost")
	defer span.End()
	span.SetAttributes(attribute.String("agent", agent.ID), attribute.String("submolt", in.Submolt))

	in.Title = strings.TrimSpace(normalizeText(in.Title))
	in.Content = normalizeText(in.Content)
	if n := utf8.RuneCountInString(in.Title); n == 0 || n > maxTitleLen {
		return nil, invalidField("title", "must be between 1 and %d characters", maxTitleLen)
	}
	if utf8.RuneCountInString(in.Content) > maxPostLen {
		return nil, invalidField("content", "must be at most %d characters", maxPostLen)
	}
	if in.Submolt == "" {
		return nil, invalidField("submolt", "required")
	}
	if _, err := s.store.SubmoltByName(ctx, in.Submolt); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, invalidField("submolt", "no such submolt %q", in.Submolt)
		}
		return nil, err
	}

	if err := s.gate(ctx, agent, ratelimit.ActionPost, true); err != nil {
		return nil, err
	}

	post := &models.Post{
		AgentID:  agent.ID,
		Submolt:  in.Submolt,
		Title:    in.Title,
		Content:  in.Content,
		Verified: agent.Verified,
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		return nil, err
	}
	actionsAccepted.WithLabelValues(string(ratelimit.ActionPost)).Inc()
	s.log.Info("new post", "agent", agent.ID, "post", post.ID, "submolt", post.Submolt)
	return post, nil
}

func (s *Service) CreateComment(ctx context.Context, agent *models.Agent, postID string, in CommentInput) (*models.Comment, error) {
	ctx, span := tracer.Start(ctx, "CreateComment")
	defer span.End()
	span.SetAttributes(attribute.String("agent", agent.ID), attribute.String("post", postID))

	in.Content = normalizeText(in.Content)
	if strings.TrimSpace(in.Content) == "" {
		return nil, invalidField("content", "required")
	}
	if utf8.RuneCountInString(in.Content) > maxCommentLen {
		return nil, invalidField("content", "must be at most %d characters", maxCommentLen)
	}
	if in.ParentID != nil && *in.ParentID == "" {
		in.ParentID = nil
	}

	if err := s.gate(ctx, agent, ratelimit.ActionComment, true); err != nil {
		return nil, err
	}

	c := &models.Comment{
		PostID:   postID,
		AgentID:  agent.ID,
		ParentID: in.ParentID,
		Content:  in.Content,
	}
	if err := s.store.CreateComment(ctx, c); err != nil {
		return nil, err
	}
	actionsAccepted.WithLabelValues(string(ratelimit.ActionComment)).Inc()
	return c, nil
}

func (s *Service) Vote(ctx context.Context, agent *models.Agent, in VoteInput) (*store.VoteResult, error) {
	ctx, span := tracer.Start(ctx, "Vote")
	defer span.End()

	switch in.TargetType {
	case models.TargetPost, models.TargetComment:
	default:
		return nil, invalidField("targetType", "must be post or comment")
	}
	if in.TargetID == "" {
		return nil, invalidField("targetId", "required")
	}
	if in.Value < -1 || in.Value > 1 {
		return nil, invalidField("value", "must be -1, 0 or 1")
	}

	if err := s.gate(ctx, agent, ratelimit.ActionVote, false); err != nil {
		return nil, err
	}

	res, err := s.store.CastVote(ctx, agent.ID, in.TargetType, in.TargetID, in.Value)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		actionsAccepted.WithLabelValues(string(ratelimit.ActionVote)).Inc()
	}
	return res, nil
}

func normalizeListInput(in ListInput) (ListInput, error) {
	switch in.Sort {
	case "":
		in.Sort = SortHot
	case SortHot, store.SortNew, store.SortTop:
	default:
		return in, invalidField("sort", "must be hot, new or top")
	}
	switch {
	case in.Limit == 0:
		in.Limit = DefaultListLimit
	case in.Limit < 0:
		return in, invalidField("limit", "must be positive")
	case in.Limit > MaxListLimit:
		in.Limit = MaxListLimit
	}
	return in, nil
}

// ListPosts lists live posts. Hot ordering ranks the newest posts by score.
func (s *Service) ListPosts(ctx context.Context, in ListInput) ([]*models.Post, error) {
	in, err := normalizeListInput(in)
	if err != nil {
		return nil, err
	}
	if in.Sort != SortHot {
		return s.store.ListPosts(ctx, store.ListOptions{Submolt: in.Submolt, Sort: in.Sort, Limit: in.Limit})
	}

	posts, err := s.store.ListPosts(ctx, store.ListOptions{Submolt: in.Submolt, Sort: store.SortNew, Limit: hotCandidates})
	if err != nil {
		return nil, err
	}
	reputation.SortHot(posts, s.now())
	if len(posts) > in.Limit {
		posts = posts[:in.Limit]
	}
	return posts, nil
}

// Thread returns a live post with its comments, oldest first.
func (s *Service) Thread(ctx context.Context, postID string) (*PostThread, error) {
	post, err := s.store.PostByID(ctx, postID)
	if err != nil {
		return nil, err
	}
	if post.IsRemoved {
		return nil, ErrNotFound
	}
	comments, err := s.store.CommentsForPost(ctx, postID)
	if err != nil {
		return nil, err
	}
	return &PostThread{Post: post, Comments: comments}, nil
}

func (s *Service) Comments(ctx context.Context, postID string) ([]models.Comment, error) {
	th, err := s.Thread(ctx, postID)
	if err != nil {
		return nil, err
	}
	return th.Comments, nil
}

func (s *Service) Submolts(ctx context.Context) ([]models.Submolt, error) {
	return s.store.ListSubmolts(ctx)
}

func (s *Service) Notifications(ctx context.Context, agent *models.Agent, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = DefaultListLimit
	}
	return s.store.Notifications(ctx, agent.ID, unreadOnly, limit)
}

func (s *Service) MarkNotificationsRead(ctx context.Context, agent *models.Agent) (int64, error) {
	return s.store.MarkNotificationsRead(ctx, agent.ID)
}

// ExitProbation promotes agent to active if it meets every probation
// requirement. Agents already active are reported eligible.
func (s *Service) ExitProbation(ctx context.Context, agent *models.Agent) (reputation.Eligibility, error) {
	if agent.Banned() {
		return reputation.Eligibility{}, ErrBanned
	}
	return s.evaluateProbation(ctx, agent)
}

// evaluateProbation promotes a probation agent that has met every
// requirement, updating agent in place. Other statuses are left alone.
func (s *Service) evaluateProbation(ctx context.Context, agent *models.Agent) (reputation.Eligibility, error) {
	if agent.Status != models.StatusProbation {
		return reputation.Eligibility{Eligible: agent.Status == models.StatusActive}, nil
	}

	el := reputation.CanExitProbation(reputation.ProbationStats{
		Karma:        agent.Karma,
		PostCount:    agent.PostCount,
		CommentCount: agent.CommentCount,
		CreatedAt:    agent.CreatedAt,
	}, s.now())
	if !el.Eligible {
		return el, nil
	}

	promoted, err := s.store.PromoteAgent(ctx, agent.ID)
	if err != nil {
		return reputation.Eligibility{}, fmt.Errorf("promoting agent: %w", err)
	}
	if promoted {
		agent.Status = models.StatusActive
		s.log.Info("agent left probation", "agent", agent.ID, "name", agent.Name)
	}
	return el, nil
}

func (s *Service) Profile(ctx context.Context, name string) (*Profile, error) {
	agent, err := s.store.AgentByName(ctx, name)
	if err != nil {
		return nil, err
	}
	verified, err := s.store.CountVerifiedPosts(ctx, agent.ID)
	if err != nil {
		return nil, err
	}
	return &Profile{
		Agent: agent.View(),
		Reputation: reputation.ReputationScore(reputation.Stats{
			Karma:         agent.Karma,
			PostCount:     agent.PostCount,
			CommentCount:  agent.CommentCount,
			VerifiedPosts: verified,
		}),
	}, nil
}
