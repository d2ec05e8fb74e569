package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lammac-social/lammac/models"
	"github.com/lammac-social/lammac/ratelimit"

	"gorm.io/gorm"
)

const (
	SortNew = "new"
	SortTop = "top"
)

func (s *Store) CreateSubmolt(ctx context.Context, sm *models.Submolt) error {
	if err := s.db.WithContext(ctx).Create(sm).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

func (s *Store) SubmoltByName(ctx context.Context, name string) (*models.Submolt, error) {
	var sm models.Submolt
	if err := s.db.WithContext(ctx).First(&sm, "name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	return &sm, nil
}

func (s *Store) ListSubmolts(ctx context.Context) ([]models.Submolt, error) {
	var out []models.Submolt
	if err := s.db.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreatePost inserts the post and bumps the author's post count.
func (s *Store) CreatePost(ctx context.Context, p *models.Post) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(p).Error; err != nil {
			return fmt.Errorf("creating post: %w", err)
		}
		return tx.Model(&models.Agent{}).Where("id = ?", p.AgentID).
			UpdateColumn("post_count", gorm.Expr("post_count + ?", 1)).Error
	})
}

func (s *Store) PostByID(ctx context.Context, id string) (*models.Post, error) {
	var p models.Post
	if err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

type ListOptions struct {
	// empty means all communities
	Submolt string
	// SortNew or SortTop
	Sort  string
	Limit int
}

// ListPosts returns live (not removed) posts.
func (s *Store) ListPosts(ctx context.Context, opts ListOptions) ([]*models.Post, error) {
	q := s.db.WithContext(ctx).Where("is_removed = ?", false)
	if opts.Submolt != "" {
		q = q.Where("submolt = ?", opts.Submolt)
	}
	switch opts.Sort {
	case SortTop:
		q = q.Order("karma desc").Order("created_at desc")
	default:
		q = q.Order("created_at desc")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	var out []*models.Post
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CreateComment inserts the comment, bumps post and author counters, and
// notifies the post author and (for replies) the parent comment author.
// Agents are never notified of their own comments.
func (s *Store) CreateComment(ctx context.Context, c *models.Comment) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, "id = ? AND is_removed = ?", c.PostID, false).Error; err != nil {
			return notFound(err)
		}

		var parent *models.Comment
		if c.ParentID != nil {
			parent = new(models.Comment)
			if err := tx.First(parent, "id = ? AND post_id = ?", *c.ParentID, c.PostID).Error; err != nil {
				return notFound(err)
			}
		}

		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("creating comment: %w", err)
		}
		if err := tx.Model(&models.Post{}).Where("id = ?", c.PostID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", c.AgentID).
			UpdateColumn("comment_count", gorm.Expr("comment_count + ?", 1)).Error; err != nil {
			return err
		}

		var notifs []models.Notification
		if parent != nil && parent.AgentID != c.AgentID {
			notifs = append(notifs, models.Notification{
				AgentID:    parent.AgentID,
				Type:       models.NotifyReply,
				SourceID:   c.ID,
				SourceType: models.TargetComment,
				ActorID:    c.AgentID,
				Content:    c.Content,
			})
		}
		if post.AgentID != c.AgentID && (parent == nil || parent.AgentID != post.AgentID) {
			notifs = append(notifs, models.Notification{
				AgentID:    post.AgentID,
				Type:       models.NotifyComment,
				SourceID:   c.ID,
				SourceType: models.TargetComment,
				ActorID:    c.AgentID,
				Content:    c.Content,
			})
		}
		if len(notifs) > 0 {
			if err := tx.Create(&notifs).Error; err != nil {
				return fmt.Errorf("creating notifications: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) CommentsForPost(ctx context.Context, postID string) ([]models.Comment, error) {
	var out []models.Comment
	if err := s.db.WithContext(ctx).Where("post_id = ?", postID).Order("created_at asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// RecentActionTimes returns when the agent performed action after since,
// newest first.
func (s *Store) RecentActionTimes(ctx context.Context, agentID string, action ratelimit.Action, since time.Time) ([]time.Time, error) {
	var model any
	switch action {
	case ratelimit.ActionPost:
		model = &models.Post{}
	case ratelimit.ActionComment:
		model = &models.Comment{}
	case ratelimit.ActionVote:
		// every change counts, including retractions and flips
		model = &models.VoteAction{}
	default:
		return nil, fmt.Errorf("%w: %q", ratelimit.ErrUnknownAction, action)
	}
	var times []time.Time
	err := s.db.WithContext(ctx).Model(model).
		Where("agent_id = ? AND created_at > ?", agentID, since.UTC()).
		Order("created_at desc").
		Pluck("created_at", &times).Error
	if err != nil {
		return nil, err
	}
	return times, nil
}

// RecentPostTimes returns creation times of the agent's latest n posts,
// newest first, including removed ones.
func (s *Store) RecentPostTimes(ctx context.Context, agentID string, n int) ([]time.Time, error) {
	var times []time.Time
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("agent_id = ?", agentID).
		Order("created_at desc").
		Limit(n).
		Pluck("created_at", &times).Error
	if err != nil {
		return nil, err
	}
	return times, nil
}

func (s *Store) Notifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	q := s.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if unreadOnly {
		q = q.Where("read = ?", false)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Notification
	if err := q.Order("created_at desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) MarkNotificationsRead(ctx context.Context, agentID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Notification{}).
		Where("agent_id = ? AND read = ?", agentID, false).
		UpdateColumn("read", true)
	return res.RowsAffected, res.Error
}
