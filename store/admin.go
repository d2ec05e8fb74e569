package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lammac-social/lammac/models"

	"gorm.io/gorm"
)

// Admin operations. These bypass every engine check and leave an entry in
// the moderation log.

func recordAction(tx *gorm.DB, action, subjectType, subjectID, reason string) error {
	return tx.Create(&models.ModerationAction{
		Action:      action,
		SubjectType: subjectType,
		SubjectID:   subjectID,
		Reason:      reason,
		CreatedAt:   time.Now().UTC(),
	}).Error
}

// updateAgentByName applies updates to the named agent and returns the
// refreshed row.
func (s *Store) updateAgentByName(ctx context.Context, name, action, reason string, updates map[string]any) (*models.Agent, error) {
	var a models.Agent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Agent{}).Where("name = ?", name).UpdateColumns(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.First(&a, "name = ?", name).Error; err != nil {
			return err
		}
		return recordAction(tx, action, "agent", a.ID, reason)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *Store) SetKarma(ctx context.Context, name string, karma int) (*models.Agent, error) {
	return s.updateAgentByName(ctx, name, models.ModActionBoostKarma, fmt.Sprintf("karma=%d", karma), map[string]any{
		"karma": karma,
	})
}

// VerifyAgent marks the agent verified and active.
func (s *Store) VerifyAgent(ctx context.Context, name string, at time.Time) (*models.Agent, error) {
	return s.updateAgentByName(ctx, name, models.ModActionVerify, "admin verification", map[string]any{
		"verified":    true,
		"verified_at": at,
		"status":      models.StatusActive,
	})
}

func (s *Store) BanAgent(ctx context.Context, name, reason string) (*models.Agent, error) {
	return s.updateAgentByName(ctx, name, models.ModActionBan, reason, map[string]any{
		"status": models.StatusBanned,
	})
}

// RemovePost soft-removes a post regardless of author.
func (s *Store) RemovePost(ctx context.Context, id, reason string) (*models.Post, error) {
	var p models.Post
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Post{}).Where("id = ?", id).UpdateColumns(map[string]any{
			"is_removed":     true,
			"removed_reason": reason,
			"updated_at":     time.Now().UTC(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return err
		}
		return recordAction(tx, models.ModActionRemovePost, "post", id, reason)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// DeletePost hard-deletes a post and the votes cast on it, returning how many
// votes went with it.
func (s *Store) DeletePost(ctx context.Context, id string) (int64, error) {
	var votes int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vres := tx.Where("target_type = ? AND target_id = ?", models.TargetPost, id).Delete(&models.Vote{})
		if vres.Error != nil {
			return vres.Error
		}
		votes = vres.RowsAffected

		pres := tx.Where("id = ?", id).Delete(&models.Post{})
		if pres.Error != nil {
			return pres.Error
		}
		if pres.RowsAffected == 0 {
			return ErrNotFound
		}
		return recordAction(tx, models.ModActionDeletePost, "post", id, fmt.Sprintf("votes=%d", votes))
	})
	if err != nil {
		return 0, err
	}
	return votes, nil
}
