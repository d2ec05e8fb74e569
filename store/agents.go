package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lammac-social/lammac/models"

	"gorm.io/gorm"
)

const scanBatchSize = 500

var errStopScan = errors.New("stop scan")

// CreateAgent inserts the agent and, if given, the audit copy of its
// capability proof.
func (s *Store) CreateAgent(ctx context.Context, a *models.Agent, proof *models.CapabilityProofRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrNameTaken
			}
			return fmt.Errorf("creating agent: %w", err)
		}
		if proof != nil {
			proof.AgentID = a.ID
			if err := tx.Create(proof).Error; err != nil {
				return fmt.Errorf("recording capability proof: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) AgentByID(ctx context.Context, id string) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

func (s *Store) AgentByName(ctx context.Context, name string) (*models.Agent, error) {
	var a models.Agent
	if err := s.db.WithContext(ctx).First(&a, "name = ?", name).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// ScanAgents walks every agent in batches, calling fn until it returns true.
// The pointer passed to fn is only valid for the duration of the call.
func (s *Store) ScanAgents(ctx context.Context, fn func(a *models.Agent) bool) error {
	var batch []models.Agent
	res := s.db.WithContext(ctx).FindInBatches(&batch, scanBatchSize, func(tx *gorm.DB, n int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range batch {
			if fn(&batch[i]) {
				return errStopScan
			}
		}
		return nil
	})
	if res.Error != nil && !errors.Is(res.Error, errStopScan) {
		return fmt.Errorf("scanning agents: %w", res.Error)
	}
	return nil
}

func (s *Store) TouchAgent(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", id).UpdateColumn("last_active_at", at).Error
}

// PromoteAgent moves an agent out of probation. It is a no-op for agents in
// any other status, so a ban racing a promotion always wins.
func (s *Store) PromoteAgent(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Agent{}).
		Where("id = ? AND status = ?", id, models.StatusProbation).
		UpdateColumn("status", models.StatusActive)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountVerifiedPosts counts the agent's live posts made while verified.
func (s *Store) CountVerifiedPosts(ctx context.Context, agentID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("agent_id = ? AND verified = ? AND is_removed = ?", agentID, true, false).
		Count(&n).Error
	return int(n), err
}
