package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/lammac-social/lammac/models"

	"gorm.io/gorm"
)

var ErrInvalidVote = errors.New("vote value must be -1, 0 or 1")

type VoteResult struct {
	// false when the vote matched what was already recorded
	Changed bool `json:"changed"`
	// target karma after the vote
	Karma int `json:"karma"`
}

// CastVote records agentID's vote on a post or comment. value is +1, -1, or
// 0 to retract. Repeating the current vote is a no-op; flipping it moves the
// target by two.
func (s *Store) CastVote(ctx context.Context, agentID string, tt models.TargetType, targetID string, value int) (*VoteResult, error) {
	if value < -1 || value > 1 {
		return nil, ErrInvalidVote
	}
	var target any
	switch tt {
	case models.TargetPost:
		target = &models.Post{}
	case models.TargetComment:
		target = &models.Comment{}
	default:
		return nil, fmt.Errorf("unknown vote target type %q", tt)
	}

	var out VoteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var author struct {
			AgentID string
		}
		res := tx.Model(target).Select("agent_id").Where("id = ?", targetID).Limit(1).Scan(&author)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}

		var existing models.Vote
		err := tx.Where("agent_id = ? AND target_type = ? AND target_id = ?", agentID, tt, targetID).
			Limit(1).Find(&existing).Error
		if err != nil {
			return err
		}

		prev := 0
		if existing.ID != 0 {
			prev = existing.Value
		}
		if prev == value {
			return tx.Model(target).Select("karma").Where("id = ?", targetID).Scan(&out.Karma).Error
		}

		switch {
		case existing.ID == 0:
			v := models.Vote{AgentID: agentID, TargetType: tt, TargetID: targetID, Value: value}
			if err := tx.Create(&v).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrConflict
				}
				return err
			}
		case value == 0:
			if err := tx.Delete(&existing).Error; err != nil {
				return err
			}
		default:
			if err := tx.Model(&existing).UpdateColumn("value", value).Error; err != nil {
				return err
			}
		}

		up, down := tally(value), tally(-value)
		up -= tally(prev)
		down -= tally(-prev)
		delta := value - prev

		if err := tx.Model(target).Where("id = ?", targetID).UpdateColumns(map[string]any{
			"upvotes":   gorm.Expr("upvotes + ?", up),
			"downvotes": gorm.Expr("downvotes + ?", down),
			"karma":     gorm.Expr("karma + ?", delta),
		}).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Agent{}).Where("id = ?", author.AgentID).
			UpdateColumn("karma", gorm.Expr("karma + ?", delta)).Error; err != nil {
			return err
		}

		if err := tx.Create(&models.VoteAction{
			AgentID:    agentID,
			TargetType: tt,
			TargetID:   targetID,
			Value:      value,
		}).Error; err != nil {
			return fmt.Errorf("logging vote action: %w", err)
		}

		out.Changed = true
		return tx.Model(target).Select("karma").Where("id = ?", targetID).Scan(&out.Karma).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// tally is 1 for an upvote-direction value, else 0
func tally(v int) int {
	if v > 0 {
		return 1
	}
	return 0
}
