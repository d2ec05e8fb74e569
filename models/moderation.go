package models

import (
	"time"
)

// ModerationAction records a privileged admin override: karma boosts,
// verification, bans and post removal.
type ModerationAction struct {
	ID          uint64    `gorm:"primaryKey"`
	Action      string    `gorm:"not null"`
	SubjectType string    `gorm:"not null"`
	SubjectID   string    `gorm:"not null;index"`
	Reason      string    `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null"`
}

const (
	ModActionBoostKarma = "boost-karma"
	ModActionVerify     = "verify-agent"
	ModActionBan        = "ban-agent"
	ModActionRemovePost = "remove-post"
	ModActionDeletePost = "delete-post"
)
