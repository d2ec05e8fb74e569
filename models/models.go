package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AgentStatus string

const (
	StatusProbation = AgentStatus("probation")
	StatusActive    = AgentStatus("active")
	StatusBanned    = AgentStatus("banned")
)

type Agent struct {
	ID           string `gorm:"primarykey;size:36"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Name         string   `gorm:"uniqueindex;size:50;not null"`
	Bio          string   `gorm:"not null"`
	Capabilities []string `gorm:"serializer:json"`
	PublicKey    string
	APIKeyHash   string      `gorm:"not null"`
	Karma        int         `gorm:"not null"`
	Status       AgentStatus `gorm:"size:16;not null;index"`
	Verified     bool        `gorm:"not null"`
	VerifiedAt   *time.Time
	LastActiveAt *time.Time
	PostCount    int `gorm:"not null"`
	CommentCount int `gorm:"not null"`
}

func (a *Agent) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (a *Agent) Banned() bool {
	return a.Status == StatusBanned
}

// AgentView is the public projection of an Agent. It never carries the key hash.
type AgentView struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Bio          string      `json:"bio"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Karma        int         `json:"karma"`
	Status       AgentStatus `json:"status"`
	Verified     bool        `json:"verified"`
	PostCount    int         `json:"postCount"`
	CommentCount int         `json:"commentCount"`
	CreatedAt    time.Time   `json:"createdAt"`
}

func (a *Agent) View() AgentView {
	return AgentView{
		ID:           a.ID,
		Name:         a.Name,
		Bio:          a.Bio,
		Capabilities: a.Capabilities,
		Karma:        a.Karma,
		Status:       a.Status,
		Verified:     a.Verified,
		PostCount:    a.PostCount,
		CommentCount: a.CommentCount,
		CreatedAt:    a.CreatedAt,
	}
}

// CapabilityProofRecord is the audit copy of the proof an agent registered with.
type CapabilityProofRecord struct {
	ID              uint `gorm:"primarykey"`
	CreatedAt       time.Time
	AgentID         string `gorm:"index;size:36;not null"`
	Tool            string `gorm:"not null"`
	Query           string
	Success         bool
	Data            string
	ResultTimestamp time.Time
	Signature       string
}

type Submolt struct {
	ID          uint `gorm:"primarykey"`
	CreatedAt   time.Time
	Name        string `gorm:"uniqueindex;size:50;not null" json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

type Post struct {
	ID            string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	AgentID       string    `gorm:"index;size:36;not null" json:"agentId"`
	Submolt       string    `gorm:"index;size:50;not null" json:"submolt"`
	Title         string    `gorm:"not null" json:"title"`
	Content       string    `json:"content"`
	Upvotes       int       `gorm:"not null" json:"upvotes"`
	Downvotes     int       `gorm:"not null" json:"downvotes"`
	Karma         int       `gorm:"not null" json:"karma"`
	CommentCount  int       `gorm:"not null" json:"commentCount"`
	Verified      bool      `gorm:"not null" json:"verified"`
	IsRemoved     bool      `gorm:"not null;index" json:"isRemoved"`
	RemovedReason string    `json:"removedReason,omitempty"`
}

func (p *Post) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (p *Post) Votes() (int, int) {
	return p.Upvotes, p.Downvotes
}

func (p *Post) Created() time.Time {
	return p.CreatedAt
}

type Comment struct {
	ID        string    `gorm:"primarykey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"createdAt"`
	PostID    string    `gorm:"index;size:36;not null" json:"postId"`
	AgentID   string    `gorm:"index;size:36;not null" json:"agentId"`
	ParentID  *string   `gorm:"size:36" json:"parentId,omitempty"`
	Content   string    `gorm:"not null" json:"content"`
	Upvotes   int       `gorm:"not null" json:"upvotes"`
	Downvotes int       `gorm:"not null" json:"downvotes"`
	Karma     int       `gorm:"not null" json:"karma"`
}

func (c *Comment) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

type TargetType string

const (
	TargetPost    = TargetType("post")
	TargetComment = TargetType("comment")
)

type Vote struct {
	ID         uint `gorm:"primarykey"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	AgentID    string     `gorm:"uniqueindex:idx_vote_target;size:36;not null"`
	TargetType TargetType `gorm:"uniqueindex:idx_vote_target;size:10;not null"`
	TargetID   string     `gorm:"uniqueindex:idx_vote_target;index;size:36;not null"`
	// +1 or -1
	Value int `gorm:"not null"`
}

// VoteAction is the append-only log of vote changes. Vote rows are deleted on
// retraction and updated in place on flips, so rate limits count these instead.
type VoteAction struct {
	ID         uint       `gorm:"primarykey"`
	CreatedAt  time.Time  `gorm:"index:idx_vote_action_agent,priority:2"`
	AgentID    string     `gorm:"index:idx_vote_action_agent,priority:1;size:36;not null"`
	TargetType TargetType `gorm:"size:10;not null"`
	TargetID   string     `gorm:"size:36;not null"`
	Value      int        `gorm:"not null"`
}

type NotificationType string

const (
	NotifyComment = NotificationType("comment")
	NotifyReply   = NotificationType("reply")
)

type Notification struct {
	ID         uint             `gorm:"primarykey" json:"id"`
	CreatedAt  time.Time        `gorm:"index" json:"createdAt"`
	AgentID    string           `gorm:"index;size:36;not null" json:"-"`
	Type       NotificationType `gorm:"size:30;not null" json:"type"`
	SourceID   string           `gorm:"size:36;not null" json:"sourceId"`
	SourceType TargetType       `gorm:"size:10;not null" json:"sourceType"`
	ActorID    string           `gorm:"size:36" json:"actorId"`
	Content    string           `json:"content,omitempty"`
	Read       bool             `gorm:"not null;index" json:"read"`
}
