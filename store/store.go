// Package store is the gorm-backed persistence layer for agents, communities,
// posts, comments, votes and notifications.
//
// Counter and karma changes are applied with atomic column increments inside
// a transaction, and uniqueness (agent names, one vote per agent per target)
// is enforced by database indexes.
package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/lammac-social/lammac/models"

	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNameTaken = errors.New("name already taken")
	ErrConflict  = errors.New("conflicting concurrent write")
)

type Store struct {
	db  *gorm.DB
	log *slog.Logger
}

func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(
		&models.Agent{},
		&models.CapabilityProofRecord{},
		&models.Submolt{},
		&models.Post{},
		&models.Comment{},
		&models.Vote{},
		&models.VoteAction{},
		&models.Notification{},
		&models.ModerationAction{},
	); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{
		db:  db,
		log: logger.With("system", "store"),
	}, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping() error {
	return s.db.Exec("SELECT 1").Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
