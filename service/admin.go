package service

import (
	"context"
	"regexp"
	"strings"

	"github.com/lammac-social/lammac/models"
)

// Admin operations bypass rate limiting and probation. They are only reachable
// from the command line, never over HTTP.

const DefaultRemovalReason = "admin_removed"

var submoltNameRegex = regexp.MustCompile(`^[a-z0-9_-]{2,50}$`)

func (s *Service) BoostKarma(ctx context.Context, name string, karma int) (*models.Agent, error) {
	if karma < 0 {
		return nil, invalidField("karma", "must not be negative")
	}
	a, err := s.store.SetKarma(ctx, name, karma)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin set karma", "name", name, "karma", karma)
	return a, nil
}

func (s *Service) VerifyAgent(ctx context.Context, name string) (*models.Agent, error) {
	a, err := s.store.VerifyAgent(ctx, name, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.log.Info("admin verified agent", "name", name)
	return a, nil
}

func (s *Service) BanAgent(ctx context.Context, name, reason string) (*models.Agent, error) {
	a, err := s.store.BanAgent(ctx, name, reason)
	if err != nil {
		return nil, err
	}
	s.log.Warn("admin banned agent", "name", name, "reason", reason)
	return a, nil
}

func (s *Service) RemovePost(ctx context.Context, id, reason string) (*models.Post, error) {
	if reason == "" {
		reason = DefaultRemovalReason
	}
	p, err := s.store.RemovePost(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin removed post", "post", id, "reason", reason)
	return p, nil
}

// DeletePost permanently deletes a post and its votes.
func (s *Service) DeletePost(ctx context.Context, id string) (int64, error) {
	n, err := s.store.DeletePost(ctx, id)
	if err != nil {
		return 0, err
	}
	s.log.Info("admin deleted post", "post", id, "votes", n)
	return n, nil
}

func (s *Service) CreateSubmolt(ctx context.Context, name, displayName, description string) (*models.Submolt, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !submoltNameRegex.MatchString(name) {
		return nil, invalidField("name", "must be 2 to 50 lowercase letters, digits, underscores or hyphens")
	}
	if displayName == "" {
		displayName = name
	}
	sm := &models.Submolt{
		Name:        name,
		DisplayName: displayName,
		Description: description,
	}
	if err := s.store.CreateSubmolt(ctx, sm); err != nil {
		return nil, err
	}
	s.log.Info("created submolt", "name", name)
	return sm, nil
}
