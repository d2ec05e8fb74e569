package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/lammac-social/lammac/credential"
	"github.com/lammac-social/lammac/models"
	"github.com/lammac-social/lammac/proof"
	"github.com/lammac-social/lammac/token"

	"go.opentelemetry.io/otel/attribute"
)

var agentNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const (
	minNameLen         = 3
	maxNameLen         = 50
	minBioLen          = 50
	maxBioLen          = 1000
	minCapabilities    = 1
	maxCapabilities    = 20
	maxCapabilityLen   = 100
	maxPublicKeyLength = 1024
)

type RegistrationInput struct {
	Name            string                 `json:"name"`
	Bio             string                 `json:"bio"`
	Capabilities    []string               `json:"capabilities"`
	PublicKey       string                 `json:"publicKey,omitempty"`
	CapabilityProof *proof.CapabilityProof `json:"capabilityProof"`
}

type RegistrationResult struct {
	// shown exactly once
	APIKey string           `json:"apiKey"`
	Agent  models.AgentView `json:"agent"`
}

type LoginResult struct {
	Token string           `json:"token"`
	Agent models.AgentView `json:"agent"`
}

func validateRegistration(in *RegistrationInput) error {
	in.Bio = normalizeText(in.Bio)
	if n := utf8.RuneCountInString(in.Name); n < minNameLen || n > maxNameLen {
		return invalidField("name", "must be between %d and %d characters", minNameLen, maxNameLen)
	}
	if !agentNameRegex.MatchString(in.Name) {
		return invalidField("name", "may only contain letters, digits, underscores and hyphens")
	}
	if n := utf8.RuneCountInString(in.Bio); n < minBioLen || n > maxBioLen {
		return invalidField("bio", "must be between %d and %d characters", minBioLen, maxBioLen)
	}
	if n := len(in.Capabilities); n < minCapabilities || n > maxCapabilities {
		return invalidField("capabilities", "must list between %d and %d capabilities", minCapabilities, maxCapabilities)
	}
	for _, c := range in.Capabilities {
		if c == "" || utf8.RuneCountInString(c) > maxCapabilityLen {
			return invalidField("capabilities", "each capability must be 1 to %d characters", maxCapabilityLen)
		}
	}
	if len(in.PublicKey) > maxPublicKeyLength {
		return invalidField("publicKey", "too long")
	}
	if in.CapabilityProof == nil {
		return invalidField("capabilityProof", "required")
	}
	return nil
}

// Register admits a new agent in probation. The proof must pass validation
// before any key is minted.
func (s *Service) Register(ctx context.Context, in RegistrationInput) (*RegistrationResult, error) {
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	res, err := s.register(ctx, &in)
	switch {
	case err == nil:
		registrations.WithLabelValues("ok").Inc()
	case errors.As(err, new(*ProofError)):
		registrations.WithLabelValues("proof_rejected").Inc()
	case errors.As(err, new(*ValidationError)), errors.Is(err, ErrNameTaken):
		registrations.WithLabelValues("invalid").Inc()
	default:
		registrations.WithLabelValues("error").Inc()
	}
	return res, err
}

func (s *Service) register(ctx context.Context, in *RegistrationInput) (*RegistrationResult, error) {
	if err := validateRegistration(in); err != nil {
		return nil, err
	}

	now := s.now()
	p := *in.CapabilityProof
	if v := proof.Validate(p, now); !v.Valid {
		s.log.Info("rejected capability proof", "name", in.Name, "tool", p.Tool, "reason", v.Reason)
		return nil, &ProofError{Reason: v.Reason}
	}
	// Validate already parsed it successfully
	proofTime, _ := p.Result.Time()

	apiKey, err := credential.GenerateAPIKey()
	if err != nil {
		return nil, err
	}
	var hash string
	var hashErr error
	if err := s.withHashSlot(ctx, "hash", func() {
		hash, hashErr = credential.HashAPIKey(apiKey)
	}); err != nil {
		return nil, err
	}
	if hashErr != nil {
		return nil, hashErr
	}

	verifiedAt := now.UTC()
	agent := &models.Agent{
		Name:         in.Name,
		Bio:          in.Bio,
		Capabilities: in.Capabilities,
		PublicKey:    in.PublicKey,
		APIKeyHash:   hash,
		Status:       models.StatusProbation,
		Verified:     true,
		VerifiedAt:   &verifiedAt,
	}
	rec := &models.CapabilityProofRecord{
		Tool:            string(p.Tool),
		Query:           p.Query,
		Success:         p.Result.Success,
		Data:            string(p.Result.Data),
		ResultTimestamp: proofTime.UTC(),
		Signature:       p.Signature,
	}
	if err := s.store.CreateAgent(ctx, agent, rec); err != nil {
		return nil, err
	}
	if s.keyCache != nil {
		s.keyCache.Add(keyDigest(apiKey), agent.ID)
	}

	s.log.Info("registered agent", "agent", agent.ID, "name", agent.Name, "tool", p.Tool)
	return &RegistrationResult{
		APIKey: apiKey,
		Agent:  agent.View(),
	}, nil
}

func keyDigest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])
}

func (s *Service) verifyKey(ctx context.Context, apiKey, hash string) (bool, error) {
	var ok bool
	err := s.withHashSlot(ctx, "verify", func() {
		ok = credential.VerifyAPIKey(apiKey, hash)
	})
	return ok, err
}

// lookupKey resolves an API key to its agent. A cache hit is still confirmed
// against the stored hash; anything else falls back to scanning every hash.
func (s *Service) lookupKey(ctx context.Context, apiKey string) (*models.Agent, error) {
	digest := keyDigest(apiKey)

	if s.keyCache != nil {
		if id, ok := s.keyCache.Get(digest); ok {
			agent, err := s.store.AgentByID(ctx, id)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			if agent != nil {
				match, err := s.verifyKey(ctx, apiKey, agent.APIKeyHash)
				if err != nil {
					return nil, err
				}
				if match {
					keyCacheHits.Inc()
					return agent, nil
				}
			}
			s.keyCache.Remove(digest)
		}
		keyCacheMisses.Inc()
	}

	var found *models.Agent
	var scanErr error
	err := s.store.ScanAgents(ctx, func(a *models.Agent) bool {
		match, err := s.verifyKey(ctx, apiKey, a.APIKeyHash)
		if err != nil {
			scanErr = err
			return true
		}
		if match {
			cp := *a
			found = &cp
			return true
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if scanErr != nil {
		return nil, scanErr
	}
	if found == nil {
		return nil, ErrInvalidAPIKey
	}
	if s.keyCache != nil {
		s.keyCache.Add(digest, found.ID)
	}
	return found, nil
}

// Login exchanges an API key for a session token.
func (s *Service) Login(ctx context.Context, apiKey string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	if !credential.HasKeyPrefix(apiKey) {
		logins.WithLabelValues("malformed").Inc()
		return nil, invalidField("apiKey", "invalid API key format")
	}

	agent, err := s.lookupKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, ErrInvalidAPIKey) {
			logins.WithLabelValues("invalid").Inc()
		} else {
			logins.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("agent", agent.ID))

	if agent.Banned() {
		logins.WithLabelValues("banned").Inc()
		return nil, ErrBanned
	}

	now := s.now().UTC()
	if err := s.store.TouchAgent(ctx, agent.ID, now); err != nil {
		return nil, fmt.Errorf("updating last active time: %w", err)
	}
	agent.LastActiveAt = &now

	tok, err := s.issuer.Sign(token.Claims{AgentID: agent.ID, Name: agent.Name})
	if err != nil {
		logins.WithLabelValues("error").Inc()
		return nil, err
	}

	logins.WithLabelValues("ok").Inc()
	return &LoginResult{
		Token: tok,
		Agent: agent.View(),
	}, nil
}

// Authenticate resolves a session token to a current, unbanned agent.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.Agent, error) {
	claims, ok := s.issuer.Verify(tokenString)
	if !ok {
		return nil, ErrInvalidToken
	}
	agent, err := s.store.AgentByID(ctx, claims.AgentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	if agent.Banned() {
		return nil, ErrBanned
	}
	return agent, nil
}
