package service

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/lammac-social/lammac/models"
	"github.com/lammac-social/lammac/ratelimit"
	"github.com/lammac-social/lammac/spam"
	"github.com/lammac-social/lammac/store"
	"github.com/lammac-social/lammac/token"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
)

// Storage is the persistence surface the service needs. *store.Store
// implements it.
type Storage interface {
	CreateAgent(ctx context.Context, a *models.Agent, proof *models.CapabilityProofRecord) error
	AgentByID(ctx context.Context, id string) (*models.Agent, error)
	AgentByName(ctx context.Context, name string) (*models.Agent, error)
	ScanAgents(ctx context.Context, fn func(a *models.Agent) bool) error
	TouchAgent(ctx context.Context, id string, at time.Time) error
	PromoteAgent(ctx context.Context, id string) (bool, error)
	CountVerifiedPosts(ctx context.Context, agentID string) (int, error)

	CreateSubmolt(ctx context.Context, sm *models.Submolt) error
	SubmoltByName(ctx context.Context, name string) (*models.Submolt, error)
	ListSubmolts(ctx context.Context) ([]models.Submolt, error)
	CreatePost(ctx context.Context, p *models.Post) error
	PostByID(ctx context.Context, id string) (*models.Post, error)
	ListPosts(ctx context.Context, opts store.ListOptions) ([]*models.Post, error)
	CreateComment(ctx context.Context, c *models.Comment) error
	CommentsForPost(ctx context.Context, postID string) ([]models.Comment, error)
	CastVote(ctx context.Context, agentID string, tt models.TargetType, targetID string, value int) (*store.VoteResult, error)
	RecentActionTimes(ctx context.Context, agentID string, action ratelimit.Action, since time.Time) ([]time.Time, error)
	RecentPostTimes(ctx context.Context, agentID string, n int) ([]time.Time, error)
	Notifications(ctx context.Context, agentID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkNotificationsRead(ctx context.Context, agentID string) (int64, error)

	SetKarma(ctx context.Context, name string, karma int) (*models.Agent, error)
	VerifyAgent(ctx context.Context, name string, at time.Time) (*models.Agent, error)
	BanAgent(ctx context.Context, name, reason string) (*models.Agent, error)
	RemovePost(ctx context.Context, id, reason string) (*models.Post, error)
	DeletePost(ctx context.Context, id string) (int64, error)
}

const (
	DefaultKeyCacheSize = 10_000
	DefaultKeyCacheTTL  = 15 * time.Minute
)

type Config struct {
	Store  Storage
	Issuer *token.Issuer
	// nil uses ratelimit.DefaultLimits
	Limiter *ratelimit.Limiter
	// nil uses spam.DefaultRules
	SpamRules []spam.Rule

	// KeyCacheSize of zero uses DefaultKeyCacheSize; negative disables the cache.
	KeyCacheSize int
	KeyCacheTTL  time.Duration
	// concurrent bcrypt operations; zero means GOMAXPROCS
	HashConcurrency int64

	Now    func() time.Time
	Logger *slog.Logger
}

type Service struct {
	store   Storage
	issuer  *token.Issuer
	limiter *ratelimit.Limiter
	rules   []spam.Rule
	now     func() time.Time
	log     *slog.Logger

	// sha256(api key) -> agent ID
	keyCache *expirable.LRU[string, string]
	hashSem  *semaphore.Weighted
}

func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("service: store is required")
	}
	if cfg.Issuer == nil {
		return nil, fmt.Errorf("service: token issuer is required")
	}
	if cfg.Limiter == nil {
		cfg.Limiter = ratelimit.New(nil)
	}
	if cfg.SpamRules == nil {
		cfg.SpamRules = spam.DefaultRules
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HashConcurrency <= 0 {
		cfg.HashConcurrency = int64(runtime.GOMAXPROCS(0))
	}
	if cfg.KeyCacheSize == 0 {
		cfg.KeyCacheSize = DefaultKeyCacheSize
	}
	if cfg.KeyCacheTTL <= 0 {
		cfg.KeyCacheTTL = DefaultKeyCacheTTL
	}

	s := &Service{
		store:   cfg.Store,
		issuer:  cfg.Issuer,
		limiter: cfg.Limiter,
		rules:   cfg.SpamRules,
		now:     cfg.Now,
		log:     cfg.Logger.With("system", "service"),
		hashSem: semaphore.NewWeighted(cfg.HashConcurrency),
	}
	if cfg.KeyCacheSize > 0 {
		s.keyCache = expirable.NewLRU[string, string](cfg.KeyCacheSize, nil, cfg.KeyCacheTTL)
	}
	return s, nil
}

// withHashSlot runs fn while holding one bcrypt slot.
func (s *Service) withHashSlot(ctx context.Context, op string, fn func()) error {
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.hashSem.Release(1)

	start := time.Now()
	fn()
	keyHashDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	return nil
}
