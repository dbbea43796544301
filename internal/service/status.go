package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data"
	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
)

const statusCacheKey = "draftmill:status_snapshot"

// StatusServiceOptions groups dependencies for StatusService.
type StatusServiceOptions struct {
	Jobs         core.JobRepository   // Required: job repository
	Cache        core.CacheRepository // Optional: snapshot cache
	CacheTTL     time.Duration        // Optional: snapshot cache TTL
	TimeProvider data.TimeProvider    // Optional: time source
	Logger       *slog.Logger         // Optional: structured logger
}

// StatusService serves the read-only dashboard snapshot: per-stage job
// counts plus working/idle flags. Observability only; nothing here feeds
// scheduling decisions.
type StatusService struct {
	jobs         core.JobRepository
	cache        core.CacheRepository
	cacheTTL     time.Duration
	timeProvider data.TimeProvider
	logger       *slog.Logger
}

// NewStatusService constructs a new StatusService.
func NewStatusService(opts StatusServiceOptions) (*StatusService, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "status_service")
	}

	return &StatusService{
		jobs:         opts.Jobs,
		cache:        opts.Cache,
		cacheTTL:     ttl,
		timeProvider: tp,
		logger:       logger,
	}, nil
}

// Snapshot returns the current pipeline snapshot, served from the cache
// when fresh. Cache failures degrade to a direct read.
func (s *StatusService) Snapshot(ctx context.Context) (*model.StatusSnapshot, error) {
	if cached := s.fromCache(ctx); cached != nil {
		return cached, nil
	}

	stats, err := s.jobs.Stats(ctx)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	snapshot := model.BuildStatusSnapshot(*stats, s.timeProvider.Now().UTC())
	s.toCache(ctx, &snapshot)
	return &snapshot, nil
}

func (s *StatusService) fromCache(ctx context.Context) *model.StatusSnapshot {
	if s.cache == nil {
		return nil
	}

	raw, err := s.cache.Get(ctx, statusCacheKey)
	if err != nil {
		if !errors.Is(err, core.ErrCacheMiss) && s.logger != nil {
			s.logger.WarnContext(ctx, "status cache read failed", "error", err)
		}
		return nil
	}

	var snapshot model.StatusSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		if s.logger != nil {
			s.logger.WarnContext(ctx, "status cache decode failed", "error", err)
		}
		return nil
	}
	return &snapshot
}

func (s *StatusService) toCache(ctx context.Context, snapshot *model.StatusSnapshot) {
	if s.cache == nil {
		return
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, statusCacheKey, string(encoded), s.cacheTTL); err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "status cache write failed", "error", err)
	}
}
