package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/domain/model"
	apperrors "github.com/draftmill/draftmill/internal/errors"
)

// TopicServiceOptions groups dependencies for TopicService.
type TopicServiceOptions struct {
	Topics core.TopicRepository // Required: topic repository
	Logger *slog.Logger         // Optional: structured logger
}

// TopicService provides topic creation, listing, and approval.
type TopicService struct {
	topics core.TopicRepository
	logger *slog.Logger
}

// NewTopicService constructs a new TopicService.
func NewTopicService(opts TopicServiceOptions) (*TopicService, error) {
	if opts.Topics == nil {
		return nil, errors.New("TopicRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "topic_service")
	}

	return &TopicService{
		topics: opts.Topics,
		logger: logger,
	}, nil
}

// Create creates a new unapproved topic.
func (s *TopicService) Create(ctx context.Context, req *model.CreateTopicRequest) (*model.Topic, error) {
	topic, err := s.topics.Create(ctx, req)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return topic, nil
}

// List returns topics, newest first.
func (s *TopicService) List(ctx context.Context, limit, offset int) ([]*model.Topic, error) {
	topics, err := s.topics.List(ctx, limit, offset)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return topics, nil
}

// Approve marks a topic as approved so jobs can be created from it.
func (s *TopicService) Approve(ctx context.Context, id string) error {
	ok, err := s.topics.Approve(ctx, id)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	if !ok {
		return apperrors.NotFoundf("topic %s not found", id)
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "topic approved", "topic_id", id)
	}
	return nil
}
