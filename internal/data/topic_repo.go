package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/draftmill/draftmill/internal/domain/model"
)

// ErrTopicNotFound is returned when a topic is not found.
var ErrTopicNotFound = errors.New("topic not found")

// TopicRepo provides database operations for article topics.
type TopicRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewTopicRepo creates a new TopicRepo instance with the given database connection and configuration.
func NewTopicRepo(db *sql.DB, cfg RepoConfig) *TopicRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &TopicRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const topicColumns = `id, title, keyword, approved, created_at`

// Create creates a new unapproved topic.
func (r *TopicRepo) Create(ctx context.Context, req *model.CreateTopicRequest) (*model.Topic, error) {
	if req == nil {
		return nil, errors.New("create topic request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	row := r.DB.QueryRowContext(ctx, `
	  INSERT INTO topics (title, keyword, created_at)
	  VALUES ($1, $2, $3)
	  RETURNING `+topicColumns,
		req.Title, req.Keyword, r.timeProvider.Now().UTC())

	topic, err := scanTopicFromRow(row)
	if err != nil {
		return nil, fmt.Errorf("insert topic: %w", err)
	}
	return topic, nil
}

// GetByID retrieves a topic by its ID.
func (r *TopicRepo) GetByID(ctx context.Context, id string) (*model.Topic, error) {
	row := r.DB.QueryRowContext(ctx, `
	  SELECT `+topicColumns+`
	  FROM topics
	  WHERE id = $1
	`, id)

	topic, err := scanTopicFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTopicNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get topic: %w", err)
	}
	return topic, nil
}

// List returns topics, newest first.
func (r *TopicRepo) List(ctx context.Context, limit, offset int) ([]*model.Topic, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.DB.QueryContext(ctx, `
	  SELECT `+topicColumns+`
	  FROM topics
	  ORDER BY created_at DESC
	  LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var topics []*model.Topic
	for rows.Next() {
		topic, scanErr := scanTopicFromRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan topic: %w", scanErr)
		}
		topics = append(topics, topic)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("topic rows: %w", rowsErr)
	}
	return topics, nil
}

// Approve marks a topic as approved. Returns false when the topic does not exist.
func (r *TopicRepo) Approve(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
	  UPDATE topics
	  SET approved = true
	  WHERE id = $1
	`, id)
	if err != nil {
		return false, fmt.Errorf("approve topic: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("approve rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func scanTopicFromRow(scanner rowScanner) (*model.Topic, error) {
	topic := &model.Topic{}
	if err := scanner.Scan(&topic.ID, &topic.Title, &topic.Keyword, &topic.Approved, &topic.CreatedAt); err != nil {
		return nil, err
	}
	return topic, nil
}
