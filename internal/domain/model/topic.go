package model

import (
	"errors"
	"time"
)

// Topic is an article idea jobs are created from. Only approved topics may
// spawn jobs.
type Topic struct {
	ID        string    `json:"id"         db:"id"`
	Title     string    `json:"title"      db:"title"`
	Keyword   string    `json:"keyword"    db:"keyword"`
	Approved  bool      `json:"approved"   db:"approved"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// CreateTopicRequest represents a request to create a topic.
type CreateTopicRequest struct {
	Title   string `json:"title"`
	Keyword string `json:"keyword,omitempty"`
}

// Validate validates the CreateTopicRequest fields.
func (r *CreateTopicRequest) Validate() error {
	if r.Title == "" {
		return errors.New("title is required")
	}
	if len(r.Title) > 500 {
		return errors.New("title must be at most 500 characters")
	}
	return nil
}
