package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data/pgxutil"
	"github.com/draftmill/draftmill/internal/domain/model"
)

var (
	// ErrJobNotFound is returned when a job is not found.
	ErrJobNotFound = errors.New("job not found")
)

// RepoConfig holds configuration options for the data repositories.
type RepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for pipeline jobs.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg RepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       cfg.Logger,
	}
}

const jobColumns = `
  id,
  topic_id,
  title,
  current_stage,
  stage_outputs,
  retry_count,
  max_retries,
  last_error,
  created_at,
  updated_at,
  published_at
`

// stageRankSQL orders jobs by their position in the fixed pipeline. Earlier
// stages win so half-finished jobs stay bounded.
const stageRankSQL = `
  CASE current_stage
    WHEN 'pending'              THEN 0
    WHEN 'researching'          THEN 1
    WHEN 'writing'              THEN 2
    WHEN 'enriching'            THEN 3
    WHEN 'revising'             THEN 4
    WHEN 'fact_checking'        THEN 5
    WHEN 'seo_optimizing'       THEN 6
    WHEN 'humanizing'           THEN 7
    WHEN 'internal_linking'     THEN 8
    WHEN 'media_generating'     THEN 9
    WHEN 'wordpress_formatting' THEN 10
    ELSE 99
  END
`

const defaultMaxRetries = 3

// Create creates a new job starting at the pending stage.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if validateErr := req.Validate(); validateErr != nil {
		return nil, validateErr
	}

	maxRetries := defaultMaxRetries
	if req.MaxRetries > 0 {
		maxRetries = req.MaxRetries
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			rows, qerr := tx.Query(ctx, `
			  INSERT INTO jobs (topic_id, title, current_stage, max_retries, created_at, updated_at)
			  VALUES ($1, $2, 'pending', $3, $4, $4)
			  RETURNING `+jobColumns,
				req.TopicID, req.Title, maxRetries, r.timeProvider.Now().UTC())
			if qerr != nil {
				return fmt.Errorf("insert job: %w", qerr)
			}
			j, collectErr := collectJobFromRows(rows)
			rows.Close()
			if collectErr != nil {
				return fmt.Errorf("collect job: %w", collectErr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, qerr := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if qerr != nil {
			return qerr
		}
		defer rows.Close()
		var collectErr error
		job, collectErr = collectJobFromRows(rows)
		return collectErr
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetNext returns the non-terminal job in the earliest pipeline stage,
// breaking ties by lowest retry count, then oldest creation time.
func (r *JobRepo) GetNext(ctx context.Context) (*model.Job, error) {
	row := r.DB.QueryRowContext(ctx, `
	  SELECT `+jobColumns+`
	  FROM jobs
	  WHERE current_stage NOT IN ('ready', 'published', 'failed')
	  ORDER BY `+stageRankSQL+` ASC, retry_count ASC, created_at ASC
	  LIMIT 1
	`)

	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNoJobsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("get next job: %w", err)
	}
	return job, nil
}

// Advance moves a job forward in a single atomic write: new stage, merged
// stage output, retry reset, error clear, and timestamp. The write is
// conditional on the job still being at the expected stage; a false return
// means another writer got there first and nothing changed.
func (r *JobRepo) Advance(ctx context.Context, params core.AdvanceJobParams) (bool, error) {
	output := params.Output
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}

	res, err := r.DB.ExecContext(ctx, `
	  UPDATE jobs
	  SET
	    current_stage = $3,
	    stage_outputs = stage_outputs || jsonb_build_object($4::text, $5::jsonb),
	    retry_count = 0,
	    last_error = NULL,
	    updated_at = $6
	  WHERE id = $1 AND current_stage = $2
	`, params.JobID, params.ExpectedStage, params.NextStage, params.OutputKey, []byte(output), r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("advance job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("advance rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// RecordFailure applies the bounded retry path in one conditional write:
// below the retry bound the counter increments and the job stays at its
// stage; at the bound the job moves to failed. Returns nil when the job was
// no longer at the expected stage.
func (r *JobRepo) RecordFailure(
	ctx context.Context,
	params core.RecordJobFailureParams,
) (*core.FailureOutcome, error) {
	query := `
	  UPDATE jobs
	  SET
	    last_error = $3,
	    current_stage = CASE WHEN retry_count >= max_retries THEN 'failed' ELSE current_stage END,
	    retry_count = CASE WHEN retry_count >= max_retries THEN retry_count ELSE retry_count + 1 END,
	    updated_at = $4
	  WHERE id = $1 AND current_stage = $2
	  RETURNING current_stage, retry_count
	`

	var outcome core.FailureOutcome
	err := r.DB.QueryRowContext(
		ctx, query,
		params.JobID, params.ExpectedStage, params.Error, r.timeProvider.Now().UTC(),
	).Scan(&outcome.Stage, &outcome.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("record job failure: %w", err)
	}
	return &outcome, nil
}

// GetStuck returns jobs parked in a working stage whose updated_at is older
// than the cutoff. Pending jobs are excluded; they are merely unstarted.
func (r *JobRepo) GetStuck(ctx context.Context, olderThan time.Duration) ([]*model.Job, error) {
	cutoff := r.timeProvider.Now().Add(-olderThan).UTC()

	rows, err := r.DB.QueryContext(ctx, `
	  SELECT `+jobColumns+`
	  FROM jobs
	  WHERE current_stage NOT IN ('pending', 'ready', 'published', 'failed')
	    AND updated_at < $1
	  ORDER BY updated_at ASC
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("get stuck jobs: %w", err)
	}
	defer rows.Close()

	return scanJobList(rows)
}

// Reset re-drives a job: sets the stage and clears retries and error. Used
// by operators to restart a failed job from a chosen stage.
func (r *JobRepo) Reset(ctx context.Context, id string, stage model.Stage) (bool, error) {
	if !stage.Valid() {
		return false, fmt.Errorf("invalid stage: %s", stage)
	}

	res, err := r.DB.ExecContext(ctx, `
	  UPDATE jobs
	  SET current_stage = $2,
	      retry_count = 0,
	      last_error = NULL,
	      updated_at = $3
	  WHERE id = $1
	`, id, stage, r.timeProvider.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("reset job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// MarkPublished moves a ready job to published and stamps published_at.
func (r *JobRepo) MarkPublished(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
	  UPDATE jobs
	  SET current_stage = 'published',
	      published_at = $2,
	      updated_at = $2
	  WHERE id = $1 AND current_stage = 'ready'
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("mark published: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark published rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// List returns jobs matching the filter, newest first.
func (r *JobRepo) List(ctx context.Context, filter *model.JobFilter) ([]*model.Job, error) {
	limit := 100
	var stage *model.Stage
	if filter != nil {
		if filter.Limit > 0 {
			limit = filter.Limit
		}
		stage = filter.Stage
	}

	query := `
	  SELECT ` + jobColumns + `
	  FROM jobs
	  WHERE ($1::text IS NULL OR current_stage = $1)
	  ORDER BY created_at DESC
	  LIMIT $2
	`

	rows, err := r.DB.QueryContext(ctx, query, stage, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	return scanJobList(rows)
}

// Stats returns per-stage job counts.
func (r *JobRepo) Stats(ctx context.Context) (*model.PipelineStats, error) {
	rows, err := r.DB.QueryContext(ctx, `
	  SELECT current_stage, count(*)
	  FROM jobs
	  GROUP BY current_stage
	`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := &model.PipelineStats{Stages: make(map[model.Stage]int)}
	for rows.Next() {
		var stage model.Stage
		var count int
		if scanErr := rows.Scan(&stage, &count); scanErr != nil {
			return nil, fmt.Errorf("scan job stats: %w", scanErr)
		}
		stats.Stages[stage] = count
		stats.Total += count
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("job stats rows: %w", rowsErr)
	}
	return stats, nil
}

// collectJobFromRows collects a single job from pgx rows using pgx v5 helpers.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}

	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}

	return job, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	outputs            []byte
	topicID, lastError sql.NullString
	publishedAt        sql.NullTime
}

func (d *jobRowData) scanInto(scanner rowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&d.topicID,
		&job.Title,
		&job.CurrentStage,
		&d.outputs,
		&job.RetryCount,
		&job.MaxRetries,
		&d.lastError,
		&job.CreatedAt,
		&job.UpdatedAt,
		&d.publishedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) error {
	job.TopicID = cloneNullableString(d.topicID)
	job.LastError = cloneNullableString(d.lastError)
	job.PublishedAt = cloneNullableTime(d.publishedAt)

	outputs := make(model.StageOutputs)
	if len(d.outputs) > 0 {
		if err := json.Unmarshal(d.outputs, &outputs); err != nil {
			return fmt.Errorf("decode stage outputs: %w", err)
		}
	}
	job.StageOutputs = outputs
	return nil
}

func scanJobFromRow(scanner rowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	if err := data.apply(job); err != nil {
		return nil, err
	}
	return job, nil
}

func scanJobList(rows *sql.Rows) ([]*model.Job, error) {
	var jobs []*model.Job
	for rows.Next() {
		job, err := scanJobFromRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job rows: %w", err)
	}
	return jobs, nil
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
