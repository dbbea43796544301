package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBError_NilError(t *testing.T) {
	assert.NoError(t, MapDBError(nil))
}

func TestMapDBError_ContextErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode ErrorCode
	}{
		{name: "deadline exceeded", err: context.DeadlineExceeded, wantCode: ErrCodeTimeout},
		{name: "canceled", err: context.Canceled, wantCode: ErrCodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.err)
			assert.Equal(t, tt.wantCode, GetCode(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMapDBError_NoRows(t *testing.T) {
	err := MapDBError(pgx.ErrNoRows)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMapDBError_UniqueViolation(t *testing.T) {
	tests := []struct {
		name      string
		pgErr     *pgconn.PgError
		wantField string
	}{
		{
			name: "column name metadata",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "topics_title_key",
				ColumnName:     "title",
			},
			wantField: "title",
		},
		{
			name: "field parsed from detail",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "topics_title_key",
				Detail:         `Key (title)=(How to brew coffee) already exists.`,
			},
			wantField: "title",
		},
		{
			name: "multi-column detail",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "tasks_job_id_kind_key",
				Detail:         `Key (job_id, kind)=(550e8400-e29b-41d4-a716-446655440000, research) already exists.`,
			},
			wantField: "job_id, kind",
		},
		{
			name: "no metadata at all",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.UniqueViolation,
				ConstraintName: "topics_title_key",
			},
			wantField: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			assert.True(t, IsConflict(err), "got code %v", GetCode(err))
			assert.Equal(t, tt.wantField, GetField(err))
		})
	}
}

func TestMapDBError_ForeignKeyViolation(t *testing.T) {
	tests := []struct {
		name         string
		pgErr        *pgconn.PgError
		wantContains string
	}{
		{
			name: "deleting a job still referenced by tasks",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.ForeignKeyViolation,
				ConstraintName: "tasks_job_id_fkey",
				Detail:         `Key (id)=(550e8400-e29b-41d4-a716-446655440000) is still referenced from table "tasks".`,
			},
			wantContains: "in use by Task",
		},
		{
			name: "enqueueing a task for a missing job",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.ForeignKeyViolation,
				ConstraintName: "tasks_job_id_fkey",
				Detail:         `Key (job_id)=(550e8400-e29b-41d4-a716-446655440000) is not present in table "jobs".`,
			},
			wantContains: "Job does not exist",
		},
		{
			name: "table name metadata only",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.ForeignKeyViolation,
				ConstraintName: "pipeline_events_job_id_fkey",
				TableName:      "pipeline_events",
			},
			wantContains: "in use by Event",
		},
		{
			name: "no detail and no table name",
			pgErr: &pgconn.PgError{
				Code:           pgerrcode.ForeignKeyViolation,
				ConstraintName: "jobs_topic_id_fkey",
			},
			wantContains: "in use",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapDBError(tt.pgErr)
			assert.True(t, IsForeignKey(err), "got code %v", GetCode(err))

			var appErr *AppError
			require.ErrorAs(t, err, &appErr)
			assert.Contains(t, appErr.Message, tt.wantContains)
		})
	}
}

func TestMapDBError_NotNullViolation(t *testing.T) {
	withColumn := MapDBError(&pgconn.PgError{
		Code:       pgerrcode.NotNullViolation,
		ColumnName: "title",
	})
	assert.True(t, IsValidation(withColumn))
	assert.Equal(t, "title", GetField(withColumn))

	withoutColumn := MapDBError(&pgconn.PgError{Code: pgerrcode.NotNullViolation})
	assert.True(t, IsValidation(withoutColumn))
	assert.Empty(t, GetField(withoutColumn))
}

func TestMapDBError_CheckViolation(t *testing.T) {
	withColumn := MapDBError(&pgconn.PgError{
		Code:       pgerrcode.CheckViolation,
		ColumnName: "retry_count",
	})
	assert.True(t, IsValidation(withColumn))
	assert.Equal(t, "retry_count", GetField(withColumn))

	withoutColumn := MapDBError(&pgconn.PgError{
		Code:           pgerrcode.CheckViolation,
		ConstraintName: "jobs_current_stage_check",
	})
	assert.True(t, IsValidation(withoutColumn))
	assert.Empty(t, GetField(withoutColumn))
}

func TestMapDBError_UnknownPgError(t *testing.T) {
	err := MapDBError(&pgconn.PgError{
		Code:    "57P01", // admin_shutdown
		Message: "terminating connection due to administrator command",
	})
	assert.True(t, IsInternal(err), "got code %v", GetCode(err))
}

func TestMapDBError_StandardError(t *testing.T) {
	stdErr := errors.New("connection refused")
	err := MapDBError(stdErr)
	assert.ErrorIs(t, err, stdErr)
	assert.Empty(t, GetCode(err))
}

func TestMapTableToDomain(t *testing.T) {
	tests := []struct {
		tableName string
		want      string
	}{
		{tableName: "topics", want: "Topic"},
		{tableName: "jobs", want: "Job"},
		{tableName: "tasks", want: "Task"},
		{tableName: "pipeline_events", want: "Event"},
		{tableName: "  JOBS  ", want: "Job"},
		{tableName: "schema_migrations", want: "Schema Migrations"},
		{tableName: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.tableName, func(t *testing.T) {
			assert.Equal(t, tt.want, mapTableToDomain(tt.tableName))
		})
	}
}

func TestCapitalizeFirst(t *testing.T) {
	assert.Equal(t, "Stage Outputs", capitalizeFirst("stage outputs"))
	assert.Equal(t, "Job", capitalizeFirst("Job"))
	assert.Equal(t, "", capitalizeFirst(""))
}
