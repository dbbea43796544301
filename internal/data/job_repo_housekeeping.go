package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/draftmill/draftmill/internal/core"
	"github.com/draftmill/draftmill/internal/data/pgxutil"
)

// Advisory lock namespace for sweeper housekeeping. Minor keys identify the
// operation so concurrent sweeper instances skip rather than pile up.
const advisoryLockSweeperMajor int64 = 1000

const (
	advisoryLockMinorDeleteJobs  int64 = 1
	advisoryLockMinorDeleteTasks int64 = 2
)

// DeleteTerminalBefore removes one batch of terminal jobs older than the
// cutoff and returns the number of rows deleted. Batching keeps locks and
// I/O spikes bounded on large tables; callers loop until zero.
func (r *JobRepo) DeleteTerminalBefore(
	ctx context.Context,
	params core.DeleteTerminalParams,
) (int64, error) {
	if !params.Stage.Terminal() {
		return 0, fmt.Errorf("stage %s is not terminal", params.Stage)
	}

	cutoff := r.timeProvider.Now().Add(-params.OlderThan).UTC()

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(
				ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockSweeperMajor, advisoryLockMinorDeleteJobs,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
			  DELETE FROM jobs
			  WHERE id IN (
			    SELECT id FROM jobs
			    WHERE current_stage = $1 AND updated_at < $2
			    ORDER BY created_at ASC
			    LIMIT $3
			  )
			`, params.Stage, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete terminal jobs: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// DeleteTerminalBefore removes one batch of completed or failed tasks older
// than the cutoff and returns the number of rows deleted.
func (r *TaskRepo) DeleteTerminalBefore(
	ctx context.Context,
	params core.DeleteTerminalTasksParams,
) (int64, error) {
	if !params.Status.Terminal() {
		return 0, fmt.Errorf("status %s is not terminal", params.Status)
	}

	cutoff := r.timeProvider.Now().Add(-params.OlderThan).UTC()

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(
				ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockSweeperMajor, advisoryLockMinorDeleteTasks,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			res, err := tx.ExecContext(ctx, `
			  DELETE FROM tasks
			  WHERE id IN (
			    SELECT id FROM tasks
			    WHERE status = $1 AND completed_at < $2
			    ORDER BY created_at ASC
			    LIMIT $3
			  )
			`, params.Status, cutoff, params.BatchSize)
			if err != nil {
				return fmt.Errorf("delete terminal tasks: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}
