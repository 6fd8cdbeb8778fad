package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const runColumns = `id, type, status, job_id, user_id, input, output, screenshots,
	error, progress, current_step, total_steps, started_at, completed_at, created_at, updated_at`

// advisoryLockKey namespaces the per-type admission lock so it cannot
// collide with other advisory locks on the same database.
func advisoryLockKey(runType string) string {
	return "automation_runs:" + runType
}

// CreateRunAdmitted reserves a concurrency slot and creates a running run in
// one transaction. It takes a per-type advisory lock, counts running runs of
// the same type, and only inserts if the count is below limit. Two
// concurrent admissions for the last slot therefore serialize: exactly one
// succeeds and the other observes the winner's row.
func (db *DB) CreateRunAdmitted(ctx context.Context, input *RunInput, limit int) (*AutomationRun, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	active, err := lockAndCountRunning(ctx, tx, input.RunType)
	if err != nil {
		return nil, err
	}
	if active >= limit {
		return nil, &ConcurrencyLimitError{RunType: input.RunType, Active: active, Limit: limit}
	}

	inputJSON, err := marshalJSONColumn(input.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run input: %w", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO automation_runs (type, status, job_id, user_id, input, started_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 RETURNING `+runColumns,
		input.RunType, RunStatusRunning, input.JobID, input.UserID, inputJSON,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit admission transaction: %w", err)
	}
	return run, nil
}

// CreatePendingRun creates a run row without reserving a concurrency slot.
// Used for scheduled runs, which pass through the gate when promoted, and
// for synchronous email runs that are finalized immediately.
func (db *DB) CreatePendingRun(ctx context.Context, input *RunInput) (*AutomationRun, error) {
	inputJSON, err := marshalJSONColumn(input.Input)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run input: %w", err)
	}

	row := db.pool.QueryRow(ctx,
		`INSERT INTO automation_runs (type, status, job_id, user_id, input)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING `+runColumns,
		input.RunType, RunStatusPending, input.JobID, input.UserID, inputJSON,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create pending run: %w", err)
	}
	return run, nil
}

// PromotePendingRun moves a pending run to running through the same
// admission gate used at creation.
func (db *DB) PromotePendingRun(ctx context.Context, runID uuid.UUID, limit int) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin promotion transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var runType, status string
	err = tx.QueryRow(ctx,
		`SELECT type, status FROM automation_runs WHERE id = $1 FOR UPDATE`, runID,
	).Scan(&runType, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &RunNotFoundError{RunID: runID.String()}
		}
		return fmt.Errorf("failed to load pending run: %w", err)
	}
	if status != RunStatusPending {
		return fmt.Errorf("run %s is %s, expected pending", runID, status)
	}

	active, err := lockAndCountRunning(ctx, tx, runType)
	if err != nil {
		return err
	}
	if active >= limit {
		return &ConcurrencyLimitError{RunType: runType, Active: active, Limit: limit}
	}

	_, err = tx.Exec(ctx,
		`UPDATE automation_runs SET status = $1, started_at = NOW(), updated_at = NOW() WHERE id = $2`,
		RunStatusRunning, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to promote run: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit promotion transaction: %w", err)
	}
	return nil
}

func lockAndCountRunning(ctx context.Context, tx pgx.Tx, runType string) (int, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, advisoryLockKey(runType)); err != nil {
		return 0, fmt.Errorf("failed to take admission lock: %w", err)
	}

	var active int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM automation_runs WHERE type = $1 AND status = $2`,
		runType, RunStatusRunning,
	).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("failed to count running runs: %w", err)
	}
	return active, nil
}

// GetRun retrieves an automation run by ID. Returns (nil, nil) if no run
// exists with that id.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*AutomationRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM automation_runs WHERE id = $1`, runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns retrieves recent automation runs with optional filters, newest
// first, capped at RunHistoryLimit.
func (db *DB) ListRuns(ctx context.Context, filters RunFilters) ([]AutomationRun, error) {
	if filters.Limit <= 0 || filters.Limit > RunHistoryLimit {
		filters.Limit = RunHistoryLimit
	}

	query := `SELECT ` + runColumns + ` FROM automation_runs WHERE 1=1`
	args := []any{}
	argNum := 1

	if filters.RunType != "" {
		query += fmt.Sprintf(" AND type = $%d", argNum)
		args = append(args, filters.RunType)
		argNum++
	}
	if filters.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argNum)
		args = append(args, filters.Status)
		argNum++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argNum)
	args = append(args, filters.Limit)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []AutomationRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// UpdateRunProgress persists the in-flight progress projection for a run.
// Terminal fields are untouched.
func (db *DB) UpdateRunProgress(ctx context.Context, runID uuid.UUID, progress, currentStep, totalSteps int) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE automation_runs
		 SET progress = $1, current_step = $2, total_steps = $3, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		progress, currentStep, totalSteps, runID, RunStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to update run progress: %w", err)
	}
	return nil
}

// CompleteRun finalizes a run exactly once: terminal status, output,
// managed screenshot names, error message, progress pinned to 100 and
// completed_at set. A second call for an already-terminal run is a no-op.
func (db *DB) CompleteRun(ctx context.Context, runID uuid.UUID, status string, output map[string]any, screenshots []string, errMsg *string) error {
	if !IsTerminalStatus(status) {
		return fmt.Errorf("cannot complete run with non-terminal status %q", status)
	}

	outputJSON, err := marshalJSONColumn(output)
	if err != nil {
		return fmt.Errorf("failed to marshal run output: %w", err)
	}
	screenshotsJSON, err := json.Marshal(screenshots)
	if err != nil {
		return fmt.Errorf("failed to marshal screenshots: %w", err)
	}

	result, err := db.pool.Exec(ctx,
		`UPDATE automation_runs
		 SET status = $1, output = $2, screenshots = $3, error = $4,
		     progress = 100, completed_at = NOW(), updated_at = NOW()
		 WHERE id = $5 AND completed_at IS NULL`,
		status, outputJSON, screenshotsJSON, errMsg, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if result.RowsAffected() == 0 {
		run, getErr := db.GetRun(ctx, runID)
		if getErr != nil {
			return getErr
		}
		if run == nil {
			return &RunNotFoundError{RunID: runID.String()}
		}
		// Already terminal; finalization is exactly-once.
	}
	return nil
}

// ListExpiredRunIDs returns ids of terminal runs created before cutoff,
// bounded by limit, for the screenshot retention sweep.
func (db *DB) ListExpiredRunIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id FROM automation_runs
		 WHERE status IN ($1, $2) AND created_at < $3
		 ORDER BY created_at ASC LIMIT $4`,
		RunStatusSuccess, RunStatusError, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired runs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan expired run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func marshalJSONColumn(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(value)
}

func scanRun(row pgx.Row) (*AutomationRun, error) {
	var run AutomationRun
	var inputJSON, outputJSON, screenshotsJSON []byte

	err := row.Scan(&run.ID, &run.RunType, &run.Status, &run.JobID, &run.UserID,
		&inputJSON, &outputJSON, &screenshotsJSON, &run.Error,
		&run.Progress, &run.CurrentStep, &run.TotalSteps,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if len(inputJSON) > 0 {
		_ = json.Unmarshal(inputJSON, &run.Input)
	}
	if len(outputJSON) > 0 {
		_ = json.Unmarshal(outputJSON, &run.Output)
	}
	if len(screenshotsJSON) > 0 {
		_ = json.Unmarshal(screenshotsJSON, &run.Screenshots)
	}

	return &run, nil
}
