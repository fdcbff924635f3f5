package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/moodreel/moodreel/internal/models"
)

const jobColumns = `
	id, user_id, status, mood, lyrics, audio_url, selfie_url,
	result_url, assembly_manifest, error_message, provider_refs,
	assembly_progress, created_at, updated_at
`

// scanJob reads one job row. The manifest and provider refs columns are
// nullable JSONB and decoded here rather than through sql.Scanner so a NULL
// manifest stays a nil pointer.
func scanJob(row interface{ Scan(...interface{}) error }) (*models.Job, error) {
	job := &models.Job{}
	var manifestRaw, refsRaw []byte

	err := row.Scan(
		&job.ID, &job.UserID, &job.Status, &job.Mood, &job.Lyrics,
		&job.AudioURL, &job.SelfieURL, &job.ResultURL, &manifestRaw,
		&job.ErrorMessage, &refsRaw, &job.AssemblyProgress,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if manifestRaw != nil {
		var m models.AssemblyManifest
		if err := json.Unmarshal(manifestRaw, &m); err != nil {
			return nil, fmt.Errorf("failed to decode manifest: %w", err)
		}
		job.Manifest = &m
	}
	if refsRaw != nil {
		if err := json.Unmarshal(refsRaw, &job.ProviderRefs); err != nil {
			return nil, fmt.Errorf("failed to decode provider refs: %w", err)
		}
	}

	return job, nil
}

func (db *DB) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (
			id, user_id, status, mood, lyrics, audio_url, selfie_url, provider_refs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return db.QueryRowContext(
		ctx, query,
		job.ID, job.UserID, job.Status, job.Mood, job.Lyrics,
		job.AudioURL, job.SelfieURL, job.ProviderRefs,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
}

func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// GetJobForUser retrieves a job only if it belongs to the given user. A job
// owned by someone else is indistinguishable from a missing one.
func (db *DB) GetJobForUser(ctx context.Context, id, userID uuid.UUID) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND user_id = $2`

	job, err := scanJob(db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListJobs returns a user's jobs newest first, optionally filtered by status.
func (db *DB) ListJobs(ctx context.Context, userID uuid.UUID, status models.JobStatus, limit, offset int) ([]models.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM jobs
		WHERE user_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := db.QueryContext(ctx, query, userID, string(status), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

func (db *DB) CountJobs(ctx context.Context, userID uuid.UUID, status models.JobStatus) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM jobs
		WHERE user_id = $1 AND ($2::text = '' OR status = $2::text)
	`

	var count int
	if err := db.QueryRowContext(ctx, query, userID, string(status)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count jobs: %w", err)
	}
	return count, nil
}

// ClaimJob atomically moves a queued job to running. The conditional update
// means two workers racing on the same queue entry cannot both claim it; the
// loser gets ErrConflict and drops the task.
func (db *DB) ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING ` + jobColumns

	job, err := scanJob(db.QueryRowContext(ctx, query, models.JobStatusRunning, id, models.JobStatusQueued))
	if err == sql.ErrNoRows {
		return nil, db.conflictOrMissing(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// SetJobReady stores the assembly manifest and provider diagnostics and moves
// a running job to ready_for_assembly.
func (db *DB) SetJobReady(ctx context.Context, id uuid.UUID, manifest models.AssemblyManifest, refs models.ProviderRefs) error {
	query := `
		UPDATE jobs
		SET status = $1, assembly_manifest = $2, provider_refs = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`

	return db.guardedUpdate(ctx, id, query,
		models.JobStatusReadyForAssembly, manifest, refs, id, models.JobStatusRunning)
}

// SetJobAssembling marks the start of assembly and resets progress.
func (db *DB) SetJobAssembling(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE jobs
		SET status = $1, assembly_progress = 0, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	return db.guardedUpdate(ctx, id, query,
		models.JobStatusAssembling, id, models.JobStatusReadyForAssembly)
}

// UpdateAssemblyProgress records reported progress. GREATEST keeps the stored
// value monotone even if reports arrive out of order.
func (db *DB) UpdateAssemblyProgress(ctx context.Context, id uuid.UUID, progress int) error {
	query := `
		UPDATE jobs
		SET assembly_progress = GREATEST(assembly_progress, $1), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	return db.guardedUpdate(ctx, id, query, progress, id, models.JobStatusAssembling)
}

// FinalizeJob records the result URL and completes the job. Accepted from any
// finalizable state; the caller validates the URL shape first.
func (db *DB) FinalizeJob(ctx context.Context, id uuid.UUID, resultURL string) error {
	query := `
		UPDATE jobs
		SET status = $1, result_url = $2, assembly_progress = 100, error_message = NULL, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)
	`

	states := make([]string, len(models.FinalizableStatuses))
	for i, s := range models.FinalizableStatuses {
		states[i] = string(s)
	}

	return db.guardedUpdate(ctx, id, query,
		models.JobStatusDone, resultURL, id, pq.Array(states))
}

// SetJobError moves any non-terminal job to error with a message. Terminal
// jobs are left untouched. The manifest is cleared so a failed job never
// carries one; only ready_for_assembly, assembling and done jobs do.
func (db *DB) SetJobError(ctx context.Context, id uuid.UUID, message string) error {
	query := `
		UPDATE jobs
		SET status = $1, error_message = $2, assembly_manifest = NULL, updated_at = NOW()
		WHERE id = $3 AND status NOT IN ($4, $5)
	`

	return db.guardedUpdate(ctx, id, query,
		models.JobStatusError, message, id, models.JobStatusDone, models.JobStatusError)
}

// guardedUpdate runs a conditional UPDATE and translates "no rows changed"
// into ErrNotFound or ErrConflict depending on whether the job exists.
func (db *DB) guardedUpdate(ctx context.Context, id uuid.UUID, query string, args ...interface{}) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return db.conflictOrMissing(ctx, id)
	}
	return nil
}

func (db *DB) conflictOrMissing(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check job existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}
