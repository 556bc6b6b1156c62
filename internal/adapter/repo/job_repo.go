package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"server/internal/db"
	"server/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	db db.DBTX
}

// NewJobRepository creates a job repository backed by the given query surface.
func NewJobRepository(db db.DBTX) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, owner_id, kind, status, source_asset_key, parameters)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, updated_at;
`
	row := r.db.QueryRow(ctx, query,
		job.ID,
		job.OwnerID,
		job.Kind,
		job.Status,
		job.SourceAssetKey,
		job.ParamsJSON,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.db.QueryRow(ctx, selectJobColumns+` WHERE id = $1;`, jobID)
	return scanJob(row)
}

// ListByOwner returns the owner's jobs most-recent-first. Ties on created_at
// break by id so pagination restarts deterministically.
func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, selectJobColumns+`
WHERE owner_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2 OFFSET $3;
`, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// Transition applies a status change as one compare-and-set UPDATE. The
// WHERE clause enforces the lifecycle table, which makes the store the
// single point of truth for transition legality under concurrent callbacks.
func (r *JobRepositoryPG) Transition(ctx context.Context, jobID string, to domain.JobStatus, fields domain.TransitionFields) error {
	sources := domain.TransitionSources(to)
	if len(sources) == 0 {
		return domain.ErrInvalidTransition
	}
	from := make([]string, 0, len(sources))
	for _, s := range sources {
		from = append(from, string(s))
	}
	query := `
UPDATE jobs
SET status = $2,
    result_asset_key = NULLIF($3, ''),
    error_message = NULLIF($4, ''),
    updated_at = now()
WHERE id = $1 AND status = ANY($5);
`
	tag, err := r.db.Exec(ctx, query, jobID, to, fields.ResultAssetKey, fields.ErrorMessage, from)
	if err != nil {
		return fmt.Errorf("transition job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	// Nothing matched: either the job does not exist or its current status
	// forbids the transition.
	if _, err := r.GetByID(ctx, jobID); err != nil {
		return err
	}
	return domain.ErrInvalidTransition
}

// SetProcessorRef records the processor's request handle after dispatch
// acceptance.
func (r *JobRepositoryPG) SetProcessorRef(ctx context.Context, jobID, ref string) error {
	tag, err := r.db.Exec(ctx, `UPDATE jobs SET processor_ref = $2, updated_at = now() WHERE id = $1;`, jobID, ref)
	if err != nil {
		return fmt.Errorf("set processor ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListPollable returns non-terminal jobs with a processor ref that have not
// been touched for staleSeconds, oldest first.
func (r *JobRepositoryPG) ListPollable(ctx context.Context, staleSeconds int, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, selectJobColumns+`
WHERE status IN ('queued', 'processing')
  AND processor_ref IS NOT NULL
  AND updated_at < now() - make_interval(secs => $1)
ORDER BY updated_at ASC
LIMIT $2;
`, staleSeconds, limit)
	if err != nil {
		return nil, fmt.Errorf("list pollable jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// StatsSummary aggregates lifecycle counters across all jobs.
func (r *JobRepositoryPG) StatsSummary(ctx context.Context) (*domain.JobStats, error) {
	query := `
SELECT count(*),
       count(*) FILTER (WHERE status = 'succeeded'),
       count(*) FILTER (WHERE status = 'failed')
FROM jobs;
`
	var stats domain.JobStats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Total, &stats.Succeeded, &stats.Failed); err != nil {
		return nil, fmt.Errorf("stats summary: %w", err)
	}
	if done := stats.Succeeded + stats.Failed; done > 0 {
		stats.SuccessRate = float64(stats.Succeeded) / float64(done)
	}
	return &stats, nil
}

const selectJobColumns = `
SELECT id, owner_id, kind, status, source_asset_key, parameters,
       COALESCE(result_asset_key, ''), COALESCE(error_message, ''), COALESCE(processor_ref, ''),
       created_at, updated_at
FROM jobs`

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Kind,
		&job.Status,
		&job.SourceAssetKey,
		&job.ParamsJSON,
		&job.ResultAssetKey,
		&job.ErrorMessage,
		&job.ProcessorRef,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

func collectJobs(rows pgx.Rows) ([]domain.Job, error) {
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}
