package storage

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/bksd/bksd/pkg/domain"
)

const jobInsertQuery = `
	INSERT INTO jobs (id, target_id, destination_path, created_at)
	VALUES (?, ?, ?, ?)
`

const statusLogInsertQuery = `
	INSERT INTO job_status_log (id, job_id, status_tag, description, total_bytes, duration_secs, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
`

// latestStatusExpr mirrors the original implementation's correlated
// subquery: the most recent job_status_log row per job is its current
// status, defaulting to "unknown" for a job with no logged transitions yet.
const latestStatusExpr = `
	COALESCE(
		(SELECT status_tag FROM job_status_log
		 WHERE job_status_log.job_id = jobs.id
		 ORDER BY created_at DESC, rowid DESC LIMIT 1),
		'unknown'
	)
`

const jobListQuery = `
	SELECT
		jobs.id, jobs.target_id, jobs.destination_path, jobs.created_at,
		` + latestStatusExpr + ` AS status
	FROM jobs
	ORDER BY jobs.created_at DESC
	LIMIT ? OFFSET ?
`

const jobListFilteredQuery = `
	SELECT * FROM (
		SELECT
			jobs.id, jobs.target_id, jobs.destination_path, jobs.created_at,
			` + latestStatusExpr + ` AS status
		FROM jobs
	) WHERE status = ?
	ORDER BY created_at DESC
	LIMIT ? OFFSET ?
`

const jobGetQuery = `
	SELECT
		jobs.id, jobs.target_id, jobs.destination_path, jobs.created_at,
		` + latestStatusExpr + ` AS status
	FROM jobs
	WHERE jobs.id = ?
`

const jobHistoryQuery = `
	SELECT id, job_id, status_tag, description, total_bytes, duration_secs, created_at
	FROM job_status_log
	WHERE job_id = ?
	ORDER BY created_at ASC, rowid ASC
`

// CreateJob inserts the initial jobs row. The caller is expected to follow
// up with an AppendStatus(Ready) to give the job its first status_log entry.
func (r *Repository) CreateJob(ctx context.Context, job domain.Job) error {
	_, err := r.db.ExecContext(ctx, jobInsertQuery,
		job.ID, job.TargetID, job.DestinationPath, job.CreatedAt,
	)
	return err
}

// AppendStatus writes one immutable job_status_log row. There is no update
// path: a job's current status is always the latest logged row.
func (r *Repository) AppendStatus(ctx context.Context, jobID string, tag domain.StatusTag, description *string, totalBytes, durationSecs *uint64) error {
	id, err := newLogID()
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, statusLogInsertQuery,
		id, jobID, string(tag), description, totalBytes, durationSecs, nowUTC(),
	)
	return err
}

// ListJobs returns jobs newest-first, optionally filtered to a single
// status tag, each joined with its latest status.
func (r *Repository) ListJobs(ctx context.Context, limit, offset uint32, statusFilter *string) ([]domain.Job, error) {
	var jobs []domain.Job

	if statusFilter == nil {
		err := r.db.SelectContext(ctx, &jobs, jobListQuery, limit, offset)
		if err != nil {
			return nil, err
		}
		return jobs, nil
	}

	err := r.db.SelectContext(ctx, &jobs, jobListFilteredQuery, *statusFilter, limit, offset)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// GetJob fetches a single job with its full, ordered status history.
func (r *Repository) GetJob(ctx context.Context, id string) (domain.JobWithHistory, error) {
	var job domain.Job
	err := r.db.GetContext(ctx, &job, jobGetQuery, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.JobWithHistory{}, errors.Wrapf(err, "job %s not found", id)
	} else if err != nil {
		return domain.JobWithHistory{}, err
	}

	var history []domain.JobStatusLogEntry
	if err := r.db.SelectContext(ctx, &history, jobHistoryQuery, id); err != nil {
		return domain.JobWithHistory{}, err
	}

	return domain.JobWithHistory{Job: job, History: history}, nil
}

var _ domain.Persistence = (*Repository)(nil)
