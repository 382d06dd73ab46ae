package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
)

const jobColumns = `job_id, tenant_id, job_type, status, started_at, completed_at,
	items_processed, items_affected, error_message, metadata, created_at`

func scanJob(row rowScanner) (*models.ConsolidationJob, error) {
	var (
		j           models.ConsolidationJob
		startedAt   sql.NullTime
		completedAt sql.NullTime
		metadata    []byte
	)
	err := row.Scan(&j.JobID, &j.TenantID, &j.JobType, &j.Status, &startedAt,
		&completedAt, &j.ItemsProcessed, &j.ItemsAffected, &j.ErrorMessage,
		&metadata, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(metadata, &j.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job metadata: %w", err)
	}
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.CreatedAt = j.CreatedAt.UTC()
	return &j, nil
}

// AcquireJobLock takes the transaction-scoped advisory lock guarding one
// (tenant, job_type) pair. Must be called inside WithTx; the lock releases
// on commit or rollback. Reports false when another transaction holds it.
func (s *Store) AcquireJobLock(ctx context.Context, tenantID string, jobType models.JobType) (bool, error) {
	if !s.InTx() {
		return false, fmt.Errorf("job lock requires a transaction")
	}
	var acquired bool
	err := s.q.QueryRowContext(ctx,
		`SELECT pg_try_advisory_xact_lock(hashtext($1), hashtext($2))`,
		tenantID, string(jobType),
	).Scan(&acquired)
	if err != nil {
		return false, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	return acquired, nil
}

// CreateJob inserts a consolidation job row.
func (s *Store) CreateJob(ctx context.Context, j *models.ConsolidationJob) error {
	metadata, err := jsonObject(j.Metadata)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO consolidation_jobs
		 (job_id, tenant_id, job_type, status, started_at, completed_at,
		  items_processed, items_affected, error_message, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		j.JobID, j.TenantID, j.JobType, j.Status, nullableTime(j.StartedAt),
		nullableTime(j.CompletedAt), j.ItemsProcessed, j.ItemsAffected,
		j.ErrorMessage, metadata, j.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("job %s: %w", j.JobID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// GetJob fetches one job by id within the tenant.
func (s *Store) GetJob(ctx context.Context, tenantID, jobID string) (*models.ConsolidationJob, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM consolidation_jobs
		 WHERE tenant_id = $1 AND job_id = $2`,
		tenantID, jobID,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

// GetRunningJob returns the running job for a (tenant, job_type) pair, or
// ErrNotFound when none is running.
func (s *Store) GetRunningJob(ctx context.Context, tenantID string, jobType models.JobType) (*models.ConsolidationJob, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM consolidation_jobs
		 WHERE tenant_id = $1 AND job_type = $2 AND status = 'running'
		 ORDER BY created_at DESC, job_id ASC LIMIT 1`,
		tenantID, jobType,
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("running %s job: %w", jobType, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get running job: %w", err)
	}
	return j, nil
}

// FailStaleJobs marks running jobs started before the cutoff as failed so a
// new run may take over. Returns the ids of the jobs taken over.
func (s *Store) FailStaleJobs(ctx context.Context, tenantID string, jobType models.JobType, cutoff time.Time, now time.Time) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`UPDATE consolidation_jobs
		 SET status = 'failed', completed_at = $4, error_message = 'stale job taken over'
		 WHERE tenant_id = $1 AND job_type = $2 AND status = 'running' AND started_at < $3
		 RETURNING job_id`,
		tenantID, jobType, cutoff, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to take over stale jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan stale job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stale job ids: %w", err)
	}
	return ids, nil
}

// UpdateJobProgress persists per-item progress counters mid-run.
func (s *Store) UpdateJobProgress(ctx context.Context, tenantID, jobID string, processed, affected int) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE consolidation_jobs SET items_processed = $3, items_affected = $4
		 WHERE tenant_id = $1 AND job_id = $2`,
		tenantID, jobID, processed, affected,
	)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return requireRow(res, "job "+jobID)
}

// CompleteJob marks a running job completed with final counters and metadata.
func (s *Store) CompleteJob(ctx context.Context, tenantID, jobID string, processed, affected int, metadata map[string]any, at time.Time) error {
	meta, err := jsonObject(metadata)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE consolidation_jobs
		 SET status = 'completed', completed_at = $3, items_processed = $4,
		     items_affected = $5, metadata = $6
		 WHERE tenant_id = $1 AND job_id = $2 AND status = 'running'`,
		tenantID, jobID, at, processed, affected, meta,
	)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return requireRow(res, "running job "+jobID)
}

// FailJob marks a running job failed with an error message.
func (s *Store) FailJob(ctx context.Context, tenantID, jobID, errorMessage string, at time.Time) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE consolidation_jobs
		 SET status = 'failed', completed_at = $3, error_message = $4
		 WHERE tenant_id = $1 AND job_id = $2 AND status = 'running'`,
		tenantID, jobID, at, errorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to fail job: %w", err)
	}
	return requireRow(res, "running job "+jobID)
}

// CountJobsByStatus tallies consolidation jobs per status across all tenants.
func (s *Store) CountJobsByStatus(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM consolidation_jobs GROUP BY status`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.JobStatus]int)
	for rows.Next() {
		var (
			status models.JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read job counts: %w", err)
	}
	return counts, nil
}

// ListJobs returns one keyset page of jobs, newest first, optionally
// filtered by type and status.
func (s *Store) ListJobs(ctx context.Context, tenantID string, jobType models.JobType, status models.JobStatus, page models.Keyset) ([]*models.ConsolidationJob, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if jobType != "" {
		args = append(args, jobType)
		conds = append(conds, fmt.Sprintf("job_type = $%d", len(args)))
	}
	if status != "" {
		args = append(args, status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND job_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM consolidation_jobs WHERE %s
		 ORDER BY created_at DESC, job_id ASC LIMIT $%d`,
		jobColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ConsolidationJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read jobs: %w", err)
	}
	return jobs, nil
}
