// Package consolidation is the sleep-inspired maintenance engine: it walks
// handoffs up the compression ladder, folds recurring identity statements
// into principles, archives aged decisions and backfills missing embeddings.
// Runs are per tenant, per job type, exclusive, and resumable.
package consolidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/llm"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// Tick selects which job types a scheduled run performs.
type Tick string

const (
	// TickDaily runs compression steps 1-2 and the embedding backfill.
	TickDaily Tick = "daily"
	// TickWeekly adds identity consolidation and decision archival.
	TickWeekly Tick = "weekly"
	// TickMonthly adds integration (compression step 3).
	TickMonthly Tick = "monthly"
)

// compressionBatchSize bounds one selection; the job loops until the
// selection comes back empty, so the bound only caps memory.
const compressionBatchSize = 200

// Enqueuer re-submits rows to the embedding pipeline during backfill.
type Enqueuer interface {
	Enqueue(kind models.NodeKind, tenantID, id, text string)
}

// Warner records job failures for the health report.
type Warner interface {
	AddWarning(category, message, details, sourceID string) string
}

// Engine runs consolidation jobs. The now func is swappable for tests that
// simulate the passage of time.
type Engine struct {
	store    *store.Store
	llm      *llm.Service
	cfg      *config.ConsolidationConfig
	enqueuer Enqueuer
	warnings Warner
	now      func() time.Time
}

// NewEngine creates a consolidation engine. enqueuer and warnings may be nil.
func NewEngine(st *store.Store, llmService *llm.Service, cfg *config.ConsolidationConfig, enqueuer Enqueuer, warnings Warner) *Engine {
	if st == nil {
		panic("NewEngine: store must not be nil")
	}
	return &Engine{
		store:    st,
		llm:      llmService,
		cfg:      cfg,
		enqueuer: enqueuer,
		warnings: warnings,
		now:      time.Now,
	}
}

// SetClock overrides the engine clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Run executes one scheduled tick across every tenant that has data. Tenant
// failures are isolated: one tenant's error never stops the others.
func (e *Engine) Run(ctx context.Context, tick Tick) {
	tenants, err := e.store.ListTenants(ctx)
	if err != nil {
		slog.Error("Consolidation run could not list tenants", "tick", tick, "error", err)
		return
	}
	slog.Info("Consolidation run starting", "tick", tick, "tenants", len(tenants))
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		if _, err := e.RunTenant(ctx, tenantID, tick); err != nil {
			slog.Error("Consolidation failed for tenant", "tenant", tenantID, "tick", tick, "error", err)
		}
	}
	if tick == TickDaily {
		e.backfillEmbeddings(ctx)
	}
}

// RunTenant executes the tick's job types for one tenant. This is also the
// manual-trigger entry point; it returns every job row touched, including
// already-running jobs returned instead of started.
func (e *Engine) RunTenant(ctx context.Context, tenantID string, tick Tick) ([]*models.ConsolidationJob, error) {
	var jobs []*models.ConsolidationJob
	var firstErr error

	record := func(job *models.ConsolidationJob, err error) {
		if job != nil {
			jobs = append(jobs, job)
		}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	withIntegration := tick == TickMonthly
	record(e.runJob(ctx, tenantID, models.JobTypeHandoffCompression,
		func(ctx context.Context, job *models.ConsolidationJob) (int, int, map[string]any, error) {
			return e.compressHandoffs(ctx, tenantID, job, withIntegration)
		}))

	if tick == TickWeekly || tick == TickMonthly {
		record(e.runJob(ctx, tenantID, models.JobTypeIdentityConsolidation,
			func(ctx context.Context, job *models.ConsolidationJob) (int, int, map[string]any, error) {
				return e.consolidateIdentity(ctx, tenantID)
			}))
		record(e.runJob(ctx, tenantID, models.JobTypeDecisionArchival,
			func(ctx context.Context, job *models.ConsolidationJob) (int, int, map[string]any, error) {
				return e.archiveDecisions(ctx, tenantID)
			}))
	}

	return jobs, firstErr
}

type jobFunc func(ctx context.Context, job *models.ConsolidationJob) (processed, affected int, metadata map[string]any, err error)

// runJob claims the (tenant, job_type) slot and runs work under it. The
// claim happens inside one transaction holding the advisory lock: stale jobs
// are failed over, a live running job is returned as-is, otherwise a new
// running job row is inserted. Work runs outside the claim transaction with
// its own per-item sub-transactions, so partial progress survives a crash.
func (e *Engine) runJob(ctx context.Context, tenantID string, jobType models.JobType, work jobFunc) (*models.ConsolidationJob, error) {
	now := e.now().UTC()
	var job *models.ConsolidationJob
	var alreadyRunning bool

	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		locked, err := tx.AcquireJobLock(ctx, tenantID, jobType)
		if err != nil {
			return err
		}
		if !locked {
			existing, err := tx.GetRunningJob(ctx, tenantID, jobType)
			if err != nil {
				return fmt.Errorf("job slot locked by concurrent run: %w", err)
			}
			job, alreadyRunning = existing, true
			return nil
		}

		stale, err := tx.FailStaleJobs(ctx, tenantID, jobType, now.Add(-e.cfg.StaleJobTimeout), now)
		if err != nil {
			return err
		}
		for _, id := range stale {
			slog.Warn("Stale consolidation job taken over", "tenant", tenantID, "job_type", jobType, "job_id", id)
		}

		existing, err := tx.GetRunningJob(ctx, tenantID, jobType)
		if err == nil {
			job, alreadyRunning = existing, true
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		job = &models.ConsolidationJob{
			JobID:     models.NewID(models.PrefixJob),
			TenantID:  tenantID,
			JobType:   jobType,
			Status:    models.JobStatusRunning,
			StartedAt: &now,
			CreatedAt: now,
		}
		return tx.CreateJob(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	if alreadyRunning {
		slog.Info("Consolidation job already running, returning existing",
			"tenant", tenantID, "job_type", jobType, "job_id", job.JobID)
		return job, nil
	}

	processed, affected, metadata, workErr := work(ctx, job)
	finishedAt := e.now().UTC()
	if workErr != nil {
		if failErr := e.store.FailJob(ctx, tenantID, job.JobID, workErr.Error(), finishedAt); failErr != nil {
			slog.Error("Failed to mark consolidation job failed", "job_id", job.JobID, "error", failErr)
		}
		if e.warnings != nil {
			e.warnings.AddWarning("consolidation",
				fmt.Sprintf("%s job failed", jobType), workErr.Error(), job.JobID)
		}
		return job, workErr
	}
	if err := e.store.CompleteJob(ctx, tenantID, job.JobID, processed, affected, metadata, finishedAt); err != nil {
		return job, err
	}
	slog.Info("Consolidation job completed",
		"tenant", tenantID, "job_type", jobType, "job_id", job.JobID,
		"processed", processed, "affected", affected)
	return job, nil
}

// backfillEmbeddings re-enqueues handoffs whose async embed never landed.
func (e *Engine) backfillEmbeddings(ctx context.Context) {
	if e.enqueuer == nil {
		return
	}
	handoffs, err := e.store.ListHandoffsMissingEmbedding(ctx, compressionBatchSize)
	if err != nil {
		slog.Error("Embedding backfill selection failed", "error", err)
		return
	}
	for _, h := range handoffs {
		e.enqueuer.Enqueue(models.NodeKindHandoff, h.TenantID, h.HandoffID, h.EmbeddingText())
	}
	if len(handoffs) > 0 {
		slog.Info("Embedding backfill enqueued", "count", len(handoffs))
	}
}
