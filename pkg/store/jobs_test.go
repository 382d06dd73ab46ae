package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

func seedJob(t *testing.T, s *store.Store, tenant string, mut func(*models.ConsolidationJob)) *models.ConsolidationJob {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	j := &models.ConsolidationJob{
		JobID:     models.NewID(models.PrefixJob),
		TenantID:  tenant,
		JobType:   models.JobTypeHandoffCompression,
		Status:    models.JobStatusRunning,
		StartedAt: &now,
		CreatedAt: now,
	}
	if mut != nil {
		mut(j)
	}
	require.NoError(t, s.CreateJob(context.Background(), j))
	return j
}

func TestJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-jobs"
	now := time.Now().UTC().Truncate(time.Millisecond)

	j := seedJob(t, s, tenant, nil)

	t.Run("roundtrip", func(t *testing.T) {
		got, err := s.GetJob(ctx, tenant, j.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobTypeHandoffCompression, got.JobType)
		assert.Equal(t, models.JobStatusRunning, got.Status)
		require.NotNil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("running job is discoverable by type", func(t *testing.T) {
		got, err := s.GetRunningJob(ctx, tenant, models.JobTypeHandoffCompression)
		require.NoError(t, err)
		assert.Equal(t, j.JobID, got.JobID)

		_, err = s.GetRunningJob(ctx, tenant, models.JobTypeDecisionArchival)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("progress then complete", func(t *testing.T) {
		require.NoError(t, s.UpdateJobProgress(ctx, tenant, j.JobID, 40, 12))

		done := now.Add(time.Minute)
		err := s.CompleteJob(ctx, tenant, j.JobID, 80, 25, map[string]any{"tokens_saved": float64(9000)}, done)
		require.NoError(t, err)

		got, err := s.GetJob(ctx, tenant, j.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusCompleted, got.Status)
		assert.Equal(t, 80, got.ItemsProcessed)
		assert.Equal(t, 25, got.ItemsAffected)
		assert.Equal(t, map[string]any{"tokens_saved": float64(9000)}, got.Metadata)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("terminal jobs reject further transitions", func(t *testing.T) {
		err := s.CompleteJob(ctx, tenant, j.JobID, 0, 0, nil, now)
		assert.ErrorIs(t, err, store.ErrNotFound)

		err = s.FailJob(ctx, tenant, j.JobID, "boom", now)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("fail records the message", func(t *testing.T) {
		failing := seedJob(t, s, tenant, func(job *models.ConsolidationJob) {
			job.JobType = models.JobTypeIdentityConsolidation
		})
		require.NoError(t, s.FailJob(ctx, tenant, failing.JobID, "embedding provider unreachable", now))

		got, err := s.GetJob(ctx, tenant, failing.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusFailed, got.Status)
		assert.Equal(t, "embedding provider unreachable", got.ErrorMessage)
	})
}

func TestFailStaleJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-stale"
	now := time.Now().UTC().Truncate(time.Millisecond)

	stale := seedJob(t, s, tenant, func(j *models.ConsolidationJob) {
		started := now.Add(-2 * time.Hour)
		j.StartedAt = &started
		j.CreatedAt = started
	})
	fresh := seedJob(t, s, tenant, func(j *models.ConsolidationJob) {
		started := now.Add(-10 * time.Minute)
		j.StartedAt = &started
		j.CreatedAt = started
	})

	taken, err := s.FailStaleJobs(ctx, tenant, models.JobTypeHandoffCompression, now.Add(-time.Hour), now)
	require.NoError(t, err)
	assert.Equal(t, []string{stale.JobID}, taken)

	got, err := s.GetJob(ctx, tenant, stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, "stale job taken over", got.ErrorMessage)

	got, err = s.GetJob(ctx, tenant, fresh.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status, "jobs inside the window keep running")
}

func TestAcquireJobLock(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-lock"

	t.Run("requires a transaction", func(t *testing.T) {
		_, err := s.AcquireJobLock(ctx, tenant, models.JobTypeHandoffCompression)
		assert.ErrorContains(t, err, "requires a transaction")
	})

	t.Run("second transaction cannot take the same lock", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx *store.Store) error {
			acquired, err := tx.AcquireJobLock(ctx, tenant, models.JobTypeHandoffCompression)
			require.NoError(t, err)
			assert.True(t, acquired)

			// A separate pooled transaction contends for the same
			// (tenant, job type) key while the first is still open.
			return s.WithTx(ctx, func(other *store.Store) error {
				contended, err := other.AcquireJobLock(ctx, tenant, models.JobTypeHandoffCompression)
				require.NoError(t, err)
				assert.False(t, contended)

				elsewhere, err := other.AcquireJobLock(ctx, tenant, models.JobTypeDecisionArchival)
				require.NoError(t, err)
				assert.True(t, elsewhere, "different job type locks independently")
				return nil
			})
		})
		require.NoError(t, err)
	})

	t.Run("lock releases at transaction end", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx *store.Store) error {
			acquired, err := tx.AcquireJobLock(ctx, tenant, models.JobTypeHandoffCompression)
			require.NoError(t, err)
			assert.True(t, acquired)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestListJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-job-list"
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedJob(t, s, tenant, func(j *models.ConsolidationJob) {
		j.Status = models.JobStatusCompleted
		j.CreatedAt = now.Add(-2 * time.Hour)
	})
	running := seedJob(t, s, tenant, func(j *models.ConsolidationJob) {
		j.CreatedAt = now.Add(-1 * time.Hour)
	})
	seedJob(t, s, tenant, func(j *models.ConsolidationJob) {
		j.JobType = models.JobTypeIdentityConsolidation
		j.CreatedAt = now
	})

	t.Run("all newest first", func(t *testing.T) {
		jobs, err := s.ListJobs(ctx, tenant, "", "", models.Keyset{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, jobs, 3)
		assert.Equal(t, models.JobTypeIdentityConsolidation, jobs[0].JobType)
	})

	t.Run("filter by type and status", func(t *testing.T) {
		jobs, err := s.ListJobs(ctx, tenant, models.JobTypeHandoffCompression, models.JobStatusRunning, models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, running.JobID, jobs[0].JobID)
	})
}
