package consolidation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/consolidation"
	"github.com/engram-memory/engram/pkg/llm"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/test/util"
)

func newTestEngine(t *testing.T, mutate func(cfg *config.ConsolidationConfig)) (*consolidation.Engine, *store.Store, time.Time) {
	t.Helper()
	client := util.SetupTestDatabase(t)
	st := store.New(client)

	cfg := config.DefaultConsolidationConfig()
	if mutate != nil {
		mutate(cfg)
	}
	llmService := llm.NewService(&config.LLMConfig{Provider: "none"}, nil)

	engine := consolidation.NewEngine(st, llmService, cfg, nil, nil)
	now := time.Now().UTC().Truncate(time.Millisecond)
	engine.SetClock(func() time.Time { return now })
	return engine, st, now
}

func seedAgedHandoff(t *testing.T, st *store.Store, tenant string, age time.Duration, mutate func(h *models.Handoff)) *models.Handoff {
	t.Helper()
	h := &models.Handoff{
		HandoffID:        models.NewID(models.PrefixHandoff),
		TenantID:         tenant,
		SessionID:        "s1",
		WithWhom:         "Callin",
		Experienced:      "built the hybrid retrieval layer end to end",
		Noticed:          "normalization dominates ranking quality",
		Learned:          "blend weights matter less than score hygiene",
		Remember:         "normalize per leg before blending",
		Significance:     0.8,
		CompressionLevel: models.CompressionFull,
		CreatedAt:        time.Now().UTC().Add(-age).Truncate(time.Millisecond),
	}
	if mutate != nil {
		mutate(h)
	}
	require.NoError(t, st.CreateHandoff(context.Background(), h))
	return h
}

func TestCompression_FullToSummaryAfterThreshold(t *testing.T) {
	engine, st, _ := newTestEngine(t, nil)
	ctx := context.Background()
	tenant := "tenant-compress"

	old := seedAgedHandoff(t, st, tenant, 35*24*time.Hour, nil)
	fresh := seedAgedHandoff(t, st, tenant, 2*24*time.Hour, nil)

	jobs, err := engine.RunTenant(ctx, tenant, consolidation.TickDaily)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeHandoffCompression, jobs[0].JobType)

	got, err := st.GetHandoff(ctx, tenant, old.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, models.CompressionSummary, got.CompressionLevel)
	assert.NotEmpty(t, got.Summary)
	assert.NotNil(t, got.ConsolidatedAt)
	// Lower-level fields stay on disk.
	assert.Equal(t, old.Experienced, got.Experienced)

	untouched, err := st.GetHandoff(ctx, tenant, fresh.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, models.CompressionFull, untouched.CompressionLevel)

	job, err := st.GetJob(ctx, tenant, jobs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.ItemsAffected)

	stats, err := st.ListCompressionStats(ctx, tenant, time.Now().UTC().Add(-48*time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, stats)
	assert.Greater(t, stats[0].TokensSaved, 0)
}

func TestCompression_MonotoneLadder(t *testing.T) {
	engine, st, _ := newTestEngine(t, nil)
	ctx := context.Background()
	tenant := "tenant-ladder"

	h := seedAgedHandoff(t, st, tenant, 95*24*time.Hour, nil)

	_, err := engine.RunTenant(ctx, tenant, consolidation.TickDaily)
	require.NoError(t, err)

	got, err := st.GetHandoff(ctx, tenant, h.HandoffID)
	require.NoError(t, err)
	// Past both thresholds: the daily run walks it full→summary→quick_ref.
	assert.Equal(t, models.CompressionQuickRef, got.CompressionLevel)
	assert.NotEmpty(t, got.Summary)
	assert.NotEmpty(t, got.QuickRef)
	assert.Contains(t, got.QuickRef, "Callin")

	// A second run is a no-op.
	_, err = engine.RunTenant(ctx, tenant, consolidation.TickDaily)
	require.NoError(t, err)
	again, err := st.GetHandoff(ctx, tenant, h.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, got.QuickRef, again.QuickRef)
	assert.Equal(t, models.CompressionQuickRef, again.CompressionLevel)
}

func TestCompression_MonthlyIntegration(t *testing.T) {
	engine, st, _ := newTestEngine(t, nil)
	ctx := context.Background()
	tenant := "tenant-integrate"

	h := seedAgedHandoff(t, st, tenant, 200*24*time.Hour, func(h *models.Handoff) {
		h.Becoming = "becoming continuous"
	})

	_, err := engine.RunTenant(ctx, tenant, consolidation.TickMonthly)
	require.NoError(t, err)

	got, err := st.GetHandoff(ctx, tenant, h.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, models.CompressionIntegrated, got.CompressionLevel)
	require.NotEmpty(t, got.IntegratedInto)

	principle, err := st.GetDecision(ctx, tenant, got.IntegratedInto)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionScopeGlobal, principle.Scope)
	assert.Equal(t, models.DecisionStatusActive, principle.Status)
	assert.NotEmpty(t, principle.Text)
}

func TestIdentityConsolidation_ClusterBecomesPrinciple(t *testing.T) {
	engine, st, _ := newTestEngine(t, func(cfg *config.ConsolidationConfig) {
		cfg.IdentityMinClusterSize = 3
	})
	ctx := context.Background()
	tenant := "tenant-identity"

	var members []*models.Handoff
	for i := 0; i < 3; i++ {
		members = append(members, seedAgedHandoff(t, st, tenant, time.Duration(i+1)*24*time.Hour, func(h *models.Handoff) {
			h.Becoming = fmt.Sprintf("becoming continuous across sessions %d", i)
		}))
	}
	outlier := seedAgedHandoff(t, st, tenant, 24*time.Hour, func(h *models.Handoff) {
		h.Becoming = "unrelated drift about colors"
	})

	_, err := engine.RunTenant(ctx, tenant, consolidation.TickWeekly)
	require.NoError(t, err)

	var principleID string
	for _, m := range members {
		got, err := st.GetHandoff(ctx, tenant, m.HandoffID)
		require.NoError(t, err)
		assert.Equal(t, models.CompressionIntegrated, got.CompressionLevel)
		require.NotEmpty(t, got.IntegratedInto)
		if principleID == "" {
			principleID = got.IntegratedInto
		} else {
			assert.Equal(t, principleID, got.IntegratedInto, "cluster members share one principle")
		}
	}

	gotOutlier, err := st.GetHandoff(ctx, tenant, outlier.HandoffID)
	require.NoError(t, err)
	assert.NotEqual(t, models.CompressionIntegrated, gotOutlier.CompressionLevel)

	principle, err := st.GetDecision(ctx, tenant, principleID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionScopeGlobal, principle.Scope)
	assert.Contains(t, principle.Text, "Callin")
}

func TestDecisionArchival(t *testing.T) {
	engine, st, _ := newTestEngine(t, nil)
	ctx := context.Background()
	tenant := "tenant-archival"

	stale := &models.Decision{
		DecisionID: models.NewID(models.PrefixDecision),
		TenantID:   tenant,
		Scope:      models.DecisionScopeProject,
		Text:       "use keyset pagination",
		Status:     models.DecisionStatusActive,
		CreatedAt:  time.Now().UTC().AddDate(0, 0, -70),
	}
	require.NoError(t, st.CreateDecision(ctx, stale))

	superseded := &models.Decision{
		DecisionID: models.NewID(models.PrefixDecision),
		TenantID:   tenant,
		Scope:      models.DecisionScopeProject,
		Text:       "use offset pagination",
		Status:     models.DecisionStatusSuperseded,
		Supersedes: stale.DecisionID,
		CreatedAt:  time.Now().UTC().AddDate(0, 0, -70),
	}
	require.NoError(t, st.CreateDecision(ctx, superseded))

	recent := &models.Decision{
		DecisionID: models.NewID(models.PrefixDecision),
		TenantID:   tenant,
		Scope:      models.DecisionScopeGlobal,
		Text:       "fresh decision",
		Status:     models.DecisionStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, st.CreateDecision(ctx, recent))

	_, err := engine.RunTenant(ctx, tenant, consolidation.TickWeekly)
	require.NoError(t, err)

	got, err := st.GetDecision(ctx, tenant, stale.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStatusArchived, got.Status)

	got, err = st.GetDecision(ctx, tenant, superseded.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStatusSuperseded, got.Status)

	got, err = st.GetDecision(ctx, tenant, recent.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionStatusActive, got.Status)
}

func TestRunJob_SecondTriggerReturnsExistingJob(t *testing.T) {
	engine, st, now := newTestEngine(t, nil)
	ctx := context.Background()
	tenant := "tenant-jobs"
	seedAgedHandoff(t, st, tenant, 24*time.Hour, nil)

	started := now.Add(-5 * time.Minute)
	running := &models.ConsolidationJob{
		JobID:     models.NewID(models.PrefixJob),
		TenantID:  tenant,
		JobType:   models.JobTypeHandoffCompression,
		Status:    models.JobStatusRunning,
		StartedAt: &started,
		CreatedAt: started,
	}
	require.NoError(t, st.CreateJob(ctx, running))

	jobs, err := engine.RunTenant(ctx, tenant, consolidation.TickDaily)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, running.JobID, jobs[0].JobID)

	// The pre-existing job is untouched.
	got, err := st.GetJob(ctx, tenant, running.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestRunJob_StaleJobTakenOver(t *testing.T) {
	engine, st, now := newTestEngine(t, nil)
	ctx := context.Background()
	tenant := "tenant-stale"
	seedAgedHandoff(t, st, tenant, 24*time.Hour, nil)

	started := now.Add(-2 * time.Hour)
	stale := &models.ConsolidationJob{
		JobID:     models.NewID(models.PrefixJob),
		TenantID:  tenant,
		JobType:   models.JobTypeHandoffCompression,
		Status:    models.JobStatusRunning,
		StartedAt: &started,
		CreatedAt: started,
	}
	require.NoError(t, st.CreateJob(ctx, stale))

	jobs, err := engine.RunTenant(ctx, tenant, consolidation.TickDaily)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.NotEqual(t, stale.JobID, jobs[0].JobID)

	failed, err := st.GetJob(ctx, tenant, stale.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.ErrorMessage)

	fresh, err := st.GetJob(ctx, tenant, jobs[0].JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, fresh.Status)
}
