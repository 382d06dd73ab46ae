package cleanup_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/cleanup"
	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/test/util"
)

func setupService(t *testing.T) (*cleanup.Service, *store.Store) {
	t.Helper()
	client := util.SetupTestDatabase(t)
	st := store.New(client)
	cfg := config.DefaultMaintenanceConfig()
	return cleanup.NewService(cfg, st), st
}

func seedCapsule(t *testing.T, st *store.Store, tenant string, expiresAt time.Time) *models.Capsule {
	t.Helper()
	c := &models.Capsule{
		CapsuleID:        models.NewID(models.PrefixCapsule),
		TenantID:         tenant,
		Scope:            models.CapsuleScopeProject,
		SubjectType:      "project",
		SubjectID:        "ingest",
		AuthorAgentID:    "agent-a",
		AudienceAgentIDs: []string{models.AudienceAny},
		TTLDays:          7,
		Status:           models.CapsuleStatusActive,
		Items:            models.CapsuleItems{Chunks: []string{"watch the retry budget"}},
		CreatedAt:        time.Now().UTC().Add(-8 * 24 * time.Hour),
		ExpiresAt:        expiresAt,
	}
	require.NoError(t, st.CreateCapsule(context.Background(), c))
	return c
}

func TestRunAllExpiresOverdueCapsules(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	overdue := seedCapsule(t, st, "tenant-a", time.Now().UTC().Add(-time.Hour))
	live := seedCapsule(t, st, "tenant-a", time.Now().UTC().Add(24*time.Hour))

	svc.RunAll(ctx)

	got, err := st.GetCapsule(ctx, "tenant-a", overdue.CapsuleID)
	require.NoError(t, err)
	assert.Equal(t, models.CapsuleStatusExpired, got.Status)

	got, err = st.GetCapsule(ctx, "tenant-a", live.CapsuleID)
	require.NoError(t, err)
	assert.Equal(t, models.CapsuleStatusActive, got.Status)

	events, err := st.ListEvents(ctx, "tenant-a", models.EventCapsuleExpired, models.Keyset{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, overdue.CapsuleID, events[0].SubjectID)
}

func TestRunAllIsIdempotent(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	overdue := seedCapsule(t, st, "tenant-a", time.Now().UTC().Add(-time.Hour))

	svc.RunAll(ctx)
	svc.RunAll(ctx)

	// The second pass finds nothing active to flip, so no second event.
	events, err := st.ListEvents(ctx, "tenant-a", models.EventCapsuleExpired, models.Keyset{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, overdue.CapsuleID, events[0].SubjectID)
}

func TestRunAllDropsExpiredIdempotencyKeys(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, st.PutIdempotentResult(ctx, "tenant-a", "op-old", []byte(`{}`), old))
	require.NoError(t, st.PutIdempotentResult(ctx, "tenant-a", "op-new", []byte(`{}`), time.Now().UTC()))

	svc.RunAll(ctx)

	_, err := st.GetIdempotentResult(ctx, "tenant-a", "op-old")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetIdempotentResult(ctx, "tenant-a", "op-new")
	assert.NoError(t, err)
}

func TestRunAllDropsOldEvents(t *testing.T) {
	svc, st := setupService(t)
	ctx := context.Background()

	require.NoError(t, st.AppendEvent(ctx, &models.Event{
		EventID:   models.NewID(models.PrefixEvent),
		TenantID:  "tenant-a",
		Kind:      models.EventNoteCreated,
		SubjectID: "kn_old",
		CreatedAt: time.Now().UTC().Add(-40 * 24 * time.Hour),
	}))
	require.NoError(t, st.AppendEvent(ctx, &models.Event{
		EventID:   models.NewID(models.PrefixEvent),
		TenantID:  "tenant-a",
		Kind:      models.EventNoteCreated,
		SubjectID: "kn_new",
		CreatedAt: time.Now().UTC(),
	}))

	svc.RunAll(ctx)

	events, err := st.ListEvents(ctx, "tenant-a", models.EventNoteCreated, models.Keyset{Limit: 10})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "kn_new", events[0].SubjectID)
}

func TestStartStop(t *testing.T) {
	svc, _ := setupService(t)
	svc.Start(context.Background())
	svc.Stop()
	// Stop on a stopped service is a no-op.
	svc.Stop()
}
