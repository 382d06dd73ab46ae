package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/test/util"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	client := util.SetupTestDatabase(t)
	return store.New(client)
}

// seedHandoff inserts a handoff with sensible defaults, letting the caller
// override fields through mut.
func seedHandoff(t *testing.T, s *store.Store, tenant string, mut func(*models.Handoff)) *models.Handoff {
	t.Helper()
	h := &models.Handoff{
		HandoffID:        models.NewID(models.PrefixHandoff),
		TenantID:         tenant,
		SessionID:        "sess-1",
		WithWhom:         "dawn",
		Experienced:      "debugged the ingest pipeline end to end",
		Noticed:          "silent retries were masking a config error",
		Learned:          "fail fast when configuration is invalid",
		Remember:         "check the retry budget before blaming the network",
		Significance:     0.5,
		CompressionLevel: models.CompressionFull,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	if mut != nil {
		mut(h)
	}
	require.NoError(t, s.CreateHandoff(context.Background(), h))
	return h
}

func seedDecision(t *testing.T, s *store.Store, tenant string, mut func(*models.Decision)) *models.Decision {
	t.Helper()
	d := &models.Decision{
		DecisionID: models.NewID(models.PrefixDecision),
		TenantID:   tenant,
		Scope:      models.DecisionScopeProject,
		Text:       "use keyset pagination for all listings",
		Status:     models.DecisionStatusActive,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if mut != nil {
		mut(d)
	}
	require.NoError(t, s.CreateDecision(context.Background(), d))
	return d
}

func seedNote(t *testing.T, s *store.Store, tenant string, mut func(*models.KnowledgeNote)) *models.KnowledgeNote {
	t.Helper()
	n := &models.KnowledgeNote{
		NoteID:     models.NewID(models.PrefixNote),
		TenantID:   tenant,
		Text:       "the staging cluster runs one minor version behind production",
		Confidence: 0.8,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if mut != nil {
		mut(n)
	}
	require.NoError(t, s.CreateNote(context.Background(), n))
	return n
}

func seedCapsule(t *testing.T, s *store.Store, tenant string, mut func(*models.Capsule)) *models.Capsule {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	c := &models.Capsule{
		CapsuleID:        models.NewID(models.PrefixCapsule),
		TenantID:         tenant,
		Scope:            models.CapsuleScopeProject,
		SubjectType:      "project",
		SubjectID:        "billing-service",
		AuthorAgentID:    "agent-a",
		AudienceAgentIDs: []string{"agent-b"},
		TTLDays:          7,
		Status:           models.CapsuleStatusActive,
		Items: models.CapsuleItems{
			Chunks:    []string{"migration plan for the invoices table"},
			Decisions: []string{"freeze schema changes during the cutover"},
		},
		CreatedAt: now,
		ExpiresAt: now.AddDate(0, 0, 7),
	}
	if mut != nil {
		mut(c)
	}
	require.NoError(t, s.CreateCapsule(context.Background(), c))
	return c
}

func seedFeedback(t *testing.T, s *store.Store, tenant string, mut func(*models.AgentFeedback)) *models.AgentFeedback {
	t.Helper()
	f := &models.AgentFeedback{
		FeedbackID: models.NewID(models.PrefixFeedback),
		TenantID:   tenant,
		Kind:       models.FeedbackKindFriction,
		Text:       "recall results repeat the same handoff twice",
		Status:     models.FeedbackStatusOpen,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if mut != nil {
		mut(f)
	}
	require.NoError(t, s.CreateFeedback(context.Background(), f))
	return f
}

func TestWithTx(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("commit makes writes visible", func(t *testing.T) {
		var id string
		err := s.WithTx(ctx, func(tx *store.Store) error {
			h := seedHandoffInTx(t, tx, "tenant-commit")
			id = h.HandoffID
			return tx.AppendEvent(ctx, &models.Event{
				EventID:   models.NewID(models.PrefixEvent),
				TenantID:  "tenant-commit",
				Kind:      models.EventHandoffCreated,
				SubjectID: h.HandoffID,
				CreatedAt: h.CreatedAt,
			})
		})
		require.NoError(t, err)

		got, err := s.GetHandoff(ctx, "tenant-commit", id)
		require.NoError(t, err)
		assert.Equal(t, id, got.HandoffID)

		events, err := s.ListEvents(ctx, "tenant-commit", "", models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, models.EventHandoffCreated, events[0].Kind)
		assert.Equal(t, id, events[0].SubjectID)
	})

	t.Run("error rolls everything back", func(t *testing.T) {
		var id string
		err := s.WithTx(ctx, func(tx *store.Store) error {
			h := seedHandoffInTx(t, tx, "tenant-rollback")
			id = h.HandoffID
			return fmt.Errorf("deliberate failure")
		})
		require.Error(t, err)

		_, err = s.GetHandoff(ctx, "tenant-rollback", id)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("nested call joins the open transaction", func(t *testing.T) {
		err := s.WithTx(ctx, func(tx *store.Store) error {
			assert.True(t, tx.InTx())
			return tx.WithTx(ctx, func(inner *store.Store) error {
				seedHandoffInTx(t, inner, "tenant-nested")
				return nil
			})
		})
		require.NoError(t, err)

		handoffs, err := s.ListHandoffs(ctx, "tenant-nested", models.HandoffFilters{}, models.Keyset{Limit: 5})
		require.NoError(t, err)
		assert.Len(t, handoffs, 1)
	})
}

// seedHandoffInTx is seedHandoff without the require on a *store.Store that
// may be transaction-bound.
func seedHandoffInTx(t *testing.T, s *store.Store, tenant string) *models.Handoff {
	t.Helper()
	h := &models.Handoff{
		HandoffID:        models.NewID(models.PrefixHandoff),
		TenantID:         tenant,
		SessionID:        "sess-tx",
		WithWhom:         "dawn",
		Experienced:      "wrote the transaction wrapper",
		Noticed:          "rollback must be deferred before any query",
		Learned:          "join open transactions instead of nesting",
		Remember:         "commit exactly once",
		Significance:     0.4,
		CompressionLevel: models.CompressionFull,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateHandoff(context.Background(), h))
	return h
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-events"

	base := time.Now().UTC().Truncate(time.Millisecond)
	kinds := []string{models.EventHandoffCreated, models.EventNoteCreated, models.EventHandoffCreated}
	for i, kind := range kinds {
		err := s.AppendEvent(ctx, &models.Event{
			EventID:   models.NewID(models.PrefixEvent),
			TenantID:  tenant,
			Kind:      kind,
			SubjectID: fmt.Sprintf("subject-%d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	t.Run("list newest first", func(t *testing.T) {
		events, err := s.ListEvents(ctx, tenant, "", models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, "subject-2", events[0].SubjectID)
		assert.Equal(t, "subject-0", events[2].SubjectID)
	})

	t.Run("filter by kind", func(t *testing.T) {
		events, err := s.ListEvents(ctx, tenant, models.EventNoteCreated, models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "subject-1", events[0].SubjectID)
	})

	t.Run("retention prune", func(t *testing.T) {
		n, err := s.DeleteEventsOlderThan(ctx, base.Add(500*time.Millisecond))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		events, err := s.ListEvents(ctx, tenant, "", models.Keyset{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, events, 2)
	})
}

func TestIdempotencyKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-idem"
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("missing op returns not found", func(t *testing.T) {
		_, err := s.GetIdempotentResult(ctx, tenant, "01JC0000000000000000000000")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("put then get returns stored result", func(t *testing.T) {
		opID := "01JC0000000000000000000001"
		require.NoError(t, s.PutIdempotentResult(ctx, tenant, opID, []byte(`{"handoff_id":"hof_1"}`), now))

		result, err := s.GetIdempotentResult(ctx, tenant, opID)
		require.NoError(t, err)
		assert.JSONEq(t, `{"handoff_id":"hof_1"}`, string(result))
	})

	t.Run("second put reports duplicate", func(t *testing.T) {
		opID := "01JC0000000000000000000002"
		require.NoError(t, s.PutIdempotentResult(ctx, tenant, opID, []byte(`1`), now))
		err := s.PutIdempotentResult(ctx, tenant, opID, []byte(`2`), now)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("same op id under another tenant is independent", func(t *testing.T) {
		opID := "01JC0000000000000000000003"
		require.NoError(t, s.PutIdempotentResult(ctx, tenant, opID, []byte(`1`), now))
		require.NoError(t, s.PutIdempotentResult(ctx, "tenant-idem-b", opID, []byte(`1`), now))
	})

	t.Run("prune removes old records", func(t *testing.T) {
		old := now.Add(-48 * time.Hour)
		require.NoError(t, s.PutIdempotentResult(ctx, tenant, "01JC0000000000000000000004", []byte(`1`), old))

		n, err := s.DeleteIdempotencyOlderThan(ctx, now.Add(-24*time.Hour))
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)

		_, err = s.GetIdempotentResult(ctx, tenant, "01JC0000000000000000000004")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestCompressionStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-stats"
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AddCompressionStats(ctx, &models.ConsolidationStats{
		TenantID: tenant, StatDate: day, CompressionType: "summary",
		BeforeCount: 10, AfterCount: 10, TokensSaved: 4000, PercentageSaved: 61.5,
	}))
	require.NoError(t, s.AddCompressionStats(ctx, &models.ConsolidationStats{
		TenantID: tenant, StatDate: day, CompressionType: "summary",
		BeforeCount: 5, AfterCount: 5, TokensSaved: 1500, PercentageSaved: 58.0,
	}))
	require.NoError(t, s.AddCompressionStats(ctx, &models.ConsolidationStats{
		TenantID: tenant, StatDate: day.AddDate(0, 0, 1), CompressionType: "quick_ref",
		BeforeCount: 3, AfterCount: 3, TokensSaved: 900, PercentageSaved: 80.0,
	}))

	t.Run("same day and type accumulates", func(t *testing.T) {
		stats, err := s.ListCompressionStats(ctx, tenant, day)
		require.NoError(t, err)
		require.Len(t, stats, 2)

		assert.Equal(t, "quick_ref", stats[0].CompressionType)
		summary := stats[1]
		assert.Equal(t, "summary", summary.CompressionType)
		assert.Equal(t, 15, summary.BeforeCount)
		assert.Equal(t, 5500, summary.TokensSaved)
		assert.InDelta(t, 58.0, summary.PercentageSaved, 0.001)
	})

	t.Run("since filter excludes older days", func(t *testing.T) {
		stats, err := s.ListCompressionStats(ctx, tenant, day.AddDate(0, 0, 1))
		require.NoError(t, err)
		require.Len(t, stats, 1)
		assert.Equal(t, "quick_ref", stats[0].CompressionType)
	})

	t.Run("token totals by type", func(t *testing.T) {
		sums, err := s.SumTokensSavedByType(ctx, tenant)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"summary": 5500, "quick_ref": 900}, sums)
	})
}

func TestListTenants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedHandoff(t, s, "tenant-b", nil)
	seedDecision(t, s, "tenant-a", nil)
	seedNote(t, s, "tenant-c", nil)
	seedCapsule(t, s, "tenant-a", nil)
	seedFeedback(t, s, "tenant-d", nil)

	tenants, err := s.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-a", "tenant-b", "tenant-c", "tenant-d"}, tenants)
}

func TestResolveNode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-resolve"

	h := seedHandoff(t, s, tenant, nil)
	n := seedNote(t, s, tenant, nil)
	d := seedDecision(t, s, tenant, nil)

	t.Run("dispatches on id prefix", func(t *testing.T) {
		tests := []struct {
			nodeID string
			kind   models.NodeKind
		}{
			{h.HandoffID, models.NodeKindHandoff},
			{n.NoteID, models.NodeKindNote},
			{d.DecisionID, models.NodeKindDecision},
		}
		for _, tt := range tests {
			node, err := s.ResolveNode(ctx, tenant, tt.nodeID)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, node.Kind)
			assert.Equal(t, tt.nodeID, node.NodeID)
			assert.NotNil(t, node.Payload)
		}
	})

	t.Run("unknown prefix", func(t *testing.T) {
		_, err := s.ResolveNode(ctx, tenant, "zz_123")
		assert.ErrorContains(t, err, "unknown id prefix")
	})

	t.Run("missing entity", func(t *testing.T) {
		_, err := s.ResolveNode(ctx, tenant, "kn_does_not_exist")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("other tenant cannot resolve", func(t *testing.T) {
		_, err := s.ResolveNode(ctx, "tenant-other", h.HandoffID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
