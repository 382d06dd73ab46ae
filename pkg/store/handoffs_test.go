package store_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/test/util"
)

func TestHandoffRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-handoffs"

	created := seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.Story = "spent the afternoon chasing a heisenbug"
		h.Becoming = "someone who trusts measurements over hunches"
		h.Tags = []string{"debugging", "infra"}
		h.ParentHandoffID = "hof_parent"
		h.InfluencedBy = "kn_profiling_notes"
	})

	got, err := s.GetHandoff(ctx, tenant, created.HandoffID)
	require.NoError(t, err)

	assert.Equal(t, created.HandoffID, got.HandoffID)
	assert.Equal(t, tenant, got.TenantID)
	assert.Equal(t, created.Experienced, got.Experienced)
	assert.Equal(t, created.Story, got.Story)
	assert.Equal(t, created.Becoming, got.Becoming)
	assert.Equal(t, []string{"debugging", "infra"}, got.Tags)
	assert.Equal(t, "hof_parent", got.ParentHandoffID)
	assert.Equal(t, "kn_profiling_notes", got.InfluencedBy)
	assert.Equal(t, models.CompressionFull, got.CompressionLevel)
	assert.Nil(t, got.ConsolidatedAt)
	assert.Nil(t, got.Embedding)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)

	t.Run("duplicate id", func(t *testing.T) {
		err := s.CreateHandoff(ctx, created)
		assert.ErrorIs(t, err, store.ErrDuplicate)
	})

	t.Run("wrong tenant", func(t *testing.T) {
		_, err := s.GetHandoff(ctx, "tenant-other", created.HandoffID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestGetLastHandoff(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-last"
	base := time.Now().UTC().Truncate(time.Millisecond)

	seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.WithWhom = "dawn"
		h.CreatedAt = base.Add(-2 * time.Hour)
	})
	newest := seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.WithWhom = "miles"
		h.CreatedAt = base.Add(-1 * time.Hour)
	})

	t.Run("no filter returns newest", func(t *testing.T) {
		got, err := s.GetLastHandoff(ctx, tenant, "")
		require.NoError(t, err)
		assert.Equal(t, newest.HandoffID, got.HandoffID)
	})

	t.Run("filter by counterpart", func(t *testing.T) {
		got, err := s.GetLastHandoff(ctx, tenant, "dawn")
		require.NoError(t, err)
		assert.Equal(t, "dawn", got.WithWhom)
	})

	t.Run("empty tenant", func(t *testing.T) {
		_, err := s.GetLastHandoff(ctx, "tenant-empty", "")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestListHandoffs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-list"
	base := time.Now().UTC().Truncate(time.Millisecond)

	var all []*models.Handoff
	for i := 0; i < 5; i++ {
		i := i
		h := seedHandoff(t, s, tenant, func(h *models.Handoff) {
			h.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			h.SessionID = fmt.Sprintf("sess-%d", i%2)
			if i == 2 {
				h.WithWhom = "miles"
				h.Tags = []string{"review"}
			}
		})
		all = append(all, h)
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{}, models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 5)
		assert.Equal(t, all[4].HandoffID, got[0].HandoffID)
		assert.Equal(t, all[0].HandoffID, got[4].HandoffID)
	})

	t.Run("keyset pagination walks without overlap", func(t *testing.T) {
		first, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{}, models.Keyset{Limit: 2})
		require.NoError(t, err)
		require.Len(t, first, 2)

		last := first[len(first)-1]
		second, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{}, models.Keyset{
			CreatedAt: &last.CreatedAt, ID: last.HandoffID, Limit: 2,
		})
		require.NoError(t, err)
		require.Len(t, second, 2)

		seen := map[string]bool{}
		for _, h := range append(first, second...) {
			assert.False(t, seen[h.HandoffID], "handoff %s returned twice", h.HandoffID)
			seen[h.HandoffID] = true
		}
		assert.True(t, second[0].CreatedAt.Before(last.CreatedAt))
	})

	t.Run("filter by counterpart", func(t *testing.T) {
		got, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{WithWhom: "miles"}, models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, all[2].HandoffID, got[0].HandoffID)
	})

	t.Run("filter by session", func(t *testing.T) {
		got, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{SessionID: "sess-1"}, models.Keyset{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, got, 2)
	})

	t.Run("filter by tag", func(t *testing.T) {
		got, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{Tag: "review"}, models.Keyset{Limit: 10})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, all[2].HandoffID, got[0].HandoffID)
	})

	t.Run("filter by time window", func(t *testing.T) {
		from := base.Add(1 * time.Minute)
		to := base.Add(3 * time.Minute)
		got, err := s.ListHandoffs(ctx, tenant, models.HandoffFilters{
			CreatedAfter: &from, CreatedBefore: &to,
		}, models.Keyset{Limit: 10})
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})
}

func TestGetIdentityThread(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-identity"
	base := time.Now().UTC().Truncate(time.Millisecond)

	becomings := []string{
		"someone who writes things down",
		"",
		"someone who asks before assuming",
		"someone who finishes what they start",
	}
	for i, b := range becomings {
		i, b := i, b
		seedHandoff(t, s, tenant, func(h *models.Handoff) {
			h.Becoming = b
			h.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if i == 3 {
				h.WithWhom = "miles"
			}
		})
	}

	t.Run("chronological and skips empty becoming", func(t *testing.T) {
		entries, err := s.GetIdentityThread(ctx, tenant, "", 10)
		require.NoError(t, err)
		require.Len(t, entries, 3)
		assert.Equal(t, "someone who writes things down", entries[0].Becoming)
		assert.Equal(t, "someone who finishes what they start", entries[2].Becoming)
		assert.True(t, entries[0].CreatedAt.Before(entries[1].CreatedAt))
	})

	t.Run("limit keeps the most recent entries", func(t *testing.T) {
		entries, err := s.GetIdentityThread(ctx, tenant, "", 2)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "someone who asks before assuming", entries[0].Becoming)
		assert.Equal(t, "someone who finishes what they start", entries[1].Becoming)
	})

	t.Run("filter by counterpart", func(t *testing.T) {
		entries, err := s.GetIdentityThread(ctx, tenant, "miles", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "miles", entries[0].WithWhom)
	})
}

func TestAdvanceHandoffCompression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-compress"
	now := time.Now().UTC().Truncate(time.Millisecond)

	h := seedHandoff(t, s, tenant, nil)

	t.Run("full to summary", func(t *testing.T) {
		ok, err := s.AdvanceHandoffCompression(ctx, tenant, h.HandoffID,
			models.CompressionFull, models.CompressionSummary, "condensed narrative", "", now)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetHandoff(ctx, tenant, h.HandoffID)
		require.NoError(t, err)
		assert.Equal(t, models.CompressionSummary, got.CompressionLevel)
		assert.Equal(t, "condensed narrative", got.Summary)
		assert.Equal(t, h.Experienced, got.Experienced, "lower-level fields are retained")
		require.NotNil(t, got.ConsolidatedAt)
		assert.WithinDuration(t, now, *got.ConsolidatedAt, time.Millisecond)
	})

	t.Run("repeating the same step is a no-op", func(t *testing.T) {
		ok, err := s.AdvanceHandoffCompression(ctx, tenant, h.HandoffID,
			models.CompressionFull, models.CompressionSummary, "other text", "", now)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetHandoff(ctx, tenant, h.HandoffID)
		require.NoError(t, err)
		assert.Equal(t, "condensed narrative", got.Summary)
	})

	t.Run("summary to quick_ref to integrated", func(t *testing.T) {
		ok, err := s.AdvanceHandoffCompression(ctx, tenant, h.HandoffID,
			models.CompressionSummary, models.CompressionQuickRef, "one-liner", "", now)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = s.AdvanceHandoffCompression(ctx, tenant, h.HandoffID,
			models.CompressionQuickRef, models.CompressionIntegrated, "", "dec_principle", now)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetHandoff(ctx, tenant, h.HandoffID)
		require.NoError(t, err)
		assert.Equal(t, models.CompressionIntegrated, got.CompressionLevel)
		assert.Equal(t, "one-liner", got.QuickRef)
		assert.Equal(t, "dec_principle", got.IntegratedInto)
	})

	t.Run("cannot advance to full", func(t *testing.T) {
		_, err := s.AdvanceHandoffCompression(ctx, tenant, h.HandoffID,
			models.CompressionSummary, models.CompressionFull, "", "", now)
		assert.ErrorContains(t, err, "cannot advance")
	})
}

func TestMarkHandoffIntegrated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-integrate"
	now := time.Now().UTC().Truncate(time.Millisecond)

	h := seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.Becoming = "someone who distills patterns"
	})

	ok, err := s.MarkHandoffIntegrated(ctx, tenant, h.HandoffID, "dec_identity", now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetHandoff(ctx, tenant, h.HandoffID)
	require.NoError(t, err)
	assert.Equal(t, models.CompressionIntegrated, got.CompressionLevel)
	assert.Equal(t, "dec_identity", got.IntegratedInto)

	ok, err = s.MarkHandoffIntegrated(ctx, tenant, h.HandoffID, "dec_other", now)
	require.NoError(t, err)
	assert.False(t, ok, "integrated handoffs are terminal")
}

func TestListHandoffsForCompression(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-candidates"
	now := time.Now().UTC().Truncate(time.Millisecond)

	old1 := seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.CreatedAt = now.AddDate(0, 0, -40)
	})
	old2 := seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.CreatedAt = now.AddDate(0, 0, -35)
	})
	seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.CreatedAt = now.AddDate(0, 0, -5)
	})

	cutoff := now.AddDate(0, 0, -30)
	got, err := s.ListHandoffsForCompression(ctx, tenant, models.CompressionFull, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, old1.HandoffID, got[0].HandoffID, "oldest first")
	assert.Equal(t, old2.HandoffID, got[1].HandoffID)
}

func TestHandoffEmbeddingBackfill(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-embed"

	h := seedHandoff(t, s, tenant, nil)

	missing, err := s.ListHandoffsMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, h.HandoffID, missing[0].HandoffID)

	vec := pgvector.NewVector(make([]float32, util.TestEmbeddingDimension))
	require.NoError(t, s.SetHandoffEmbedding(ctx, tenant, h.HandoffID, vec))

	missing, err = s.ListHandoffsMissingEmbedding(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, missing)

	got, err := s.GetHandoff(ctx, tenant, h.HandoffID)
	require.NoError(t, err)
	require.NotNil(t, got.Embedding)
	assert.Len(t, got.Embedding.Slice(), util.TestEmbeddingDimension)
}

func TestCountHandoffsByLevel(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-counts"
	now := time.Now().UTC().Truncate(time.Millisecond)

	seedHandoff(t, s, tenant, nil)
	seedHandoff(t, s, tenant, nil)
	h := seedHandoff(t, s, tenant, nil)
	_, err := s.AdvanceHandoffCompression(ctx, tenant, h.HandoffID,
		models.CompressionFull, models.CompressionSummary, "s", "", now)
	require.NoError(t, err)

	counts, err := s.CountHandoffsByLevel(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, map[models.CompressionLevel]int{
		models.CompressionFull:    2,
		models.CompressionSummary: 1,
	}, counts)
}
