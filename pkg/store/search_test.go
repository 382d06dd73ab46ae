package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
	"github.com/engram-memory/engram/test/util"
)

func TestFullTextSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-fts"
	base := time.Now().UTC().Truncate(time.Millisecond)

	match := seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.Experienced = "chased a connection pool exhaustion in the billing worker"
		h.Noticed = "pool exhaustion correlates with the nightly export"
		h.Learned = "cap exports to half the pool size"
		h.WithWhom = "dawn"
		h.CreatedAt = base.Add(-time.Hour)
	})
	seedHandoff(t, s, tenant, func(h *models.Handoff) {
		h.Experienced = "paired on the onboarding flow copy"
		h.Noticed = "tone was too formal"
		h.Learned = "write like a person"
		h.WithWhom = "miles"
		h.CreatedAt = base.Add(-30 * time.Minute)
	})
	note := seedNote(t, s, tenant, func(n *models.KnowledgeNote) {
		n.Text = "the billing worker shares a connection pool with the API"
		n.ProjectPath = "/srv/billing"
		n.CreatedAt = base.Add(-20 * time.Minute)
	})
	capsule := seedCapsule(t, s, tenant, func(c *models.Capsule) {
		c.Items.Chunks = []string{"pool exhaustion playbook: drain exports first"}
		c.CreatedAt = base.Add(-10 * time.Minute)
		c.ExpiresAt = base.AddDate(0, 0, 7)
	})

	t.Run("matches across requested types", func(t *testing.T) {
		hits, err := s.FullTextSearch(ctx, tenant, "pool exhaustion",
			models.SearchableTypes, store.SearchFilters{}, 20)
		require.NoError(t, err)

		byType := map[string][]store.SearchHit{}
		for _, hit := range hits {
			byType[hit.Type] = append(byType[hit.Type], hit)
			assert.Positive(t, hit.Rank)
			assert.NotEmpty(t, hit.Body)
		}
		require.Len(t, byType["session_handoffs"], 1)
		assert.Equal(t, match.HandoffID, byType["session_handoffs"][0].ID)
		require.Len(t, byType["capsules"], 1)
		assert.Equal(t, capsule.CapsuleID, byType["capsules"][0].ID)
	})

	t.Run("handoff metadata is carried with the hit", func(t *testing.T) {
		hits, err := s.FullTextSearch(ctx, tenant, "pool exhaustion",
			[]string{"session_handoffs"}, store.SearchFilters{}, 20)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "dawn", hits[0].Metadata["with_whom"])
		assert.Equal(t, "full", hits[0].Metadata["compression_level"])
	})

	t.Run("with_whom filter only constrains handoffs", func(t *testing.T) {
		hits, err := s.FullTextSearch(ctx, tenant, "billing",
			[]string{"session_handoffs", "knowledge_notes"},
			store.SearchFilters{WithWhom: "miles"}, 20)
		require.NoError(t, err)

		for _, hit := range hits {
			if hit.Type == "session_handoffs" {
				t.Errorf("handoff %s should have been filtered out", hit.ID)
			}
		}
		require.Len(t, hits, 1)
		assert.Equal(t, note.NoteID, hits[0].ID)
	})

	t.Run("project_path filter constrains notes", func(t *testing.T) {
		hits, err := s.FullTextSearch(ctx, tenant, "billing",
			[]string{"knowledge_notes"},
			store.SearchFilters{ProjectPath: "/srv/other"}, 20)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("time range bounds candidates", func(t *testing.T) {
		from := base.Add(-15 * time.Minute)
		hits, err := s.FullTextSearch(ctx, tenant, "pool exhaustion",
			models.SearchableTypes,
			store.SearchFilters{TimeRange: &models.TimeRange{From: &from}}, 20)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, capsule.CapsuleID, hits[0].ID)
	})

	t.Run("summary-level handoff surfaces the summary text", func(t *testing.T) {
		ok, err := s.AdvanceHandoffCompression(ctx, tenant, match.HandoffID,
			models.CompressionFull, models.CompressionSummary,
			"billing worker exhausted the pool during exports", "", base)
		require.NoError(t, err)
		assert.True(t, ok)

		hits, err := s.FullTextSearch(ctx, tenant, "pool exhaustion",
			[]string{"session_handoffs"}, store.SearchFilters{}, 20)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "billing worker exhausted the pool during exports", hits[0].Body)
	})

	t.Run("nonsense query matches nothing", func(t *testing.T) {
		hits, err := s.FullTextSearch(ctx, tenant, "xqzv wmpt",
			models.SearchableTypes, store.SearchFilters{}, 20)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		_, err := s.FullTextSearch(ctx, tenant, "anything",
			[]string{"decisions"}, store.SearchFilters{}, 20)
		assert.ErrorContains(t, err, "not searchable")
	})
}

func TestANNSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tenant := "tenant-ann"

	near := seedHandoff(t, s, tenant, nil)
	far := seedHandoff(t, s, tenant, nil)
	seedHandoff(t, s, tenant, nil) // no embedding, must be skipped

	nearVec := make([]float32, util.TestEmbeddingDimension)
	nearVec[0] = 1
	farVec := make([]float32, util.TestEmbeddingDimension)
	farVec[util.TestEmbeddingDimension-1] = 1

	require.NoError(t, s.SetHandoffEmbedding(ctx, tenant, near.HandoffID, pgvector.NewVector(nearVec)))
	require.NoError(t, s.SetHandoffEmbedding(ctx, tenant, far.HandoffID, pgvector.NewVector(farVec)))

	query := make([]float32, util.TestEmbeddingDimension)
	query[0] = 1
	query[1] = 0.1

	t.Run("nearest first with cosine similarity rank", func(t *testing.T) {
		hits, err := s.ANNSearch(ctx, tenant, pgvector.NewVector(query),
			[]string{"session_handoffs"}, store.SearchFilters{}, 20)
		require.NoError(t, err)
		require.Len(t, hits, 2, "rows without embeddings are skipped")

		assert.Equal(t, near.HandoffID, hits[0].ID)
		assert.InDelta(t, 0.995, hits[0].Rank, 0.01)
		assert.Equal(t, far.HandoffID, hits[1].ID)
		assert.InDelta(t, 0.0, hits[1].Rank, 0.01)
	})

	t.Run("per type limit caps candidates", func(t *testing.T) {
		hits, err := s.ANNSearch(ctx, tenant, pgvector.NewVector(query),
			[]string{"session_handoffs"}, store.SearchFilters{}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, near.HandoffID, hits[0].ID)
	})

	t.Run("covers every searchable type", func(t *testing.T) {
		note := seedNote(t, s, tenant, nil)
		require.NoError(t, s.SetNoteEmbedding(ctx, tenant, note.NoteID, pgvector.NewVector(nearVec)))

		fb := seedFeedback(t, s, tenant, nil)
		require.NoError(t, s.SetFeedbackEmbedding(ctx, tenant, fb.FeedbackID, pgvector.NewVector(nearVec)))

		capVec := pgvector.NewVector(nearVec)
		seedCapsule(t, s, tenant, func(c *models.Capsule) {
			c.Embedding = &capVec
		})

		hits, err := s.ANNSearch(ctx, tenant, pgvector.NewVector(query),
			models.SearchableTypes, store.SearchFilters{}, 20)
		require.NoError(t, err)

		types := map[string]bool{}
		for _, hit := range hits {
			types[hit.Type] = true
		}
		assert.Equal(t, map[string]bool{
			"session_handoffs": true,
			"knowledge_notes":  true,
			"agent_feedback":   true,
			"capsules":         true,
		}, types)
	})
}
