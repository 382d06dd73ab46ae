package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// Embedder produces a vector for one text. Recall embeds the query
// synchronously; a failure degrades retrieval to full-text only.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Recall scoring weights. The blend favors semantic similarity, backed by
// exact-term matching, with a small recency nudge so fresh memories win ties.
const (
	recallWeightANN     = 0.6
	recallWeightFTS     = 0.3
	recallWeightRecency = 0.1
	recallRecencyScale  = 30.0 // days until recency decays to 1/e
	recallLegFanout     = 4    // per-type candidates fetched per leg, × limit
	recallSnippetRunes  = 240
)

// RecallService is the hybrid retrieval engine: a full-text leg and a vector
// leg run in parallel, scores are normalized per leg and blended, and the
// merged ranking is cut to the requested limit.
type RecallService struct {
	store    *store.Store
	embedder Embedder
}

// NewRecallService creates a new RecallService. embedder may be nil, which
// pins retrieval to the full-text leg.
func NewRecallService(st *store.Store, embedder Embedder) *RecallService {
	if st == nil {
		panic("NewRecallService: store must not be nil")
	}
	return &RecallService{store: st, embedder: embedder}
}

// Recall runs the hybrid query. Candidates found by both legs accumulate both
// normalized scores; ties break by created_at descending, then id ascending.
// When the query cannot be embedded the vector leg is skipped rather than
// failing the call.
func (s *RecallService) Recall(ctx context.Context, tenantID string, req *models.RecallRequest) ([]*models.RecallResult, error) {
	limit, minSim, types, err := s.normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	filters := store.SearchFilters{
		ProjectPath: req.ProjectPath,
		WithWhom:    req.WithWhom,
		TimeRange:   req.TimeRange,
	}

	var queryVec *pgvector.Vector
	if s.embedder != nil {
		if raw, err := s.embedder.Embed(ctx, req.Query); err == nil {
			v := pgvector.NewVector(raw)
			queryVec = &v
		}
	}

	perTypeLimit := limit * recallLegFanout
	var (
		wg      sync.WaitGroup
		ftsHits []store.SearchHit
		annHits []store.SearchHit
		ftsErr  error
		annErr  error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ftsHits, ftsErr = s.store.FullTextSearch(ctx, tenantID, req.Query, types, filters, perTypeLimit)
	}()
	if queryVec != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			annHits, annErr = s.store.ANNSearch(ctx, tenantID, *queryVec, types, filters, perTypeLimit)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ftsErr != nil {
		return nil, ftsErr
	}
	if annErr != nil {
		return nil, annErr
	}

	results := blendRecallHits(ftsHits, annHits, minSim, time.Now().UTC())
	if len(results) > limit {
		results = results[:limit]
	}
	if req.Expand {
		if err := s.expandHandoffs(ctx, tenantID, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

// SemanticSearch is the vector-only entry point: results are ranked by raw
// cosine similarity and candidates below min_similarity are dropped. Unlike
// Recall it needs the embedding provider and fails when it is unreachable.
func (s *RecallService) SemanticSearch(ctx context.Context, tenantID string, req *models.RecallRequest) ([]*models.RecallResult, error) {
	limit, minSim, types, err := s.normalizeRequest(req)
	if err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return nil, fmt.Errorf("embedding provider not configured: %w", ErrUnavailable)
	}
	raw, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", ErrUnavailable)
	}

	filters := store.SearchFilters{
		ProjectPath: req.ProjectPath,
		WithWhom:    req.WithWhom,
		TimeRange:   req.TimeRange,
	}
	hits, err := s.store.ANNSearch(ctx, tenantID, pgvector.NewVector(raw), types, filters, limit*recallLegFanout)
	if err != nil {
		return nil, err
	}

	results := []*models.RecallResult{}
	for _, h := range hits {
		if h.Rank < minSim {
			continue
		}
		results = append(results, &models.RecallResult{
			Type:      h.Type,
			ID:        h.ID,
			Score:     h.Rank,
			Snippet:   snippetOf(h.Body),
			Metadata:  h.Metadata,
			CreatedAt: h.CreatedAt,
		})
	}
	sortRecallResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	if req.Expand {
		if err := s.expandHandoffs(ctx, tenantID, results); err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (s *RecallService) normalizeRequest(req *models.RecallRequest) (limit int, minSim float64, types []string, err error) {
	if strings.TrimSpace(req.Query) == "" {
		return 0, 0, nil, NewValidationError("query", "query is required")
	}
	limit = req.Limit
	if limit == 0 {
		limit = models.RecallDefaultLimit
	}
	if limit < 1 || limit > models.RecallMaxLimit {
		return 0, 0, nil, NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", models.RecallMaxLimit))
	}
	minSim = models.RecallDefaultMinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}
	if minSim < 0 || minSim > 1 {
		return 0, 0, nil, NewValidationError("min_similarity", "min_similarity must be between 0 and 1")
	}
	types, err = expandSearchTypes(req.Types)
	if err != nil {
		return 0, 0, nil, err
	}
	return limit, minSim, types, nil
}

// expandHandoffs replaces handoff snippets with the full retained narrative.
func (s *RecallService) expandHandoffs(ctx context.Context, tenantID string, results []*models.RecallResult) error {
	for _, r := range results {
		if r.Type != "session_handoffs" {
			continue
		}
		h, err := s.store.GetHandoff(ctx, tenantID, r.ID)
		if err != nil {
			return notFound(err, "handoff "+r.ID)
		}
		r.Snippet = h.EmbeddingText()
	}
	return nil
}

type recallCandidate struct {
	hit     store.SearchHit
	ftsNorm float64
	annNorm float64
}

// blendRecallHits deduplicates the two legs by id and blends the scores:
// 0.6 × vector + 0.3 × full-text + 0.1 × recency. Full-text ranks are
// normalized against the best rank of their own type so ts_rank magnitudes
// stay comparable across tables; vector similarity is rescaled over
// [min_similarity, 1].
func blendRecallHits(ftsHits, annHits []store.SearchHit, minSim float64, now time.Time) []*models.RecallResult {
	maxRank := make(map[string]float64)
	for _, h := range ftsHits {
		if h.Rank > maxRank[h.Type] {
			maxRank[h.Type] = h.Rank
		}
	}

	candidates := make(map[string]*recallCandidate)
	order := []string{}
	for _, h := range ftsHits {
		norm := 0.0
		if maxRank[h.Type] > 0 {
			norm = h.Rank / maxRank[h.Type]
		}
		candidates[h.ID] = &recallCandidate{hit: h, ftsNorm: norm}
		order = append(order, h.ID)
	}
	for _, h := range annHits {
		norm := annNorm(h.Rank, minSim)
		if c, ok := candidates[h.ID]; ok {
			c.annNorm = norm
			continue
		}
		candidates[h.ID] = &recallCandidate{hit: h, annNorm: norm}
		order = append(order, h.ID)
	}

	results := make([]*models.RecallResult, 0, len(order))
	for _, id := range order {
		c := candidates[id]
		ageDays := now.Sub(c.hit.CreatedAt).Hours() / 24
		if ageDays < 0 {
			ageDays = 0
		}
		recency := math.Exp(-ageDays / recallRecencyScale)
		score := recallWeightANN*c.annNorm + recallWeightFTS*c.ftsNorm + recallWeightRecency*recency
		results = append(results, &models.RecallResult{
			Type:      c.hit.Type,
			ID:        c.hit.ID,
			Score:     score,
			Snippet:   snippetOf(c.hit.Body),
			Metadata:  c.hit.Metadata,
			CreatedAt: c.hit.CreatedAt,
		})
	}
	sortRecallResults(results)
	return results
}

// annNorm rescales cosine similarity over [minSim, 1] and clips to [0, 1].
func annNorm(similarity, minSim float64) float64 {
	denom := 1 - minSim
	if denom <= 0 {
		if similarity >= minSim {
			return 1
		}
		return 0
	}
	norm := (similarity - minSim) / denom
	if norm < 0 {
		return 0
	}
	if norm > 1 {
		return 1
	}
	return norm
}

func sortRecallResults(results []*models.RecallResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].CreatedAt.Equal(results[j].CreatedAt) {
			return results[i].CreatedAt.After(results[j].CreatedAt)
		}
		return results[i].ID < results[j].ID
	})
}

// expandSearchTypes resolves the requested type list; empty or "all" means
// every searchable type.
func expandSearchTypes(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return models.SearchableTypes, nil
	}
	seen := make(map[string]struct{}, len(requested))
	out := make([]string, 0, len(requested))
	for _, t := range requested {
		if t == models.SearchTypeAll {
			return models.SearchableTypes, nil
		}
		if !isSearchableType(t) {
			return nil, NewValidationError("types", fmt.Sprintf("type %q is not searchable", t))
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out, nil
}

func isSearchableType(t string) bool {
	for _, s := range models.SearchableTypes {
		if s == t {
			return true
		}
	}
	return false
}

// snippetOf collapses whitespace and cuts the body to snippet length.
func snippetOf(body string) string {
	collapsed := strings.Join(strings.Fields(body), " ")
	runes := []rune(collapsed)
	if len(runes) > recallSnippetRunes {
		return string(runes[:recallSnippetRunes])
	}
	return collapsed
}
