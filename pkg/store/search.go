package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/models"
)

// SearchFilters narrow recall candidates. Filters that name a field a type
// does not have (with_whom on notes, project_path on handoffs) are ignored
// for that type.
type SearchFilters struct {
	ProjectPath string
	WithWhom    string
	TimeRange   *models.TimeRange
}

// SearchHit is one retrieval candidate from a single search leg. Rank is
// ts_rank for full-text hits and cosine similarity for vector hits; the
// two are normalized and blended by the recall service.
type SearchHit struct {
	Type      string
	ID        string
	Rank      float64
	Body      string
	Metadata  map[string]any
	CreatedAt time.Time
}

// searchTarget describes how one entity table participates in search.
type searchTarget struct {
	table      string
	idColumn   string
	bodyExpr   string
	metaExpr   string
	hasWhom    bool
	hasProject bool
}

// The body expression picks the text a snippet is cut from. Handoffs
// surface their most compressed retained form so recall output stays small
// without an extra fetch.
var searchTargets = map[string]searchTarget{
	"session_handoffs": {
		table:    "session_handoffs",
		idColumn: "handoff_id",
		bodyExpr: `CASE compression_level
			WHEN 'full' THEN experienced || E'\n' || noticed || E'\n' || learned
			WHEN 'summary' THEN summary
			ELSE quick_ref
		END`,
		metaExpr: `jsonb_build_object(
			'with_whom', with_whom,
			'session_id', session_id,
			'compression_level', compression_level,
			'significance', significance)`,
		hasWhom: true,
	},
	"knowledge_notes": {
		table:    "knowledge_notes",
		idColumn: "note_id",
		bodyExpr: "text",
		metaExpr: `jsonb_build_object(
			'tags', tags,
			'project_path', project_path,
			'confidence', confidence)`,
		hasProject: true,
	},
	"agent_feedback": {
		table:    "agent_feedback",
		idColumn: "feedback_id",
		bodyExpr: "text",
		metaExpr: `jsonb_build_object('kind', kind, 'status', status)`,
	},
	"capsules": {
		table:    "capsules",
		idColumn: "capsule_id",
		bodyExpr: "content_text",
		metaExpr: `jsonb_build_object(
			'subject_type', subject_type,
			'subject_id', subject_id,
			'author_agent_id', author_agent_id,
			'status', status)`,
	},
}

// FullTextSearch runs the keyword leg over the requested types and returns
// up to perTypeLimit candidates per type, ranked by ts_rank within each
// type. The query goes through websearch_to_tsquery, so free-form user
// input is safe and an empty or stopword-only query matches nothing.
func (s *Store) FullTextSearch(ctx context.Context, tenantID, query string, types []string, filters SearchFilters, perTypeLimit int) ([]SearchHit, error) {
	var hits []SearchHit
	for _, typ := range types {
		target, ok := searchTargets[typ]
		if !ok {
			return nil, fmt.Errorf("type %q is not searchable", typ)
		}

		args := []any{tenantID, query}
		conds := target.filterConds(filters, &args)
		args = append(args, perTypeLimit)

		q := fmt.Sprintf(
			`SELECT %s, ts_rank(search_vector, q) AS rank, %s, %s, created_at
			 FROM %s, websearch_to_tsquery('english', $2) q
			 WHERE tenant_id = $1 AND search_vector @@ q%s
			 ORDER BY rank DESC, created_at DESC, %s ASC
			 LIMIT $%d`,
			target.idColumn, target.bodyExpr, target.metaExpr, target.table,
			conds, target.idColumn, len(args),
		)

		typeHits, err := s.querySearchHits(ctx, typ, q, args)
		if err != nil {
			return nil, fmt.Errorf("full-text search over %s failed: %w", typ, err)
		}
		hits = append(hits, typeHits...)
	}
	return hits, nil
}

// ANNSearch runs the vector leg over the requested types and returns up to
// perTypeLimit candidates per type, nearest first. Rank is cosine
// similarity in [-1, 1]. Rows without an embedding are skipped.
func (s *Store) ANNSearch(ctx context.Context, tenantID string, queryVec pgvector.Vector, types []string, filters SearchFilters, perTypeLimit int) ([]SearchHit, error) {
	var hits []SearchHit
	for _, typ := range types {
		target, ok := searchTargets[typ]
		if !ok {
			return nil, fmt.Errorf("type %q is not searchable", typ)
		}

		args := []any{tenantID, queryVec}
		conds := target.filterConds(filters, &args)
		args = append(args, perTypeLimit)

		q := fmt.Sprintf(
			`SELECT %s, 1 - (embedding <=> $2) AS similarity, %s, %s, created_at
			 FROM %s
			 WHERE tenant_id = $1 AND embedding IS NOT NULL%s
			 ORDER BY embedding <=> $2 ASC, created_at DESC, %s ASC
			 LIMIT $%d`,
			target.idColumn, target.bodyExpr, target.metaExpr, target.table,
			conds, target.idColumn, len(args),
		)

		typeHits, err := s.querySearchHits(ctx, typ, q, args)
		if err != nil {
			return nil, fmt.Errorf("vector search over %s failed: %w", typ, err)
		}
		hits = append(hits, typeHits...)
	}
	return hits, nil
}

func (t searchTarget) filterConds(filters SearchFilters, args *[]any) string {
	var conds string
	if filters.WithWhom != "" && t.hasWhom {
		*args = append(*args, filters.WithWhom)
		conds += fmt.Sprintf(" AND with_whom = $%d", len(*args))
	}
	if filters.ProjectPath != "" && t.hasProject {
		*args = append(*args, filters.ProjectPath)
		conds += fmt.Sprintf(" AND project_path = $%d", len(*args))
	}
	if filters.TimeRange != nil {
		if filters.TimeRange.From != nil {
			*args = append(*args, *filters.TimeRange.From)
			conds += fmt.Sprintf(" AND created_at >= $%d", len(*args))
		}
		if filters.TimeRange.To != nil {
			*args = append(*args, *filters.TimeRange.To)
			conds += fmt.Sprintf(" AND created_at <= $%d", len(*args))
		}
	}
	return conds
}

func (s *Store) querySearchHits(ctx context.Context, typ, query string, args []any) ([]SearchHit, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		hit := SearchHit{Type: typ}
		var (
			meta      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&hit.ID, &hit.Rank, &hit.Body, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		hit.CreatedAt = createdAt.UTC()
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode search hit metadata: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search hits: %w", err)
	}
	return hits, nil
}
