package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/models"
)

const handoffColumns = `handoff_id, tenant_id, session_id, with_whom, experienced, noticed,
	learned, story, becoming, remember, significance, tags, compression_level,
	summary, quick_ref, integrated_into, parent_handoff_id, influenced_by,
	consolidated_at, embedding, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHandoff(row rowScanner) (*models.Handoff, error) {
	var (
		h              models.Handoff
		tags           []byte
		consolidatedAt sql.NullTime
		embedding      sql.NullString
	)
	err := row.Scan(
		&h.HandoffID, &h.TenantID, &h.SessionID, &h.WithWhom, &h.Experienced,
		&h.Noticed, &h.Learned, &h.Story, &h.Becoming, &h.Remember,
		&h.Significance, &tags, &h.CompressionLevel, &h.Summary, &h.QuickRef,
		&h.IntegratedInto, &h.ParentHandoffID, &h.InfluencedBy,
		&consolidatedAt, &embedding, &h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &h.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal handoff tags: %w", err)
	}
	h.ConsolidatedAt = timePtr(consolidatedAt)
	h.CreatedAt = h.CreatedAt.UTC()
	if h.Embedding, err = scanVector(embedding); err != nil {
		return nil, err
	}
	return &h, nil
}

// CreateHandoff inserts a handoff row.
func (s *Store) CreateHandoff(ctx context.Context, h *models.Handoff) error {
	tags, err := jsonArray(h.Tags)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO session_handoffs
		 (handoff_id, tenant_id, session_id, with_whom, experienced, noticed,
		  learned, story, becoming, remember, significance, tags,
		  compression_level, summary, quick_ref, integrated_into,
		  parent_handoff_id, influenced_by, consolidated_at, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		         $15, $16, $17, $18, $19, $20, $21)`,
		h.HandoffID, h.TenantID, h.SessionID, h.WithWhom, h.Experienced,
		h.Noticed, h.Learned, h.Story, h.Becoming, h.Remember, h.Significance,
		tags, h.CompressionLevel, h.Summary, h.QuickRef, h.IntegratedInto,
		h.ParentHandoffID, h.InfluencedBy, nullableTime(h.ConsolidatedAt),
		vectorValue(h.Embedding), h.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("handoff %s: %w", h.HandoffID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert handoff: %w", err)
	}
	return nil
}

// GetHandoff fetches one handoff by id within the tenant.
func (s *Store) GetHandoff(ctx context.Context, tenantID, handoffID string) (*models.Handoff, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+handoffColumns+` FROM session_handoffs
		 WHERE tenant_id = $1 AND handoff_id = $2`,
		tenantID, handoffID,
	)
	h, err := scanHandoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("handoff %s: %w", handoffID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get handoff: %w", err)
	}
	return h, nil
}

// GetLastHandoff returns the most recent handoff, optionally filtered by
// counterpart.
func (s *Store) GetLastHandoff(ctx context.Context, tenantID, withWhom string) (*models.Handoff, error) {
	query := `SELECT ` + handoffColumns + ` FROM session_handoffs WHERE tenant_id = $1`
	args := []any{tenantID}
	if withWhom != "" {
		args = append(args, withWhom)
		query += fmt.Sprintf(" AND with_whom = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, handoff_id ASC LIMIT 1"

	h, err := scanHandoff(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("last handoff: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last handoff: %w", err)
	}
	return h, nil
}

// ListHandoffs returns one keyset page ordered by created_at desc, id asc.
func (s *Store) ListHandoffs(ctx context.Context, tenantID string, filters models.HandoffFilters, page models.Keyset) ([]*models.Handoff, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if filters.WithWhom != "" {
		args = append(args, filters.WithWhom)
		conds = append(conds, fmt.Sprintf("with_whom = $%d", len(args)))
	}
	if filters.SessionID != "" {
		args = append(args, filters.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if filters.Tag != "" {
		args = append(args, filters.Tag)
		conds = append(conds, fmt.Sprintf("tags ? $%d", len(args)))
	}
	if filters.CreatedAfter != nil {
		args = append(args, *filters.CreatedAfter)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filters.CreatedBefore != nil {
		args = append(args, *filters.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND handoff_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM session_handoffs WHERE %s
		 ORDER BY created_at DESC, handoff_id ASC LIMIT $%d`,
		handoffColumns, strings.Join(conds, " AND "), len(args))

	return s.queryHandoffs(ctx, query, args...)
}

// GetIdentityThread returns becoming statements in chronological order,
// optionally filtered by counterpart, at most limit entries ending at the
// most recent.
func (s *Store) GetIdentityThread(ctx context.Context, tenantID, withWhom string, limit int) ([]*models.IdentityThreadEntry, error) {
	query := `SELECT handoff_id, with_whom, becoming, significance, created_at
		 FROM session_handoffs
		 WHERE tenant_id = $1 AND becoming <> ''`
	args := []any{tenantID}
	if withWhom != "" {
		args = append(args, withWhom)
		query += fmt.Sprintf(" AND with_whom = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, handoff_id ASC LIMIT $%d", len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity thread: %w", err)
	}
	defer rows.Close()

	var entries []*models.IdentityThreadEntry
	for rows.Next() {
		var e models.IdentityThreadEntry
		if err := rows.Scan(&e.HandoffID, &e.WithWhom, &e.Becoming, &e.Significance, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan identity thread entry: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read identity thread: %w", err)
	}

	// Flip newest-first fetch order into chronological presentation order.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// SetHandoffEmbedding stores the computed embedding for a handoff.
func (s *Store) SetHandoffEmbedding(ctx context.Context, tenantID, handoffID string, embedding pgvector.Vector) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE session_handoffs SET embedding = $3
		 WHERE tenant_id = $1 AND handoff_id = $2`,
		tenantID, handoffID, embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to set handoff embedding: %w", err)
	}
	return requireRow(res, "handoff "+handoffID)
}

// ListHandoffsForCompression returns compression candidates at the given
// level older than the cutoff, in stable created_at asc, id asc order.
func (s *Store) ListHandoffsForCompression(ctx context.Context, tenantID string, level models.CompressionLevel, cutoff time.Time, limit int) ([]*models.Handoff, error) {
	return s.queryHandoffs(ctx,
		`SELECT `+handoffColumns+` FROM session_handoffs
		 WHERE tenant_id = $1 AND compression_level = $2 AND created_at < $3
		 ORDER BY created_at ASC, handoff_id ASC LIMIT $4`,
		tenantID, level, cutoff, limit,
	)
}

// AdvanceHandoffCompression moves a handoff one step up the compression
// ladder, writing the derived text for the new level. The fromLevel guard
// makes the step idempotent: a handoff that already advanced reports false.
func (s *Store) AdvanceHandoffCompression(ctx context.Context, tenantID, handoffID string, fromLevel, toLevel models.CompressionLevel, derived string, integratedInto string, at time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch toLevel {
	case models.CompressionSummary:
		res, err = s.q.ExecContext(ctx,
			`UPDATE session_handoffs
			 SET compression_level = $4, summary = $5, consolidated_at = $6
			 WHERE tenant_id = $1 AND handoff_id = $2 AND compression_level = $3`,
			tenantID, handoffID, fromLevel, toLevel, derived, at)
	case models.CompressionQuickRef:
		res, err = s.q.ExecContext(ctx,
			`UPDATE session_handoffs
			 SET compression_level = $4, quick_ref = $5, consolidated_at = $6
			 WHERE tenant_id = $1 AND handoff_id = $2 AND compression_level = $3`,
			tenantID, handoffID, fromLevel, toLevel, derived, at)
	case models.CompressionIntegrated:
		res, err = s.q.ExecContext(ctx,
			`UPDATE session_handoffs
			 SET compression_level = $4, integrated_into = $5, consolidated_at = $6
			 WHERE tenant_id = $1 AND handoff_id = $2 AND compression_level = $3`,
			tenantID, handoffID, fromLevel, toLevel, integratedInto, at)
	default:
		return false, fmt.Errorf("compression cannot advance to level %q", toLevel)
	}
	if err != nil {
		return false, fmt.Errorf("failed to advance handoff compression: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkHandoffIntegrated links a handoff to a consolidated principle without
// requiring it to have climbed the ladder first (identity consolidation
// integrates members at any level).
func (s *Store) MarkHandoffIntegrated(ctx context.Context, tenantID, handoffID, principleID string, at time.Time) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE session_handoffs
		 SET compression_level = 'integrated', integrated_into = $3, consolidated_at = $4
		 WHERE tenant_id = $1 AND handoff_id = $2 AND compression_level <> 'integrated'`,
		tenantID, handoffID, principleID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark handoff integrated: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ListHandoffsWithBecoming returns non-integrated handoffs carrying a
// becoming statement, oldest first. Input set for identity consolidation.
func (s *Store) ListHandoffsWithBecoming(ctx context.Context, tenantID string) ([]*models.Handoff, error) {
	return s.queryHandoffs(ctx,
		`SELECT `+handoffColumns+` FROM session_handoffs
		 WHERE tenant_id = $1 AND becoming <> '' AND compression_level <> 'integrated'
		 ORDER BY created_at ASC, handoff_id ASC`,
		tenantID,
	)
}

// ListHandoffsMissingEmbedding returns rows the embedding backfill sweep
// should process, across all tenants, oldest first.
func (s *Store) ListHandoffsMissingEmbedding(ctx context.Context, limit int) ([]*models.Handoff, error) {
	return s.queryHandoffs(ctx,
		`SELECT `+handoffColumns+` FROM session_handoffs
		 WHERE embedding IS NULL
		 ORDER BY created_at ASC, handoff_id ASC LIMIT $1`,
		limit,
	)
}

// CountHandoffsByLevel returns per-compression-level row counts for a tenant.
func (s *Store) CountHandoffsByLevel(ctx context.Context, tenantID string) (map[models.CompressionLevel]int, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT compression_level, count(*) FROM session_handoffs
		 WHERE tenant_id = $1 GROUP BY compression_level`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count handoffs by level: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.CompressionLevel]int)
	for rows.Next() {
		var (
			level models.CompressionLevel
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, fmt.Errorf("failed to scan level count: %w", err)
		}
		counts[level] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read level counts: %w", err)
	}
	return counts, nil
}

func (s *Store) queryHandoffs(ctx context.Context, query string, args ...any) ([]*models.Handoff, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query handoffs: %w", err)
	}
	defer rows.Close()

	var handoffs []*models.Handoff
	for rows.Next() {
		h, err := scanHandoff(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan handoff: %w", err)
		}
		handoffs = append(handoffs, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read handoffs: %w", err)
	}
	return handoffs, nil
}

// requireRow converts a zero-rows-affected update into ErrNotFound.
func requireRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
