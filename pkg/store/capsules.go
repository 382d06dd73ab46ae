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

const capsuleColumns = `capsule_id, tenant_id, scope, subject_type, subject_id,
	author_agent_id, audience_agent_ids, ttl_days, status, items, risks,
	embedding, created_at, expires_at`

func scanCapsule(row rowScanner) (*models.Capsule, error) {
	var (
		c         models.Capsule
		audience  []byte
		items     []byte
		risks     []byte
		embedding sql.NullString
	)
	err := row.Scan(&c.CapsuleID, &c.TenantID, &c.Scope, &c.SubjectType,
		&c.SubjectID, &c.AuthorAgentID, &audience, &c.TTLDays, &c.Status,
		&items, &risks, &embedding, &c.CreatedAt, &c.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(audience, &c.AudienceAgentIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capsule audience: %w", err)
	}
	if err := json.Unmarshal(items, &c.Items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capsule items: %w", err)
	}
	if err := json.Unmarshal(risks, &c.Risks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal capsule risks: %w", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.ExpiresAt = c.ExpiresAt.UTC()
	if c.Embedding, err = scanVector(embedding); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCapsule inserts a capsule row. The flattened content text is
// persisted alongside the structured items so full-text search works over
// jsonb content; capsules are immutable after creation so it never drifts.
func (s *Store) CreateCapsule(ctx context.Context, c *models.Capsule) error {
	audience, err := jsonArray(c.AudienceAgentIDs)
	if err != nil {
		return err
	}
	items, err := json.Marshal(c.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal capsule items: %w", err)
	}
	risks, err := jsonArray(c.Risks)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO capsules
		 (capsule_id, tenant_id, scope, subject_type, subject_id,
		  author_agent_id, audience_agent_ids, ttl_days, status, items, risks,
		  content_text, embedding, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.CapsuleID, c.TenantID, c.Scope, c.SubjectType, c.SubjectID,
		c.AuthorAgentID, audience, c.TTLDays, c.Status, items, risks,
		c.EmbeddingText(), vectorValue(c.Embedding), c.CreatedAt, c.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("capsule %s: %w", c.CapsuleID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert capsule: %w", err)
	}
	return nil
}

// GetCapsule fetches one capsule by id within the tenant.
func (s *Store) GetCapsule(ctx context.Context, tenantID, capsuleID string) (*models.Capsule, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+capsuleColumns+` FROM capsules
		 WHERE tenant_id = $1 AND capsule_id = $2`,
		tenantID, capsuleID,
	)
	c, err := scanCapsule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("capsule %s: %w", capsuleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get capsule: %w", err)
	}
	return c, nil
}

// ListCapsulesVisibleTo returns one keyset page of capsules the principal may
// read: authored by them, addressed to them, or addressed to the tenant-wide
// audience "*".
func (s *Store) ListCapsulesVisibleTo(ctx context.Context, tenantID, principal string, filters models.CapsuleFilters, page models.Keyset) ([]*models.Capsule, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	args = append(args, principal)
	conds = append(conds, fmt.Sprintf(
		`(author_agent_id = $%d OR audience_agent_ids ? $%d OR audience_agent_ids ? '*')`,
		len(args), len(args)))

	if filters.Scope != "" {
		args = append(args, filters.Scope)
		conds = append(conds, fmt.Sprintf("scope = $%d", len(args)))
	}
	if filters.SubjectType != "" {
		args = append(args, filters.SubjectType)
		conds = append(conds, fmt.Sprintf("subject_type = $%d", len(args)))
	}
	if filters.SubjectID != "" {
		args = append(args, filters.SubjectID)
		conds = append(conds, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if !filters.IncludeExpired {
		args = append(args, time.Now().UTC())
		conds = append(conds, fmt.Sprintf("expires_at > $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND capsule_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM capsules WHERE %s
		 ORDER BY created_at DESC, capsule_id ASC LIMIT $%d`,
		capsuleColumns, strings.Join(conds, " AND "), len(args))

	return s.queryCapsules(ctx, query, args...)
}

// ListLiveCapsulesFor returns active, unexpired capsules visible to the
// principal, newest first. Used by wake-up bundles.
func (s *Store) ListLiveCapsulesFor(ctx context.Context, tenantID, principal string, now time.Time, limit int) ([]*models.Capsule, error) {
	return s.queryCapsules(ctx,
		`SELECT `+capsuleColumns+` FROM capsules
		 WHERE tenant_id = $1
		   AND status = 'active' AND expires_at > $3
		   AND (author_agent_id = $2 OR audience_agent_ids ? $2 OR audience_agent_ids ? '*')
		 ORDER BY created_at DESC, capsule_id ASC LIMIT $4`,
		tenantID, principal, now, limit,
	)
}

// SetCapsuleEmbedding stores the computed embedding for a capsule.
func (s *Store) SetCapsuleEmbedding(ctx context.Context, tenantID, capsuleID string, embedding pgvector.Vector) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE capsules SET embedding = $3
		 WHERE tenant_id = $1 AND capsule_id = $2`,
		tenantID, capsuleID, embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to set capsule embedding: %w", err)
	}
	return requireRow(res, "capsule "+capsuleID)
}

// UpdateCapsuleStatus transitions a capsule from one status to another.
// Reports false when the capsule is not currently in the from status.
func (s *Store) UpdateCapsuleStatus(ctx context.Context, tenantID, capsuleID string, from, to models.CapsuleStatus) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE capsules SET status = $4
		 WHERE tenant_id = $1 AND capsule_id = $2 AND status = $3`,
		tenantID, capsuleID, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update capsule status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// MarkExpiredCapsules persists the expired status for active capsules past
// their expiry, across all tenants. Returns (tenant_id, capsule_id) pairs.
func (s *Store) MarkExpiredCapsules(ctx context.Context, now time.Time) (map[string][]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`UPDATE capsules SET status = 'expired'
		 WHERE status = 'active' AND expires_at <= $1
		 RETURNING tenant_id, capsule_id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark expired capsules: %w", err)
	}
	defer rows.Close()

	expired := make(map[string][]string)
	for rows.Next() {
		var tenantID, capsuleID string
		if err := rows.Scan(&tenantID, &capsuleID); err != nil {
			return nil, fmt.Errorf("failed to scan expired capsule: %w", err)
		}
		expired[tenantID] = append(expired[tenantID], capsuleID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read expired capsules: %w", err)
	}
	return expired, nil
}

func (s *Store) queryCapsules(ctx context.Context, query string, args ...any) ([]*models.Capsule, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query capsules: %w", err)
	}
	defer rows.Close()

	var capsules []*models.Capsule
	for rows.Next() {
		c, err := scanCapsule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capsule: %w", err)
		}
		capsules = append(capsules, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read capsules: %w", err)
	}
	return capsules, nil
}
