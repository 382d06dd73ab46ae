package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
)

const decisionColumns = `decision_id, tenant_id, scope, text, status, supersedes, created_at`

func scanDecision(row rowScanner) (*models.Decision, error) {
	var d models.Decision
	err := row.Scan(&d.DecisionID, &d.TenantID, &d.Scope, &d.Text, &d.Status,
		&d.Supersedes, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	d.CreatedAt = d.CreatedAt.UTC()
	return &d, nil
}

// CreateDecision inserts a decision row.
func (s *Store) CreateDecision(ctx context.Context, d *models.Decision) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO decisions (decision_id, tenant_id, scope, text, status, supersedes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.DecisionID, d.TenantID, d.Scope, d.Text, d.Status, d.Supersedes, d.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("decision %s: %w", d.DecisionID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// GetDecision fetches one decision by id within the tenant.
func (s *Store) GetDecision(ctx context.Context, tenantID, decisionID string) (*models.Decision, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE tenant_id = $1 AND decision_id = $2`,
		tenantID, decisionID,
	)
	d, err := scanDecision(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("decision %s: %w", decisionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return d, nil
}

// ListDecisions returns one keyset page ordered by created_at desc, id asc.
func (s *Store) ListDecisions(ctx context.Context, tenantID string, filters models.DecisionFilters, page models.Keyset) ([]*models.Decision, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if filters.Scope != "" {
		args = append(args, filters.Scope)
		conds = append(conds, fmt.Sprintf("scope = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND decision_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM decisions WHERE %s
		 ORDER BY created_at DESC, decision_id ASC LIMIT $%d`,
		decisionColumns, strings.Join(conds, " AND "), len(args))

	return s.queryDecisions(ctx, query, args...)
}

// ListActiveDecisionsInScopes returns active decisions whose scope is in the
// given set, newest first. Used by wake-up bundles.
func (s *Store) ListActiveDecisionsInScopes(ctx context.Context, tenantID string, scopes []models.DecisionScope, limit int) ([]*models.Decision, error) {
	names := make([]string, len(scopes))
	for i, sc := range scopes {
		names[i] = string(sc)
	}
	return s.queryDecisions(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE tenant_id = $1 AND status = 'active' AND scope = ANY($2)
		 ORDER BY created_at DESC, decision_id ASC LIMIT $3`,
		tenantID, names, limit,
	)
}

// SupersedeDecision transitions an active decision to superseded. Reports
// false when the decision exists but is no longer active.
func (s *Store) SupersedeDecision(ctx context.Context, tenantID, decisionID string) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE decisions SET status = 'superseded'
		 WHERE tenant_id = $1 AND decision_id = $2 AND status = 'active'`,
		tenantID, decisionID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to supersede decision: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// ArchiveActiveDecisionsOlderThan transitions stale active decisions to
// archived and returns their ids. Superseded decisions are left untouched.
func (s *Store) ArchiveActiveDecisionsOlderThan(ctx context.Context, tenantID string, cutoff time.Time) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`UPDATE decisions SET status = 'archived'
		 WHERE tenant_id = $1 AND status = 'active' AND created_at < $2
		 RETURNING decision_id`,
		tenantID, cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to archive decisions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan archived decision id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archived decision ids: %w", err)
	}
	return ids, nil
}

func (s *Store) queryDecisions(ctx context.Context, query string, args ...any) ([]*models.Decision, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*models.Decision
	for rows.Next() {
		d, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}
	return decisions, nil
}
