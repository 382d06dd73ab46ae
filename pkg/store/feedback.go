package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/models"
)

const feedbackColumns = `feedback_id, tenant_id, kind, text, status, embedding, created_at`

func scanFeedback(row rowScanner) (*models.AgentFeedback, error) {
	var (
		f         models.AgentFeedback
		embedding sql.NullString
	)
	err := row.Scan(&f.FeedbackID, &f.TenantID, &f.Kind, &f.Text, &f.Status,
		&embedding, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	if f.Embedding, err = scanVector(embedding); err != nil {
		return nil, err
	}
	return &f, nil
}

// CreateFeedback inserts a feedback row.
func (s *Store) CreateFeedback(ctx context.Context, f *models.AgentFeedback) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO agent_feedback (feedback_id, tenant_id, kind, text, status, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.FeedbackID, f.TenantID, f.Kind, f.Text, f.Status,
		vectorValue(f.Embedding), f.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feedback %s: %w", f.FeedbackID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}

// GetFeedback fetches one feedback entry by id within the tenant.
func (s *Store) GetFeedback(ctx context.Context, tenantID, feedbackID string) (*models.AgentFeedback, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+feedbackColumns+` FROM agent_feedback
		 WHERE tenant_id = $1 AND feedback_id = $2`,
		tenantID, feedbackID,
	)
	f, err := scanFeedback(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("feedback %s: %w", feedbackID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feedback: %w", err)
	}
	return f, nil
}

// ListFeedback returns one keyset page ordered by created_at desc, id asc.
func (s *Store) ListFeedback(ctx context.Context, tenantID string, filters models.FeedbackFilters, page models.Keyset) ([]*models.AgentFeedback, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if filters.Kind != "" {
		args = append(args, filters.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filters.Status != "" {
		args = append(args, filters.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND feedback_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM agent_feedback WHERE %s
		 ORDER BY created_at DESC, feedback_id ASC LIMIT $%d`,
		feedbackColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var feedback []*models.AgentFeedback
	for rows.Next() {
		f, err := scanFeedback(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		feedback = append(feedback, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read feedback: %w", err)
	}
	return feedback, nil
}

// UpdateFeedbackStatus transitions a feedback entry from one status to
// another. Reports false when the entry is not currently in the from status.
// The transition table itself is enforced by the service layer.
func (s *Store) UpdateFeedbackStatus(ctx context.Context, tenantID, feedbackID string, from, to models.FeedbackStatus) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		`UPDATE agent_feedback SET status = $4
		 WHERE tenant_id = $1 AND feedback_id = $2 AND status = $3`,
		tenantID, feedbackID, from, to,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update feedback status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

// SetFeedbackEmbedding stores the computed embedding for a feedback entry.
func (s *Store) SetFeedbackEmbedding(ctx context.Context, tenantID, feedbackID string, embedding pgvector.Vector) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE agent_feedback SET embedding = $3
		 WHERE tenant_id = $1 AND feedback_id = $2`,
		tenantID, feedbackID, embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to set feedback embedding: %w", err)
	}
	return requireRow(res, "feedback "+feedbackID)
}
