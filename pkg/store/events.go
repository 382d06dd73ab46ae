package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
)

// TenantChannel returns the pg_notify channel carrying a tenant's events.
// Tenant ids are sanitized because channel names are SQL identifiers.
func TenantChannel(tenantID string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, strings.ToLower(tenantID))
	return "engram_events_" + sanitized
}

// AppendEvent persists an observability event and broadcasts it via NOTIFY.
// pg_notify is transactional, so when called inside WithTx the notification
// is held until the surrounding mutation commits and fires atomically with it.
func (s *Store) AppendEvent(ctx context.Context, e *models.Event) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO events (event_id, tenant_id, kind, subject_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.EventID, e.TenantID, e.Kind, e.SubjectID, e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("event %s: %w", e.EventID, ErrDuplicate)
		}
		return fmt.Errorf("failed to persist event: %w", err)
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		"SELECT pg_notify($1, $2)", TenantChannel(e.TenantID), string(payload)); err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// ListEvents returns one keyset page of events, newest first, optionally
// filtered by kind.
func (s *Store) ListEvents(ctx context.Context, tenantID, kind string, page models.Keyset) ([]*models.Event, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if kind != "" {
		args = append(args, kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND event_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT event_id, tenant_id, kind, subject_id, created_at
		 FROM events WHERE %s
		 ORDER BY created_at DESC, event_id ASC LIMIT $%d`,
		strings.Join(conds, " AND "), len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var e models.Event
		if err := rows.Scan(&e.EventID, &e.TenantID, &e.Kind, &e.SubjectID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.CreatedAt = e.CreatedAt.UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

// DeleteEventsOlderThan removes events past the retention window, across all
// tenants. Returns the number of rows removed.
func (s *Store) DeleteEventsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}
