package store

import (
	"context"
	"fmt"
)

// ListTenants returns every tenant id that owns at least one row in any of
// the primary entity tables. Used by background maintenance to iterate
// tenants without a tenant registry.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT tenant_id FROM session_handoffs
		 UNION SELECT tenant_id FROM decisions
		 UNION SELECT tenant_id FROM knowledge_notes
		 UNION SELECT tenant_id FROM capsules
		 UNION SELECT tenant_id FROM agent_feedback
		 ORDER BY tenant_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenant string
		if err := rows.Scan(&tenant); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tenants: %w", err)
	}
	return tenants, nil
}
