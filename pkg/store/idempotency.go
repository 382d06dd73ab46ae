package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetIdempotentResult returns the stored result for an op_id, or ErrNotFound
// when the operation has not been applied yet.
func (s *Store) GetIdempotentResult(ctx context.Context, tenantID, opID string) ([]byte, error) {
	var result []byte
	err := s.q.QueryRowContext(ctx,
		`SELECT result FROM idempotency_keys WHERE tenant_id = $1 AND op_id = $2`,
		tenantID, opID,
	).Scan(&result)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency record: %w", err)
	}
	return result, nil
}

// PutIdempotentResult records the result of an applied operation. Returns
// ErrDuplicate when the op_id was recorded concurrently; callers should
// re-read the stored result in that case.
func (s *Store) PutIdempotentResult(ctx context.Context, tenantID, opID string, result []byte, at time.Time) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO idempotency_keys (tenant_id, op_id, result, created_at) VALUES ($1, $2, $3, $4)`,
		tenantID, opID, result, at,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to record idempotency key: %w", err)
	}
	return nil
}

// DeleteIdempotencyOlderThan removes idempotency records created before the
// cutoff across all tenants. Replays of operations older than the retention
// window will re-execute.
func (s *Store) DeleteIdempotencyOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned idempotency keys: %w", err)
	}
	return n, nil
}
