package store

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-memory/engram/pkg/models"
)

// AddCompressionStats accumulates one run's counters into the daily stats
// row for (tenant, stat_date, compression_type). percentage_saved is
// overwritten with the latest run's value.
func (s *Store) AddCompressionStats(ctx context.Context, st *models.ConsolidationStats) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO consolidation_stats
		 (tenant_id, stat_date, compression_type, before_count, after_count, tokens_saved, percentage_saved)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (tenant_id, stat_date, compression_type) DO UPDATE SET
		     before_count = consolidation_stats.before_count + EXCLUDED.before_count,
		     after_count = consolidation_stats.after_count + EXCLUDED.after_count,
		     tokens_saved = consolidation_stats.tokens_saved + EXCLUDED.tokens_saved,
		     percentage_saved = EXCLUDED.percentage_saved`,
		st.TenantID, st.StatDate, st.CompressionType, st.BeforeCount,
		st.AfterCount, st.TokensSaved, st.PercentageSaved,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert compression stats: %w", err)
	}
	return nil
}

// ListCompressionStats returns stats rows since the given date, newest first.
func (s *Store) ListCompressionStats(ctx context.Context, tenantID string, since time.Time) ([]*models.ConsolidationStats, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT tenant_id, stat_date, compression_type, before_count, after_count, tokens_saved, percentage_saved
		 FROM consolidation_stats
		 WHERE tenant_id = $1 AND stat_date >= $2
		 ORDER BY stat_date DESC, compression_type ASC`,
		tenantID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query compression stats: %w", err)
	}
	defer rows.Close()

	var stats []*models.ConsolidationStats
	for rows.Next() {
		var st models.ConsolidationStats
		if err := rows.Scan(&st.TenantID, &st.StatDate, &st.CompressionType,
			&st.BeforeCount, &st.AfterCount, &st.TokensSaved, &st.PercentageSaved); err != nil {
			return nil, fmt.Errorf("failed to scan compression stats: %w", err)
		}
		stats = append(stats, &st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read compression stats: %w", err)
	}
	return stats, nil
}

// SumTokensSavedByType returns cumulative tokens_saved per compression type
// for a tenant.
func (s *Store) SumTokensSavedByType(ctx context.Context, tenantID string) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT compression_type, COALESCE(sum(tokens_saved), 0)
		 FROM consolidation_stats WHERE tenant_id = $1
		 GROUP BY compression_type`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to sum tokens saved: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]int)
	for rows.Next() {
		var (
			compressionType string
			total           int
		)
		if err := rows.Scan(&compressionType, &total); err != nil {
			return nil, fmt.Errorf("failed to scan tokens saved: %w", err)
		}
		sums[compressionType] = total
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tokens saved: %w", err)
	}
	return sums, nil
}
