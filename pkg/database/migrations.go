package database

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateVectorIndexes creates HNSW indexes for approximate nearest-neighbor
// search on every embedding column. These are created programmatically rather
// than in the migration because they must be built after the startup
// dimension alignment, which may re-type the columns.
func CreateVectorIndexes(ctx context.Context, db *sql.DB) error {
	for _, col := range embeddingColumns {
		stmt := fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			col.Index, col.Table)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create vector index on %s: %w", col.Table, err)
		}
	}
	return nil
}
