package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// embeddingColumns lists every table carrying a pgvector embedding, with the
// name of its HNSW index.
var embeddingColumns = []struct {
	Table string
	Index string
}{
	{"session_handoffs", "idx_handoffs_embedding"},
	{"knowledge_notes", "idx_notes_embedding"},
	{"capsules", "idx_capsules_embedding"},
	{"agent_feedback", "idx_feedback_embedding"},
}

// EnsureEmbeddingDimension aligns the vector columns with the configured
// dimension. The migration creates them at the default width; while no
// embedded rows exist the columns can still be re-typed, afterwards the
// dimension is frozen and a mismatch is a startup error.
func EnsureEmbeddingDimension(ctx context.Context, db *sql.DB, dimension int) error {
	current, err := columnDimension(ctx, db, "session_handoffs")
	if err != nil {
		return err
	}
	if current == dimension {
		return nil
	}

	embedded, err := countEmbeddedRows(ctx, db)
	if err != nil {
		return err
	}
	if embedded > 0 {
		return fmt.Errorf(
			"embedding columns are vector(%d) with %d embedded rows, cannot re-type to vector(%d): changing the dimension after data exists is a breaking operation",
			current, embedded, dimension)
	}

	slog.Info("Re-typing empty embedding columns",
		"from_dimension", current, "to_dimension", dimension)

	for _, col := range embeddingColumns {
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("DROP INDEX IF EXISTS %s", col.Index)); err != nil {
			return fmt.Errorf("failed to drop vector index on %s: %w", col.Table, err)
		}
		if _, err := db.ExecContext(ctx,
			fmt.Sprintf("ALTER TABLE %s ALTER COLUMN embedding TYPE vector(%d)", col.Table, dimension)); err != nil {
			return fmt.Errorf("failed to re-type embedding column on %s: %w", col.Table, err)
		}
	}

	return nil
}

// columnDimension reads the declared width of a table's embedding column.
func columnDimension(ctx context.Context, db *sql.DB, table string) (int, error) {
	var typeName string
	err := db.QueryRowContext(ctx,
		`SELECT format_type(atttypid, atttypmod)
		 FROM pg_attribute
		 WHERE attrelid = $1::regclass AND attname = 'embedding'`,
		table,
	).Scan(&typeName)
	if err != nil {
		return 0, fmt.Errorf("failed to read embedding column type on %s: %w", table, err)
	}

	var dim int
	if _, err := fmt.Sscanf(typeName, "vector(%d)", &dim); err != nil {
		return 0, fmt.Errorf("unexpected embedding column type %q on %s: %w", typeName, table, err)
	}
	return dim, nil
}

func countEmbeddedRows(ctx context.Context, db *sql.DB) (int64, error) {
	var total int64
	for _, col := range embeddingColumns {
		var n int64
		err := db.QueryRowContext(ctx,
			fmt.Sprintf("SELECT count(*) FROM %s WHERE embedding IS NOT NULL", col.Table),
		).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("failed to count embedded rows in %s: %w", col.Table, err)
		}
		total += n
	}
	return total, nil
}
