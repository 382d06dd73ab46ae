package database

import (
	"context"
	"database/sql"
	"time"
)

// HealthStatus represents database health, connection pool statistics, and
// the state of the pgvector extension.
type HealthStatus struct {
	Status             string `json:"status"`
	ResponseTime       int64  `json:"response_time_ms"`
	OpenConnections    int    `json:"open_connections"`
	InUse              int    `json:"in_use"`
	Idle               int    `json:"idle"`
	WaitCount          int64  `json:"wait_count"`
	WaitDuration       int64  `json:"wait_duration_ms"`
	MaxOpenConns       int    `json:"max_open_conns"`
	VectorExtension    bool   `json:"vector_extension"`
	EmbeddingDimension int    `json:"embedding_dimension,omitempty"`
}

// Health checks database connectivity and returns connection pool statistics
func Health(ctx context.Context, db *sql.DB) (*HealthStatus, error) {
	start := time.Now()

	if err := db.PingContext(ctx); err != nil {
		return &HealthStatus{
			Status:       "unhealthy",
			ResponseTime: time.Since(start).Milliseconds(),
		}, err
	}

	stats := db.Stats()
	status := &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start).Milliseconds(),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
		WaitCount:       stats.WaitCount,
		WaitDuration:    stats.WaitDuration.Milliseconds(),
		MaxOpenConns:    stats.MaxOpenConnections,
	}

	// Report the vector extension state without failing the health check:
	// the pool can be healthy while the schema is still being set up.
	var hasVector bool
	if err := db.QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')",
	).Scan(&hasVector); err == nil {
		status.VectorExtension = hasVector
	}
	if hasVector {
		if dim, err := columnDimension(ctx, db, "session_handoffs"); err == nil {
			status.EmbeddingDimension = dim
		}
	}

	return status, nil
}
