// Package util provides test utilities and helper functions for database testing.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/engram-memory/engram/pkg/database"
)

// TestEmbeddingDimension is the vector width used by tests. Small on purpose
// so tests can hand-craft embeddings; the startup alignment re-types the
// freshly migrated (and still empty) tables down to it.
const TestEmbeddingDimension = 8

var (
	// Shared connection string for all tests in local dev
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupTestDatabase creates a migrated, vector-aligned database client in a
// schema private to the calling test.
// Both CI and local dev use per-test schemas for isolation and scalability.
// - CI: Connects to external PostgreSQL service container (CI_DATABASE_URL)
// - Local: Uses a shared pgvector testcontainer (started once per package)
func SetupTestDatabase(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := getOrCreateSharedDatabase(t)
	schemaName := GenerateSchemaName(t)

	// Connect to the base database to create the schema
	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	t.Logf("Created test schema: %s", schemaName)
	_ = db.Close()

	// Reconnect with search_path set in the connection string so every pooled
	// connection resolves unqualified names in the test schema. public stays
	// on the path because the vector extension lives there.
	connStrWithSchema := AddSearchPathToConnString(connStr, schemaName)
	db, err = stdsql.Open("pgx", connStrWithSchema)
	require.NoError(t, err)

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// Run migrations and vector alignment in the test schema
	err = database.Setup(ctx, db, "test", TestEmbeddingDimension)
	require.NoError(t, err)

	t.Cleanup(func() {
		_, err := db.ExecContext(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName))
		if err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schemaName, err)
		}
		_ = db.Close()
	})

	return database.NewClientFromDB(db, TestEmbeddingDimension)
}

// GetBaseConnectionString returns the base PostgreSQL connection string
// (without schema search_path). Used by integration tests that need a raw
// connection string for dedicated connections, e.g. a NOTIFY listener's
// pgx.Conn.
func GetBaseConnectionString(t *testing.T) string {
	return getOrCreateSharedDatabase(t)
}

// getOrCreateSharedDatabase returns a connection string to the shared database.
// In CI, uses CI_DATABASE_URL. In local dev, creates a shared testcontainer once.
func getOrCreateSharedDatabase(t *testing.T) string {
	connStr := ""

	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		connStr = ciDatabaseURL
	} else {
		// Local dev: ensure shared container is started (once per package)
		containerOnce.Do(func() {
			ctx := context.Background()
			t.Log("Starting shared PostgreSQL testcontainer for all tests")

			pgContainer, err := postgres.Run(ctx,
				"pgvector/pgvector:pg17",
				postgres.WithDatabase("test"),
				postgres.WithUsername("test"),
				postgres.WithPassword("test"),
				testcontainers.WithWaitStrategy(
					wait.ForLog("database system is ready to accept connections").
						WithOccurrence(2).
						WithStartupTimeout(30*time.Second)),
			)
			if err != nil {
				containerErr = fmt.Errorf("failed to start postgres container: %w", err)
				return
			}

			sharedConnStr, err = pgContainer.ConnectionString(ctx, "sslmode=disable")
			if err != nil {
				containerErr = fmt.Errorf("failed to get connection string: %w", err)
				return
			}

			t.Logf("Shared container ready: %s", sharedConnStr)
		})
		require.NoError(t, containerErr, "Failed to setup shared test container")
		connStr = sharedConnStr
	}

	ensureVectorExtension(t, connStr)
	return connStr
}

var (
	extensionOnce sync.Once
	extensionErr  error
)

// ensureVectorExtension installs pgvector into the public schema of the
// shared database. Extensions are database-global, so installing once into
// public (which stays on every test schema's search_path) makes the vector
// type resolvable from all test schemas.
func ensureVectorExtension(t *testing.T, connStr string) {
	extensionOnce.Do(func() {
		db, err := stdsql.Open("pgx", connStr)
		if err != nil {
			extensionErr = fmt.Errorf("failed to connect for extension setup: %w", err)
			return
		}
		defer func() { _ = db.Close() }()

		_, err = db.ExecContext(context.Background(),
			"CREATE EXTENSION IF NOT EXISTS vector SCHEMA public")
		if err != nil {
			extensionErr = fmt.Errorf("failed to create vector extension: %w", err)
		}
	})
	require.NoError(t, extensionErr, "Failed to install pgvector extension")
}

// GenerateSchemaName creates a unique, PostgreSQL-safe schema name for the test.
// Format: test_<sanitized_test_name>_<random_hex>
func GenerateSchemaName(t *testing.T) string {
	// Get test name and sanitize it (lowercase, replace invalid chars with _)
	testName := strings.ToLower(t.Name())
	testName = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, testName)

	// Limit length to avoid PostgreSQL's 63 char identifier limit
	if len(testName) > 40 {
		testName = testName[:40]
	}

	randomBytes := make([]byte, 4)
	if _, err := rand.Read(randomBytes); err != nil {
		t.Fatalf("failed to generate random bytes for schema name: %v", err)
	}

	return fmt.Sprintf("test_%s_%s", testName, hex.EncodeToString(randomBytes))
}

// AddSearchPathToConnString appends a search_path parameter to a PostgreSQL
// connection string, keeping public on the path for the vector extension.
func AddSearchPathToConnString(connStr, schemaName string) string {
	separator := "?"
	if strings.Contains(connStr, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s,public", connStr, separator, schemaName)
}
