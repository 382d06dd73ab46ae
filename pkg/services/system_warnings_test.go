package services

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemWarningsService_AddAndGet(t *testing.T) {
	svc := NewSystemWarningsService()

	id := svc.AddWarning(WarningCategoryEmbedding, "Provider unreachable", "connection refused", "http://localhost:11434")
	assert.NotEmpty(t, id)

	warnings := svc.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningCategoryEmbedding, warnings[0].Category)
	assert.Equal(t, "Provider unreachable", warnings[0].Message)
	assert.Equal(t, "connection refused", warnings[0].Details)
	assert.Equal(t, "http://localhost:11434", warnings[0].SourceID)
	assert.False(t, warnings[0].CreatedAt.IsZero())
}

func TestSystemWarningsService_ClearBySourceID(t *testing.T) {
	svc := NewSystemWarningsService()

	svc.AddWarning(WarningCategoryConsolidation, "Job taken over", "", "cj_1")
	svc.AddWarning(WarningCategoryConsolidation, "Job taken over", "", "cj_2")

	assert.Len(t, svc.GetWarnings(), 2)

	// Clear the first job's warning
	cleared := svc.ClearBySourceID(WarningCategoryConsolidation, "cj_1")
	assert.True(t, cleared)
	assert.Len(t, svc.GetWarnings(), 1)
	assert.Equal(t, "cj_2", svc.GetWarnings()[0].SourceID)

	// Clear non-existent
	cleared = svc.ClearBySourceID(WarningCategoryConsolidation, "cj_404")
	assert.False(t, cleared)
}

func TestSystemWarningsService_ReplacesDuplicate(t *testing.T) {
	svc := NewSystemWarningsService()

	svc.AddWarning(WarningCategoryLLM, "First error", "err1", "http://llm")
	svc.AddWarning(WarningCategoryLLM, "Second error", "err2", "http://llm")

	// Should have replaced the first warning, not added a second
	warnings := svc.GetWarnings()
	require.Len(t, warnings, 1)
	assert.Equal(t, "Second error", warnings[0].Message)
	assert.Equal(t, "err2", warnings[0].Details)
}

func TestSystemWarningsService_Empty(t *testing.T) {
	svc := NewSystemWarningsService()
	assert.Empty(t, svc.GetWarnings())
}

func TestSystemWarningsService_ThreadSafety(t *testing.T) {
	svc := NewSystemWarningsService()
	var wg sync.WaitGroup

	// Concurrent adds
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc.AddWarning("test", "msg", "", "")
		}()
	}

	// Concurrent reads
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.GetWarnings()
		}()
	}

	wg.Wait()
	// Just ensure no panics; exact count doesn't matter for a concurrency test
	assert.NotNil(t, svc.GetWarnings())
}
