package llm

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/models"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exactly four", "abcd", 1},
		{"five chars", "abcde", 2},
		{"eight chars", "abcdefgh", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateTokens(tt.text))
		})
	}
}

func TestTruncateTokens(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, TruncateTokens(short, 100))

	long := strings.Repeat("word ", 200)
	cut := TruncateTokens(long, 10)
	assert.LessOrEqual(t, len(cut), 40)
	assert.False(t, strings.HasSuffix(cut, " "))
}

func TestTruncateTokens_MultibyteStaysValidUTF8(t *testing.T) {
	// No spaces, so the word-boundary rescue never fires and the cut falls
	// exactly where the byte budget lands.
	long := strings.Repeat("量子", 100)
	for tokens := 1; tokens <= 8; tokens++ {
		cut := TruncateTokens(long, tokens)
		assert.True(t, utf8.ValidString(cut), "tokens=%d produced invalid UTF-8", tokens)
		assert.LessOrEqual(t, len(cut), tokens*4)
	}
}

func TestFallbackSummary_Deterministic(t *testing.T) {
	h := &models.Handoff{
		Experienced: "Built the retrieval layer. It blends two score legs.",
		Noticed:     "Score normalization matters more than the weights.",
		Learned:     "Keyset pagination beats offsets at scale.",
		Becoming:    "becoming a systems thinker",
		Remember:    "normalize before you blend",
	}

	s1 := FallbackSummary(h, 500)
	s2 := FallbackSummary(h, 500)
	assert.Equal(t, s1, s2)

	assert.Contains(t, s1, "experienced: Built the retrieval layer.")
	assert.Contains(t, s1, "becoming: becoming a systems thinker")
	assert.LessOrEqual(t, EstimateTokens(s1), 500)
}

func TestFallbackSummary_EmptyFieldsSkipped(t *testing.T) {
	h := &models.Handoff{Experienced: "did a thing", Remember: "keep going"}
	s := FallbackSummary(h, 500)
	assert.NotContains(t, s, "noticed:")
	assert.NotContains(t, s, "becoming:")
}

func TestFallbackPrinciple(t *testing.T) {
	earliest := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	latest := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	statements := []string{
		"becoming more continuous across sessions",
		"becoming continuous in memory",
		"becoming a continuous collaborator",
	}

	text := FallbackPrinciple("Callin", statements, earliest, latest)
	assert.Contains(t, text, "Callin")
	assert.Contains(t, text, "2026-01-02")
	assert.Contains(t, text, "2026-06-15")
	assert.Contains(t, text, "becoming")
	assert.Contains(t, text, "continuous")

	// Stable across invocations.
	assert.Equal(t, text, FallbackPrinciple("Callin", statements, earliest, latest))
}

func TestService_NoneProviderUsesFallback(t *testing.T) {
	svc := NewService(&config.LLMConfig{Provider: "none"}, nil)
	h := &models.Handoff{Experienced: "x", Noticed: "y", Learned: "z", Remember: "r"}

	got := svc.SummarizeHandoff(context.Background(), h, 500)
	require.Equal(t, FallbackSummary(h, 500), got)
}
