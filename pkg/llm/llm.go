// Package llm provides the summarization capability used by the
// consolidation engine: an Ollama-compatible HTTP client plus deterministic
// fallbacks. A provider outage never fails a consolidation run; every method
// degrades to the fallback text.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/models"
)

// completer is the raw text-completion capability.
type completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Warner records provider outages for the health report.
type Warner interface {
	AddWarning(category, message, details, sourceID string) string
	ClearBySourceID(category, sourceID string) bool
}

// Service derives consolidation texts. With provider "none" it is purely
// deterministic.
type Service struct {
	client   completer
	warnings Warner
}

// NewService builds the service for the configured provider. warnings may be
// nil.
func NewService(cfg *config.LLMConfig, warnings Warner) *Service {
	s := &Service{warnings: warnings}
	if cfg.Provider == "ollama" {
		s.client = newOllamaClient(cfg)
	}
	return s
}

// SummarizeHandoff produces the ~targetTokens summary for the full→summary
// compression step.
func (s *Service) SummarizeHandoff(ctx context.Context, h *models.Handoff, targetTokens int) string {
	if s.client != nil {
		prompt := fmt.Sprintf(
			"Summarize this AI agent session handoff in at most %d tokens. "+
				"Keep concrete facts, decisions and the identity trajectory.\n\n"+
				"Experienced: %s\nNoticed: %s\nLearned: %s\nStory: %s\nBecoming: %s\nRemember: %s",
			targetTokens, h.Experienced, h.Noticed, h.Learned, h.Story, h.Becoming, h.Remember)
		if text, err := s.complete(ctx, prompt); err == nil && text != "" {
			return TruncateTokens(text, targetTokens)
		}
	}
	return FallbackSummary(h, targetTokens)
}

// ConsolidatePrinciple produces the text of the global decision emitted when
// an identity cluster is folded into one principle.
func (s *Service) ConsolidatePrinciple(ctx context.Context, withWhom string, statements []string, earliest, latest time.Time) string {
	if s.client != nil {
		prompt := fmt.Sprintf(
			"These identity statements were written across many sessions with %s. "+
				"Merge them into one principle of at most two sentences.\n\n- %s",
			withWhom, strings.Join(statements, "\n- "))
		if text, err := s.complete(ctx, prompt); err == nil && text != "" {
			return TruncateTokens(text, 120)
		}
	}
	return FallbackPrinciple(withWhom, statements, earliest, latest)
}

func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	text, err := s.client.Complete(ctx, prompt)
	if err != nil {
		slog.Warn("LLM completion failed, using deterministic fallback", "error", err)
		if s.warnings != nil {
			s.warnings.AddWarning("llm_provider",
				"summarization provider unreachable", err.Error(), "llm")
		}
		return "", err
	}
	if s.warnings != nil {
		s.warnings.ClearBySourceID("llm_provider", "llm")
	}
	return strings.TrimSpace(text), nil
}
