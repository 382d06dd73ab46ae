package consolidation

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-memory/engram/pkg/llm"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// compressHandoffs runs the ladder steps for one tenant: full→summary,
// summary→quick_ref, and (monthly) quick_ref→integrated. Every item commits
// in its own sub-transaction; a failed item fails the job but keeps the
// items already advanced.
func (e *Engine) compressHandoffs(ctx context.Context, tenantID string, job *models.ConsolidationJob, withIntegration bool) (int, int, map[string]any, error) {
	now := e.now().UTC()
	var processed, affected int

	progress := func() {
		// Best-effort: the counters are advisory mid-run.
		_ = e.store.UpdateJobProgress(ctx, tenantID, job.JobID, processed, affected)
	}

	summarized, err := e.compressStep(ctx, tenantID, models.CompressionFull, models.CompressionSummary,
		now.AddDate(0, 0, -e.cfg.SummaryThresholdDays), now, &processed, progress)
	if err != nil {
		return processed, affected, nil, err
	}
	affected += summarized

	quickRefed, err := e.compressStep(ctx, tenantID, models.CompressionSummary, models.CompressionQuickRef,
		now.AddDate(0, 0, -e.cfg.QuickRefThresholdDays), now, &processed, progress)
	if err != nil {
		return processed, affected, nil, err
	}
	affected += quickRefed

	metadata := map[string]any{
		"summarized":       summarized,
		"quick_refed":      quickRefed,
		"with_integration": withIntegration,
	}

	if withIntegration {
		integrated, err := e.integrateStep(ctx, tenantID,
			now.AddDate(0, 0, -e.cfg.IntegrationThresholdDays), now, &processed, progress)
		if err != nil {
			return processed, affected, metadata, err
		}
		affected += integrated
		metadata["integrated"] = integrated
	}

	return processed, affected, metadata, nil
}

// compressStep advances every handoff below the cutoff one level, batching
// the selection and accumulating stats. Selection order is created_at asc,
// handoff_id asc, so retries resume where the failed run stopped.
func (e *Engine) compressStep(ctx context.Context, tenantID string, from, to models.CompressionLevel, cutoff, now time.Time, processed *int, progress func()) (int, error) {
	var advanced, tokensBefore, tokensAfter int

	for {
		batch, err := e.store.ListHandoffsForCompression(ctx, tenantID, from, cutoff, compressionBatchSize)
		if err != nil {
			return advanced, err
		}
		if len(batch) == 0 {
			break
		}

		for _, h := range batch {
			if ctx.Err() != nil {
				return advanced, ctx.Err()
			}
			*processed++

			derived := e.deriveText(ctx, h, to)
			before := retainedTokens(h)

			err := e.store.WithTx(ctx, func(tx *store.Store) error {
				ok, err := tx.AdvanceHandoffCompression(ctx, tenantID, h.HandoffID, from, to, derived, "", now)
				if err != nil || !ok {
					return err
				}
				return tx.AppendEvent(ctx, &models.Event{
					EventID:   models.NewID(models.PrefixEvent),
					TenantID:  tenantID,
					Kind:      models.EventHandoffCompressed,
					SubjectID: h.HandoffID,
					CreatedAt: now,
				})
			})
			if err != nil {
				return advanced, fmt.Errorf("compressing %s to %s: %w", h.HandoffID, to, err)
			}

			advanced++
			tokensBefore += before
			tokensAfter += llm.EstimateTokens(derived)
			progress()
		}

		if len(batch) < compressionBatchSize {
			break
		}
	}

	if advanced > 0 {
		if err := e.recordStats(ctx, tenantID, string(to), advanced, tokensBefore, tokensAfter, now); err != nil {
			return advanced, err
		}
	}
	return advanced, nil
}

// integrateStep folds quick_ref handoffs past the integration threshold into
// principles. Handoffs already linked by identity consolidation keep their
// principle; the rest share one deterministic principle per counterpart.
func (e *Engine) integrateStep(ctx context.Context, tenantID string, cutoff, now time.Time, processed *int, progress func()) (int, error) {
	var integrated, tokensBefore int
	principles := make(map[string]string) // with_whom → decision_id minted this run

	for {
		batch, err := e.store.ListHandoffsForCompression(ctx, tenantID, models.CompressionQuickRef, cutoff, compressionBatchSize)
		if err != nil {
			return integrated, err
		}
		if len(batch) == 0 {
			break
		}

		for _, h := range batch {
			if ctx.Err() != nil {
				return integrated, ctx.Err()
			}
			*processed++

			principleID := h.IntegratedInto
			if principleID == "" {
				principleID, err = e.integrationPrinciple(ctx, tenantID, h, principles, now)
				if err != nil {
					return integrated, err
				}
			}

			err := e.store.WithTx(ctx, func(tx *store.Store) error {
				ok, err := tx.AdvanceHandoffCompression(ctx, tenantID, h.HandoffID,
					models.CompressionQuickRef, models.CompressionIntegrated, "", principleID, now)
				if err != nil || !ok {
					return err
				}
				return tx.AppendEvent(ctx, &models.Event{
					EventID:   models.NewID(models.PrefixEvent),
					TenantID:  tenantID,
					Kind:      models.EventHandoffCompressed,
					SubjectID: h.HandoffID,
					CreatedAt: now,
				})
			})
			if err != nil {
				return integrated, fmt.Errorf("integrating %s: %w", h.HandoffID, err)
			}

			integrated++
			tokensBefore += retainedTokens(h)
			progress()
		}

		if len(batch) < compressionBatchSize {
			break
		}
	}

	if integrated > 0 {
		if err := e.recordStats(ctx, tenantID, string(models.CompressionIntegrated), integrated, tokensBefore, 0, now); err != nil {
			return integrated, err
		}
	}
	return integrated, nil
}

// integrationPrinciple returns the shared principle for a counterpart,
// minting one global decision per (run, with_whom) when no identity cluster
// claimed the handoff earlier.
func (e *Engine) integrationPrinciple(ctx context.Context, tenantID string, h *models.Handoff, cache map[string]string, now time.Time) (string, error) {
	if id, ok := cache[h.WithWhom]; ok {
		return id, nil
	}

	statements := []string{h.QuickRefLine()}
	if h.Becoming != "" {
		statements = append(statements, h.Becoming)
	}
	text := e.llm.ConsolidatePrinciple(ctx, h.WithWhom, statements, h.CreatedAt, now)

	decision := &models.Decision{
		DecisionID: models.NewID(models.PrefixDecision),
		TenantID:   tenantID,
		Scope:      models.DecisionScopeGlobal,
		Text:       text,
		Status:     models.DecisionStatusActive,
		CreatedAt:  now,
	}
	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		if err := tx.CreateDecision(ctx, decision); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, &models.Event{
			EventID:   models.NewID(models.PrefixEvent),
			TenantID:  tenantID,
			Kind:      models.EventPrincipleCreated,
			SubjectID: decision.DecisionID,
			CreatedAt: now,
		})
	})
	if err != nil {
		return "", err
	}
	cache[h.WithWhom] = decision.DecisionID
	return decision.DecisionID, nil
}

// deriveText computes the derived field for the target level.
func (e *Engine) deriveText(ctx context.Context, h *models.Handoff, to models.CompressionLevel) string {
	switch to {
	case models.CompressionSummary:
		return e.llm.SummarizeHandoff(ctx, h, e.cfg.SummaryTargetTokens)
	case models.CompressionQuickRef:
		return llm.TruncateTokens(h.QuickRefLine(), e.cfg.QuickRefTargetTokens)
	default:
		return ""
	}
}

// retainedTokens estimates the tokens returned by a default read of the
// handoff at its current level. tokens_saved is the drop in this figure.
func retainedTokens(h *models.Handoff) int {
	switch h.CompressionLevel {
	case models.CompressionFull:
		return llm.EstimateTokens(h.Experienced) + llm.EstimateTokens(h.Noticed) +
			llm.EstimateTokens(h.Learned) + llm.EstimateTokens(h.Story) +
			llm.EstimateTokens(h.Becoming) + llm.EstimateTokens(h.Remember)
	case models.CompressionSummary:
		return llm.EstimateTokens(h.Summary)
	case models.CompressionQuickRef:
		return llm.EstimateTokens(h.QuickRef)
	default:
		return 0
	}
}

func (e *Engine) recordStats(ctx context.Context, tenantID, compressionType string, count, tokensBefore, tokensAfter int, now time.Time) error {
	saved := tokensBefore - tokensAfter
	if saved < 0 {
		saved = 0
	}
	var pct float64
	if tokensBefore > 0 {
		pct = float64(saved) / float64(tokensBefore) * 100
	}
	return e.store.AddCompressionStats(ctx, &models.ConsolidationStats{
		TenantID:        tenantID,
		StatDate:        now.Truncate(24 * time.Hour),
		CompressionType: compressionType,
		BeforeCount:     count,
		AfterCount:      count,
		TokensSaved:     saved,
		PercentageSaved: pct,
	})
}
