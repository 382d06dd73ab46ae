package consolidation

import (
	"context"
	"fmt"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// consolidateIdentity clusters becoming statements per counterpart and folds
// clusters of configured size into one global-scope principle decision,
// marking every member handoff integrated into it.
func (e *Engine) consolidateIdentity(ctx context.Context, tenantID string) (int, int, map[string]any, error) {
	now := e.now().UTC()

	handoffs, err := e.store.ListHandoffsWithBecoming(ctx, tenantID)
	if err != nil {
		return 0, 0, nil, err
	}

	byCounterpart := make(map[string][]*models.Handoff)
	for _, h := range handoffs {
		byCounterpart[h.WithWhom] = append(byCounterpart[h.WithWhom], h)
	}

	processed := len(handoffs)
	var affected, principlesCreated int

	for withWhom, group := range byCounterpart {
		clusters := clusterHandoffs(group, clusterThresholds{
			cosineMin:      e.cfg.IdentityCosineMin,
			keywordOverlap: e.cfg.IdentityKeywordOverlap,
			jaccardMin:     e.cfg.IdentityJaccardMin,
		})

		for _, cluster := range clusters {
			if len(cluster) < e.cfg.IdentityMinClusterSize {
				continue
			}
			if ctx.Err() != nil {
				return processed, affected, nil, ctx.Err()
			}

			statements := make([]string, len(cluster))
			for i, h := range cluster {
				statements[i] = h.Becoming
			}
			earliest := cluster[0].CreatedAt
			latest := cluster[len(cluster)-1].CreatedAt
			text := e.llm.ConsolidatePrinciple(ctx, withWhom, statements, earliest, latest)

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
				return processed, affected, nil, fmt.Errorf("creating principle for %s: %w", withWhom, err)
			}
			principlesCreated++

			// Link members one at a time so a failure mid-cluster keeps the
			// links already made; the guard in MarkHandoffIntegrated makes
			// retries skip them.
			for _, h := range cluster {
				ok, err := e.store.MarkHandoffIntegrated(ctx, tenantID, h.HandoffID, decision.DecisionID, now)
				if err != nil {
					return processed, affected, nil, fmt.Errorf("integrating %s: %w", h.HandoffID, err)
				}
				if ok {
					affected++
				}
			}
		}
	}

	return processed, affected, map[string]any{"principles_created": principlesCreated}, nil
}
