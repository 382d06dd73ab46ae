package consolidation

import (
	"context"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// archiveDecisions moves active decisions past the archive threshold to
// archived. Superseded decisions keep their status; the store update only
// touches rows still active.
func (e *Engine) archiveDecisions(ctx context.Context, tenantID string) (int, int, map[string]any, error) {
	now := e.now().UTC()
	cutoff := now.AddDate(0, 0, -e.cfg.DecisionArchiveThresholdDays)

	var archived []string
	err := e.store.WithTx(ctx, func(tx *store.Store) error {
		ids, err := tx.ArchiveActiveDecisionsOlderThan(ctx, tenantID, cutoff)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.AppendEvent(ctx, &models.Event{
				EventID:   models.NewID(models.PrefixEvent),
				TenantID:  tenantID,
				Kind:      models.EventDecisionArchived,
				SubjectID: id,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		archived = ids
		return nil
	})
	if err != nil {
		return 0, 0, nil, err
	}
	return len(archived), len(archived), map[string]any{"archived": len(archived)}, nil
}
