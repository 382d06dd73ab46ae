package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// errReplayRace signals that a concurrent writer recorded the same operation
// while ours was in flight; the caller re-reads the stored result.
var errReplayRace = errors.New("idempotency record raced")

// runIdempotent executes fn inside one transaction and records its JSON
// result under (tenant, op_id). Replaying an op_id returns the stored result
// without executing fn again, which is what makes WAL replay at-most-once.
// result must be a pointer that fn populates. An empty op_id runs the
// transaction without bookkeeping. The returned bool reports a replay.
func runIdempotent(ctx context.Context, st *store.Store, tenantID, opID string, result any, fn func(tx *store.Store) error) (bool, error) {
	if opID == "" {
		return false, st.WithTx(ctx, fn)
	}

	stored, err := st.GetIdempotentResult(ctx, tenantID, opID)
	if err == nil {
		return true, json.Unmarshal(stored, result)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to check idempotency record: %w", err)
	}

	err = st.WithTx(ctx, func(tx *store.Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		payload, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to encode idempotent result: %w", err)
		}
		err = tx.PutIdempotentResult(ctx, tenantID, opID, payload, time.Now().UTC())
		if errors.Is(err, store.ErrDuplicate) {
			return errReplayRace
		}
		return err
	})
	if errors.Is(err, errReplayRace) {
		stored, getErr := st.GetIdempotentResult(ctx, tenantID, opID)
		if getErr != nil {
			return false, fmt.Errorf("failed to load raced idempotency record: %w", getErr)
		}
		return true, json.Unmarshal(stored, result)
	}
	return false, err
}

// newEvent builds the observability record appended in the same transaction
// as the mutation it describes. Timestamps are truncated to the millisecond
// precision the rows are stored with.
func newEvent(tenantID, kind, subjectID string) *models.Event {
	return &models.Event{
		EventID:   models.NewID(models.PrefixEvent),
		TenantID:  tenantID,
		Kind:      kind,
		SubjectID: subjectID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}
