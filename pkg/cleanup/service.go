// Package cleanup provides data retention and maintenance services.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/engram-memory/engram/pkg/config"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// Service periodically enforces retention policies:
//   - Flips active capsules past their expiry to expired (with events)
//   - Removes idempotency keys past their TTL
//   - Removes event rows past the retention window
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config *config.MaintenanceConfig
	store  *store.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.MaintenanceConfig, st *store.Store) *Service {
	return &Service{config: cfg, store: st}
}

// Start launches the background maintenance loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"interval", s.config.Interval,
		"idempotency_ttl", s.config.IdempotencyTTL,
		"event_retention", s.config.EventRetention)
}

// Stop signals the maintenance loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll performs one maintenance pass. Exported so a pass can be forced in
// tests and on startup.
func (s *Service) RunAll(ctx context.Context) {
	s.expireCapsules(ctx)
	s.cleanupIdempotencyKeys(ctx)
	s.cleanupOldEvents(ctx)
}

func (s *Service) expireCapsules(ctx context.Context) {
	now := time.Now().UTC()
	var total int
	err := s.store.WithTx(ctx, func(tx *store.Store) error {
		expired, err := tx.MarkExpiredCapsules(ctx, now)
		if err != nil {
			return err
		}
		for tenantID, capsuleIDs := range expired {
			for _, capsuleID := range capsuleIDs {
				if err := tx.AppendEvent(ctx, &models.Event{
					EventID:   models.NewID(models.PrefixEvent),
					TenantID:  tenantID,
					Kind:      models.EventCapsuleExpired,
					SubjectID: capsuleID,
					CreatedAt: now,
				}); err != nil {
					return err
				}
				total++
			}
		}
		return nil
	})
	if err != nil {
		slog.Error("Retention: capsule expiry failed", "error", err)
		return
	}
	if total > 0 {
		slog.Info("Retention: marked expired capsules", "count", total)
	}
}

func (s *Service) cleanupIdempotencyKeys(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.IdempotencyTTL)
	count, err := s.store.DeleteIdempotencyOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: idempotency cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted expired idempotency keys", "count", count)
	}
}

func (s *Service) cleanupOldEvents(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.config.EventRetention)
	count, err := s.store.DeleteEventsOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: event cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: deleted old events", "count", count)
	}
}
