package services

import (
	"context"
	"fmt"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// WakeService composes the session-start context bundle and the compact
// quick-reference digest. Both are pure reads.
type WakeService struct {
	store *store.Store
}

// NewWakeService creates a new WakeService.
func NewWakeService(st *store.Store) *WakeService {
	if st == nil {
		panic("NewWakeService: store must not be nil")
	}
	return &WakeService{store: st}
}

// WakeUp assembles the bundle for one counterpart: the most recent handoffs
// at their current compression level, the identity thread across all
// counterparts, active project and global decisions, and the live capsules
// visible to the caller. Layers not requested stay nil.
func (s *WakeService) WakeUp(ctx context.Context, tenantID, principal string, req *models.WakeRequest) (*models.WakeBundle, error) {
	if req.WithWhom == "" {
		return nil, NewValidationError("with_whom", "with_whom is required")
	}
	recent := req.RecentCount
	if recent == 0 {
		recent = models.WakeDefaultRecentCount
	}
	if recent < 1 || recent > models.WakeMaxRecentCount {
		return nil, NewValidationError("recent_count", fmt.Sprintf("recent_count must be between 1 and %d", models.WakeMaxRecentCount))
	}
	layers, err := resolveWakeLayers(req.Layers)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bundle := &models.WakeBundle{WithWhom: req.WithWhom, GeneratedAt: now}

	if layers[models.WakeLayerHandoffs] {
		handoffs, err := s.store.ListHandoffs(ctx, tenantID,
			models.HandoffFilters{WithWhom: req.WithWhom}, models.Keyset{Limit: recent})
		if err != nil {
			return nil, err
		}
		bundle.Handoffs = make([]*models.Handoff, len(handoffs))
		for i, h := range handoffs {
			bundle.Handoffs[i] = handoffView(h, false)
		}
	}
	if layers[models.WakeLayerIdentity] {
		thread, err := s.store.GetIdentityThread(ctx, tenantID, "", models.WakeIdentityLimit)
		if err != nil {
			return nil, err
		}
		bundle.IdentityThread = thread
		if bundle.IdentityThread == nil {
			bundle.IdentityThread = []*models.IdentityThreadEntry{}
		}
	}
	if layers[models.WakeLayerDecisions] {
		decisions, err := s.store.ListActiveDecisionsInScopes(ctx, tenantID,
			[]models.DecisionScope{models.DecisionScopeProject, models.DecisionScopeGlobal},
			models.WakeDecisionLimit)
		if err != nil {
			return nil, err
		}
		bundle.Decisions = decisions
		if bundle.Decisions == nil {
			bundle.Decisions = []*models.Decision{}
		}
	}
	if layers[models.WakeLayerCapsules] {
		capsules, err := s.store.ListLiveCapsulesFor(ctx, tenantID, principal, now, models.WakeCapsuleLimit)
		if err != nil {
			return nil, err
		}
		bundle.Capsules = capsules
		if bundle.Capsules == nil {
			bundle.Capsules = []*models.Capsule{}
		}
	}
	return bundle, nil
}

// GetQuickReference renders recent handoffs as one-line digests, optionally
// narrowed to a counterpart.
func (s *WakeService) GetQuickReference(ctx context.Context, tenantID, withWhom string, limit int) (*models.QuickReference, error) {
	if limit <= 0 {
		limit = models.WakeIdentityLimit
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	handoffs, err := s.store.ListHandoffs(ctx, tenantID,
		models.HandoffFilters{WithWhom: withWhom}, models.Keyset{Limit: limit})
	if err != nil {
		return nil, err
	}

	ref := &models.QuickReference{WithWhom: withWhom, Entries: []*models.QuickRefEntry{}}
	for _, h := range handoffs {
		ref.Entries = append(ref.Entries, &models.QuickRefEntry{
			HandoffID: h.HandoffID,
			Line:      h.QuickRefLine(),
			CreatedAt: h.CreatedAt,
		})
	}
	return ref, nil
}

func resolveWakeLayers(requested []string) (map[string]bool, error) {
	layers := make(map[string]bool, len(models.WakeLayers))
	if len(requested) == 0 {
		for _, l := range models.WakeLayers {
			layers[l] = true
		}
		return layers, nil
	}
	for _, l := range requested {
		known := false
		for _, w := range models.WakeLayers {
			if l == w {
				known = true
				break
			}
		}
		if !known {
			return nil, NewValidationError("layers", fmt.Sprintf("unknown layer %q", l))
		}
		layers[l] = true
	}
	return layers, nil
}
