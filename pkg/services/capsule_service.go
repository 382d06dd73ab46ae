package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// DefaultCapsuleTTLDays applies when a capsule is created without a TTL.
const DefaultCapsuleTTLDays = 7

// CapsuleService owns handoff capsules: curated, TTL-bounded bundles shared
// with an audience. Capsules never change content after creation; only their
// status moves.
type CapsuleService struct {
	store *store.Store
	queue EmbeddingQueue
}

// NewCapsuleService creates a new CapsuleService. queue may be nil.
func NewCapsuleService(st *store.Store, queue EmbeddingQueue) *CapsuleService {
	if st == nil {
		panic("NewCapsuleService: store must not be nil")
	}
	return &CapsuleService{store: st, queue: queue}
}

// CreateCapsule validates and persists a capsule authored by the principal.
// Items that carry a known ID prefix must resolve within the tenant; plain
// text entries pass through as-is.
func (s *CapsuleService) CreateCapsule(ctx context.Context, tenantID, principal, opID string, req *models.CreateCapsuleRequest) (*models.Capsule, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if principal == "" {
		return nil, NewValidationError("author", "authenticated principal is required")
	}
	if !req.Scope.IsValid() {
		return nil, NewValidationError("scope", fmt.Sprintf("invalid scope %q", req.Scope))
	}
	if req.SubjectType == "" {
		return nil, NewValidationError("subject_type", "subject_type is required")
	}
	if req.SubjectID == "" {
		return nil, NewValidationError("subject_id", "subject_id is required")
	}
	if len(req.Items.Chunks)+len(req.Items.Decisions)+len(req.Items.Artifacts) == 0 {
		return nil, NewValidationError("items", "at least one item is required")
	}

	ttlDays := DefaultCapsuleTTLDays
	if req.TTLDays != nil {
		ttlDays = *req.TTLDays
	}
	if ttlDays < 0 {
		return nil, NewValidationError("ttl_days", "ttl_days must not be negative")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	c := &models.Capsule{
		CapsuleID:        models.NewID(models.PrefixCapsule),
		TenantID:         tenantID,
		Scope:            req.Scope,
		SubjectType:      req.SubjectType,
		SubjectID:        req.SubjectID,
		AuthorAgentID:    principal,
		AudienceAgentIDs: normalizeAudience(req.AudienceAgentIDs),
		TTLDays:          ttlDays,
		Status:           models.CapsuleStatusActive,
		Items:            req.Items,
		Risks:            req.Risks,
		CreatedAt:        now,
		ExpiresAt:        now.Add(time.Duration(ttlDays) * 24 * time.Hour),
	}

	replayed, err := runIdempotent(ctx, s.store, tenantID, opID, c, func(tx *store.Store) error {
		for _, id := range append(append([]string{}, req.Items.Decisions...), req.Items.Artifacts...) {
			if _, ok := models.KindOfID(id); !ok {
				continue
			}
			if _, err := tx.ResolveNode(ctx, tenantID, id); err != nil {
				return notFound(err, "capsule item "+id)
			}
		}
		if err := tx.CreateCapsule(ctx, c); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventCapsuleCreated, c.CapsuleID))
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.enqueue(models.NodeKindCapsule, tenantID, c.CapsuleID, c.EmbeddingText())
	}
	return c, nil
}

// GetCapsule returns one capsule if the principal may see it. Status reflects
// expiry as of now even before the sweep has persisted it.
func (s *CapsuleService) GetCapsule(ctx context.Context, tenantID, principal, capsuleID string) (*models.Capsule, error) {
	c, err := s.store.GetCapsule(ctx, tenantID, capsuleID)
	if err != nil {
		return nil, notFound(err, "capsule "+capsuleID)
	}
	if !c.VisibleTo(principal) {
		return nil, fmt.Errorf("capsule %s: %w", capsuleID, ErrNotFound)
	}
	return capsuleView(c, time.Now().UTC()), nil
}

// ListCapsules returns one page of capsules visible to the principal, newest
// first. Expired capsules are excluded unless the filters ask for them.
func (s *CapsuleService) ListCapsules(ctx context.Context, tenantID, principal string, filters models.CapsuleFilters, page models.Keyset) (*models.CapsuleList, error) {
	if filters.Scope != "" && !filters.Scope.IsValid() {
		return nil, NewValidationError("scope", fmt.Sprintf("invalid scope %q", filters.Scope))
	}
	page = normalizePage(page)
	capsules, err := s.store.ListCapsulesVisibleTo(ctx, tenantID, principal, filters, page)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	list := &models.CapsuleList{Capsules: make([]*models.Capsule, len(capsules))}
	for i, c := range capsules {
		list.Capsules[i] = capsuleView(c, now)
	}
	if len(capsules) == page.Limit {
		last := capsules[len(capsules)-1]
		created := last.CreatedAt
		list.Next = &models.Keyset{CreatedAt: &created, ID: last.CapsuleID, Limit: page.Limit}
	}
	return list, nil
}

// RevokeCapsule withdraws an active capsule. The author may always revoke;
// an audience member only when the capsule is global-scoped. Expired capsules
// cannot be revoked.
func (s *CapsuleService) RevokeCapsule(ctx context.Context, tenantID, principal, opID, capsuleID string) (*models.Capsule, error) {
	if principal == "" {
		return nil, NewValidationError("author", "authenticated principal is required")
	}

	var revoked models.Capsule
	_, err := runIdempotent(ctx, s.store, tenantID, opID, &revoked, func(tx *store.Store) error {
		c, err := tx.GetCapsule(ctx, tenantID, capsuleID)
		if err != nil {
			return notFound(err, "capsule "+capsuleID)
		}
		if !c.VisibleTo(principal) {
			return fmt.Errorf("capsule %s: %w", capsuleID, ErrNotFound)
		}

		now := time.Now().UTC()
		switch c.EffectiveStatus(now) {
		case models.CapsuleStatusExpired:
			return fmt.Errorf("capsule %s: %w", capsuleID, ErrExpiredCapsule)
		case models.CapsuleStatusRevoked:
			return fmt.Errorf("capsule %s is already revoked: %w", capsuleID, ErrConflict)
		}
		if principal != c.AuthorAgentID && c.Scope != models.CapsuleScopeGlobal {
			return fmt.Errorf("only the author may revoke a %s-scoped capsule: %w", c.Scope, ErrConflict)
		}

		ok, err := tx.UpdateCapsuleStatus(ctx, tenantID, capsuleID, models.CapsuleStatusActive, models.CapsuleStatusRevoked)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("capsule %s is no longer active: %w", capsuleID, ErrConflict)
		}
		revoked = *c
		revoked.Status = models.CapsuleStatusRevoked
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventCapsuleRevoked, capsuleID))
	})
	if err != nil {
		return nil, err
	}
	return &revoked, nil
}

func (s *CapsuleService) enqueue(kind models.NodeKind, tenantID, id, text string) {
	if s.queue == nil {
		return
	}
	s.queue.Enqueue(kind, tenantID, id, text)
}

// capsuleView materializes the effective status into the returned copy so
// readers see expiry without waiting for the sweep.
func capsuleView(c *models.Capsule, now time.Time) *models.Capsule {
	effective := c.EffectiveStatus(now)
	if effective == c.Status {
		return c
	}
	v := *c
	v.Status = effective
	return &v
}

// normalizeAudience trims and deduplicates the audience, mapping the legacy
// "all" spelling onto the broadcast principal.
func normalizeAudience(audience []string) []string {
	if len(audience) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(audience))
	out := make([]string, 0, len(audience))
	for _, a := range audience {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if strings.EqualFold(a, "all") {
			a = models.AudienceAny
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
