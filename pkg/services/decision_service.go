package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// DecisionService owns recorded decisions and their supersession chain.
// Decisions are never hard-deleted; they age into archived or get superseded
// by newer ones.
type DecisionService struct {
	store *store.Store
}

// NewDecisionService creates a new DecisionService.
func NewDecisionService(st *store.Store) *DecisionService {
	if st == nil {
		panic("NewDecisionService: store must not be nil")
	}
	return &DecisionService{store: st}
}

// CreateDecision persists a decision and, when it supersedes an earlier one,
// flips that decision to superseded in the same transaction. The target must
// exist in the tenant and still be active.
func (s *DecisionService) CreateDecision(ctx context.Context, tenantID, opID string, req *models.CreateDecisionRequest) (*models.Decision, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if !req.Scope.IsValid() {
		return nil, NewValidationError("scope", fmt.Sprintf("invalid scope %q", req.Scope))
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, NewValidationError("text", "text is required")
	}

	d := &models.Decision{
		DecisionID: models.NewID(models.PrefixDecision),
		TenantID:   tenantID,
		Scope:      req.Scope,
		Text:       req.Text,
		Status:     models.DecisionStatusActive,
		Supersedes: req.Supersedes,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	_, err := runIdempotent(ctx, s.store, tenantID, opID, d, func(tx *store.Store) error {
		if req.Supersedes != "" {
			target, err := tx.GetDecision(ctx, tenantID, req.Supersedes)
			if err != nil {
				return notFound(err, "superseded decision "+req.Supersedes)
			}
			if target.Status != models.DecisionStatusActive {
				return fmt.Errorf("decision %s is %s, not active: %w", target.DecisionID, target.Status, ErrConflict)
			}
			ok, err := tx.SupersedeDecision(ctx, tenantID, req.Supersedes)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("decision %s is no longer active: %w", req.Supersedes, ErrConflict)
			}
			if err := tx.AppendEvent(ctx, newEvent(tenantID, models.EventDecisionSuperseded, req.Supersedes)); err != nil {
				return err
			}
		}
		if err := tx.CreateDecision(ctx, d); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventDecisionCreated, d.DecisionID))
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetDecision returns one decision by id.
func (s *DecisionService) GetDecision(ctx context.Context, tenantID, decisionID string) (*models.Decision, error) {
	d, err := s.store.GetDecision(ctx, tenantID, decisionID)
	if err != nil {
		return nil, notFound(err, "decision "+decisionID)
	}
	return d, nil
}

// ListDecisions returns one filtered page of decisions, newest first.
func (s *DecisionService) ListDecisions(ctx context.Context, tenantID string, filters models.DecisionFilters, page models.Keyset) (*models.DecisionList, error) {
	if filters.Scope != "" && !filters.Scope.IsValid() {
		return nil, NewValidationError("scope", fmt.Sprintf("invalid scope %q", filters.Scope))
	}
	if filters.Status != "" && !filters.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("invalid status %q", filters.Status))
	}

	page = normalizePage(page)
	decisions, err := s.store.ListDecisions(ctx, tenantID, filters, page)
	if err != nil {
		return nil, err
	}

	list := &models.DecisionList{Decisions: decisions}
	if list.Decisions == nil {
		list.Decisions = []*models.Decision{}
	}
	if len(decisions) == page.Limit {
		last := decisions[len(decisions)-1]
		created := last.CreatedAt
		list.Next = &models.Keyset{CreatedAt: &created, ID: last.DecisionID, Limit: page.Limit}
	}
	return list, nil
}

// ListSemanticPrinciples returns the active global-scope decisions, the form
// consolidated identity principles are stored in.
func (s *DecisionService) ListSemanticPrinciples(ctx context.Context, tenantID string, limit int) ([]*models.Decision, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.store.ListActiveDecisionsInScopes(ctx, tenantID, []models.DecisionScope{models.DecisionScopeGlobal}, limit)
}
