package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// FeedbackService owns agent feedback and its triage lifecycle:
// open → reviewed → addressed/rejected, with addressed and rejected terminal.
type FeedbackService struct {
	store *store.Store
	queue EmbeddingQueue
}

// NewFeedbackService creates a new FeedbackService. queue may be nil.
func NewFeedbackService(st *store.Store, queue EmbeddingQueue) *FeedbackService {
	if st == nil {
		panic("NewFeedbackService: store must not be nil")
	}
	return &FeedbackService{store: st, queue: queue}
}

// SubmitFeedback records a feedback entry in the open status.
func (s *FeedbackService) SubmitFeedback(ctx context.Context, tenantID, opID string, req *models.SubmitFeedbackRequest) (*models.AgentFeedback, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if !req.Kind.IsValid() {
		return nil, NewValidationError("kind", fmt.Sprintf("invalid kind %q", req.Kind))
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, NewValidationError("text", "text is required")
	}

	f := &models.AgentFeedback{
		FeedbackID: models.NewID(models.PrefixFeedback),
		TenantID:   tenantID,
		Kind:       req.Kind,
		Text:       req.Text,
		Status:     models.FeedbackStatusOpen,
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}

	replayed, err := runIdempotent(ctx, s.store, tenantID, opID, f, func(tx *store.Store) error {
		if err := tx.CreateFeedback(ctx, f); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventFeedbackCreated, f.FeedbackID))
	})
	if err != nil {
		return nil, err
	}
	if !replayed && s.queue != nil {
		s.queue.Enqueue(models.NodeKindFeedback, tenantID, f.FeedbackID, f.Text)
	}
	return f, nil
}

// GetFeedback returns one feedback entry by id.
func (s *FeedbackService) GetFeedback(ctx context.Context, tenantID, feedbackID string) (*models.AgentFeedback, error) {
	f, err := s.store.GetFeedback(ctx, tenantID, feedbackID)
	if err != nil {
		return nil, notFound(err, "feedback "+feedbackID)
	}
	return f, nil
}

// ListFeedback returns one filtered page of feedback, newest first.
func (s *FeedbackService) ListFeedback(ctx context.Context, tenantID string, filters models.FeedbackFilters, page models.Keyset) (*models.FeedbackList, error) {
	if filters.Kind != "" && !filters.Kind.IsValid() {
		return nil, NewValidationError("kind", fmt.Sprintf("invalid kind %q", filters.Kind))
	}
	if filters.Status != "" && !filters.Status.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("invalid status %q", filters.Status))
	}

	page = normalizePage(page)
	entries, err := s.store.ListFeedback(ctx, tenantID, filters, page)
	if err != nil {
		return nil, err
	}

	list := &models.FeedbackList{Feedback: entries}
	if list.Feedback == nil {
		list.Feedback = []*models.AgentFeedback{}
	}
	if len(entries) == page.Limit {
		last := entries[len(entries)-1]
		created := last.CreatedAt
		list.Next = &models.Keyset{CreatedAt: &created, ID: last.FeedbackID, Limit: page.Limit}
	}
	return list, nil
}

// UpdateFeedbackStatus moves a feedback entry along its triage lifecycle.
// Transitions out of a terminal status fail with ErrConflict.
func (s *FeedbackService) UpdateFeedbackStatus(ctx context.Context, tenantID, opID, feedbackID string, next models.FeedbackStatus) (*models.AgentFeedback, error) {
	if !next.IsValid() {
		return nil, NewValidationError("status", fmt.Sprintf("invalid status %q", next))
	}
	if next == models.FeedbackStatusOpen {
		return nil, NewValidationError("status", "feedback cannot move back to open")
	}

	var updated models.AgentFeedback
	_, err := runIdempotent(ctx, s.store, tenantID, opID, &updated, func(tx *store.Store) error {
		f, err := tx.GetFeedback(ctx, tenantID, feedbackID)
		if err != nil {
			return notFound(err, "feedback "+feedbackID)
		}
		if !f.Status.CanTransitionTo(next) {
			return fmt.Errorf("feedback %s cannot move from %s to %s: %w", feedbackID, f.Status, next, ErrConflict)
		}

		ok, err := tx.UpdateFeedbackStatus(ctx, tenantID, feedbackID, f.Status, next)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("feedback %s changed concurrently: %w", feedbackID, ErrConflict)
		}
		updated = *f
		updated.Status = next
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventFeedbackUpdated, feedbackID))
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
