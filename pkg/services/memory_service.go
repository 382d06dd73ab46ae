package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// List page bounds shared by every listing operation.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// EmbeddingQueue accepts asynchronous embedding work for stored rows. Enqueue
// must never block the write path; rows that miss their turn are repaired by
// the embedding backfill sweep.
type EmbeddingQueue interface {
	Enqueue(kind models.NodeKind, tenantID, id, text string)
}

// MemoryService owns handoffs and knowledge notes: the write path, read views
// at the current compression level and the identity thread.
type MemoryService struct {
	store *store.Store
	queue EmbeddingQueue
}

// NewMemoryService creates a new MemoryService. queue may be nil, in which
// case rows are left for the embedding backfill sweep.
func NewMemoryService(st *store.Store, queue EmbeddingQueue) *MemoryService {
	if st == nil {
		panic("NewMemoryService: store must not be nil")
	}
	return &MemoryService{store: st, queue: queue}
}

// CreateHandoff validates and persists a session handoff at the full
// compression level, appending the creation event in the same transaction.
func (s *MemoryService) CreateHandoff(ctx context.Context, tenantID, opID string, req *models.CreateHandoffRequest) (*models.Handoff, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if req.SessionID == "" {
		return nil, NewValidationError("session_id", "session_id is required")
	}
	if req.WithWhom == "" {
		return nil, NewValidationError("with_whom", "with_whom is required")
	}
	if req.Experienced == "" {
		return nil, NewValidationError("experienced", "experienced is required")
	}
	if req.Noticed == "" {
		return nil, NewValidationError("noticed", "noticed is required")
	}
	if req.Learned == "" {
		return nil, NewValidationError("learned", "learned is required")
	}
	if req.Remember == "" {
		return nil, NewValidationError("remember", "remember is required")
	}
	if req.Significance < 0 || req.Significance > 1 {
		return nil, NewValidationError("significance", "significance must be between 0 and 1")
	}

	h := &models.Handoff{
		HandoffID:        models.NewID(models.PrefixHandoff),
		TenantID:         tenantID,
		SessionID:        req.SessionID,
		WithWhom:         req.WithWhom,
		Experienced:      req.Experienced,
		Noticed:          req.Noticed,
		Learned:          req.Learned,
		Story:            req.Story,
		Becoming:         req.Becoming,
		Remember:         req.Remember,
		Significance:     req.Significance,
		Tags:             normalizeTags(req.Tags),
		CompressionLevel: models.CompressionFull,
		ParentHandoffID:  req.ParentHandoffID,
		InfluencedBy:     req.InfluencedBy,
		CreatedAt:        time.Now().UTC().Truncate(time.Millisecond),
	}

	replayed, err := runIdempotent(ctx, s.store, tenantID, opID, h, func(tx *store.Store) error {
		if req.ParentHandoffID != "" {
			if _, err := tx.GetHandoff(ctx, tenantID, req.ParentHandoffID); err != nil {
				return notFound(err, "parent handoff "+req.ParentHandoffID)
			}
		}
		if req.InfluencedBy != "" {
			if _, err := tx.GetHandoff(ctx, tenantID, req.InfluencedBy); err != nil {
				return notFound(err, "influencing handoff "+req.InfluencedBy)
			}
		}
		if err := tx.CreateHandoff(ctx, h); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventHandoffCreated, h.HandoffID))
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.enqueue(models.NodeKindHandoff, tenantID, h.HandoffID, h.EmbeddingText())
	}
	return h, nil
}

// GetHandoff returns one handoff as read at its compression level; expand
// restores the retained lower-level narrative fields.
func (s *MemoryService) GetHandoff(ctx context.Context, tenantID, handoffID string, expand bool) (*models.Handoff, error) {
	h, err := s.store.GetHandoff(ctx, tenantID, handoffID)
	if err != nil {
		return nil, notFound(err, "handoff "+handoffID)
	}
	return handoffView(h, expand), nil
}

// GetLastHandoff returns the most recent handoff, optionally narrowed to one
// counterpart.
func (s *MemoryService) GetLastHandoff(ctx context.Context, tenantID, withWhom string, expand bool) (*models.Handoff, error) {
	h, err := s.store.GetLastHandoff(ctx, tenantID, withWhom)
	if err != nil {
		return nil, notFound(err, "handoff")
	}
	return handoffView(h, expand), nil
}

// ListHandoffs returns one filtered page, newest first, with the cursor for
// the next page when the result is full.
func (s *MemoryService) ListHandoffs(ctx context.Context, tenantID string, filters models.HandoffFilters, page models.Keyset) (*models.HandoffList, error) {
	page = normalizePage(page)
	handoffs, err := s.store.ListHandoffs(ctx, tenantID, filters, page)
	if err != nil {
		return nil, err
	}

	list := &models.HandoffList{Handoffs: make([]*models.Handoff, len(handoffs))}
	for i, h := range handoffs {
		list.Handoffs[i] = handoffView(h, filters.Expand)
	}
	if len(handoffs) == page.Limit {
		last := handoffs[len(handoffs)-1]
		created := last.CreatedAt
		list.Next = &models.Keyset{CreatedAt: &created, ID: last.HandoffID, Limit: page.Limit}
	}
	return list, nil
}

// GetIdentityThread returns the chronological becoming trajectory, optionally
// narrowed to one counterpart.
func (s *MemoryService) GetIdentityThread(ctx context.Context, tenantID, withWhom string, limit int) ([]*models.IdentityThreadEntry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.store.GetIdentityThread(ctx, tenantID, withWhom, limit)
}

// CreateNote validates and persists a knowledge note.
func (s *MemoryService) CreateNote(ctx context.Context, tenantID, opID string, req *models.CreateNoteRequest) (*models.KnowledgeNote, error) {
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, NewValidationError("text", "text is required")
	}
	confidence := noteDefaultConfidence
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, NewValidationError("confidence", "confidence must be between 0 and 1")
	}

	n := &models.KnowledgeNote{
		NoteID:         models.NewID(models.PrefixNote),
		TenantID:       tenantID,
		Text:           req.Text,
		Tags:           normalizeTags(req.Tags),
		ProjectPath:    req.ProjectPath,
		Confidence:     confidence,
		SourceHandoffs: req.SourceHandoffs,
		CreatedAt:      time.Now().UTC().Truncate(time.Millisecond),
	}

	replayed, err := runIdempotent(ctx, s.store, tenantID, opID, n, func(tx *store.Store) error {
		for _, id := range req.SourceHandoffs {
			if _, err := tx.GetHandoff(ctx, tenantID, id); err != nil {
				return notFound(err, "source handoff "+id)
			}
		}
		if err := tx.CreateNote(ctx, n); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventNoteCreated, n.NoteID))
	})
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.enqueue(models.NodeKindNote, tenantID, n.NoteID, n.Text)
	}
	return n, nil
}

// RememberNote is the low-friction note path: only text is required. A
// counterpart, when given, is folded into the tags as provenance.
func (s *MemoryService) RememberNote(ctx context.Context, tenantID, opID, text, withWhom string, tags []string) (*models.KnowledgeNote, error) {
	if withWhom != "" {
		tags = append(tags, "with:"+strings.ToLower(withWhom))
	}
	return s.CreateNote(ctx, tenantID, opID, &models.CreateNoteRequest{
		Text: text,
		Tags: tags,
	})
}

// ListNotes returns one filtered page of knowledge notes, newest first.
func (s *MemoryService) ListNotes(ctx context.Context, tenantID string, filters models.NoteFilters, page models.Keyset) (*models.NoteList, error) {
	page = normalizePage(page)
	notes, err := s.store.ListNotes(ctx, tenantID, filters, page)
	if err != nil {
		return nil, err
	}

	list := &models.NoteList{Notes: notes}
	if list.Notes == nil {
		list.Notes = []*models.KnowledgeNote{}
	}
	if len(notes) == page.Limit {
		last := notes[len(notes)-1]
		created := last.CreatedAt
		list.Next = &models.Keyset{CreatedAt: &created, ID: last.NoteID, Limit: page.Limit}
	}
	return list, nil
}

// DeleteNote removes a knowledge note unless edges still reference it.
func (s *MemoryService) DeleteNote(ctx context.Context, tenantID, opID, noteID string) error {
	ack := struct {
		NoteID string `json:"note_id"`
	}{noteID}

	_, err := runIdempotent(ctx, s.store, tenantID, opID, &ack, func(tx *store.Store) error {
		referenced, err := tx.NodeHasEdges(ctx, tenantID, noteID)
		if err != nil {
			return err
		}
		if referenced {
			return fmt.Errorf("note %s: %w", noteID, ErrReferentialIntegrity)
		}
		if err := tx.DeleteNote(ctx, tenantID, noteID); err != nil {
			return notFound(err, "note "+noteID)
		}
		return tx.AppendEvent(ctx, newEvent(tenantID, models.EventNoteDeleted, noteID))
	})
	return err
}

func (s *MemoryService) enqueue(kind models.NodeKind, tenantID, id, text string) {
	if s.queue == nil {
		return
	}
	s.queue.Enqueue(kind, tenantID, id, text)
}

// noteDefaultConfidence applies when a note is written without an explicit
// confidence, leaving headroom for facts the author vouches for outright.
const noteDefaultConfidence = 0.8

// handoffView returns the handoff as read at its compression level: narrative
// fields below the current level are withheld unless expand is set. The
// becoming field always stays visible, since the identity thread is never
// compressed away. The stored row keeps every field.
func handoffView(h *models.Handoff, expand bool) *models.Handoff {
	if expand || h.CompressionLevel == models.CompressionFull {
		return h
	}
	v := *h
	v.Experienced, v.Noticed, v.Learned, v.Story = "", "", "", ""
	if v.CompressionLevel.Rank() > models.CompressionSummary.Rank() {
		v.Summary = ""
	}
	return &v
}

// notFound converts a store miss into the public ErrNotFound, leaving other
// errors untouched.
func notFound(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// normalizePage clamps the page limit into [1, MaxPageSize], defaulting to
// DefaultPageSize when unset.
func normalizePage(page models.Keyset) models.Keyset {
	if page.Limit <= 0 {
		page.Limit = DefaultPageSize
	}
	if page.Limit > MaxPageSize {
		page.Limit = MaxPageSize
	}
	return page
}

// normalizeTags lowercases, trims and deduplicates tags, preserving order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
