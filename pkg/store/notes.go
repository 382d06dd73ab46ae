package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/models"
)

const noteColumns = `note_id, tenant_id, text, tags, project_path, confidence,
	source_handoffs, embedding, created_at`

func scanNote(row rowScanner) (*models.KnowledgeNote, error) {
	var (
		n         models.KnowledgeNote
		tags      []byte
		sources   []byte
		embedding sql.NullString
	)
	err := row.Scan(&n.NoteID, &n.TenantID, &n.Text, &tags, &n.ProjectPath,
		&n.Confidence, &sources, &embedding, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(tags, &n.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note tags: %w", err)
	}
	if err := json.Unmarshal(sources, &n.SourceHandoffs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal note sources: %w", err)
	}
	n.CreatedAt = n.CreatedAt.UTC()
	if n.Embedding, err = scanVector(embedding); err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNote inserts a knowledge note row.
func (s *Store) CreateNote(ctx context.Context, n *models.KnowledgeNote) error {
	tags, err := jsonArray(n.Tags)
	if err != nil {
		return err
	}
	sources, err := jsonArray(n.SourceHandoffs)
	if err != nil {
		return err
	}

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO knowledge_notes
		 (note_id, tenant_id, text, tags, project_path, confidence,
		  source_handoffs, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		n.NoteID, n.TenantID, n.Text, tags, n.ProjectPath, n.Confidence,
		sources, vectorValue(n.Embedding), n.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("note %s: %w", n.NoteID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert note: %w", err)
	}
	return nil
}

// GetNote fetches one knowledge note by id within the tenant.
func (s *Store) GetNote(ctx context.Context, tenantID, noteID string) (*models.KnowledgeNote, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+noteColumns+` FROM knowledge_notes
		 WHERE tenant_id = $1 AND note_id = $2`,
		tenantID, noteID,
	)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("note %s: %w", noteID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// ListNotes returns one keyset page ordered by created_at desc, id asc.
func (s *Store) ListNotes(ctx context.Context, tenantID string, filters models.NoteFilters, page models.Keyset) ([]*models.KnowledgeNote, error) {
	conds := []string{"tenant_id = $1"}
	args := []any{tenantID}

	if filters.Tag != "" {
		args = append(args, filters.Tag)
		conds = append(conds, fmt.Sprintf("tags ? $%d", len(args)))
	}
	if filters.ProjectPath != "" {
		args = append(args, filters.ProjectPath)
		conds = append(conds, fmt.Sprintf("project_path = $%d", len(args)))
	}
	if page.CreatedAt != nil {
		args = append(args, *page.CreatedAt, page.ID)
		conds = append(conds, fmt.Sprintf(
			"(created_at < $%d OR (created_at = $%d AND note_id > $%d))",
			len(args)-1, len(args)-1, len(args)))
	}

	args = append(args, page.Limit)
	query := fmt.Sprintf(
		`SELECT %s FROM knowledge_notes WHERE %s
		 ORDER BY created_at DESC, note_id ASC LIMIT $%d`,
		noteColumns, strings.Join(conds, " AND "), len(args))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	var notes []*models.KnowledgeNote
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read notes: %w", err)
	}
	return notes, nil
}

// SetNoteEmbedding stores the computed embedding for a note.
func (s *Store) SetNoteEmbedding(ctx context.Context, tenantID, noteID string, embedding pgvector.Vector) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE knowledge_notes SET embedding = $3
		 WHERE tenant_id = $1 AND note_id = $2`,
		tenantID, noteID, embedding,
	)
	if err != nil {
		return fmt.Errorf("failed to set note embedding: %w", err)
	}
	return requireRow(res, "note "+noteID)
}

// DeleteNote removes a knowledge note. Callers must check for referencing
// edges first; the store does not cascade.
func (s *Store) DeleteNote(ctx context.Context, tenantID, noteID string) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM knowledge_notes WHERE tenant_id = $1 AND note_id = $2`,
		tenantID, noteID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	return requireRow(res, "note "+noteID)
}
