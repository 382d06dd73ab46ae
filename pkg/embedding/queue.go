package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// Sink writes a computed embedding back onto the row it belongs to.
type Sink interface {
	SetEmbedding(ctx context.Context, kind models.NodeKind, tenantID, id string, vec pgvector.Vector) error
}

// StoreSink dispatches embeddings to the store column for each node kind.
type StoreSink struct {
	store *store.Store
}

// NewStoreSink creates a sink over the store.
func NewStoreSink(st *store.Store) *StoreSink {
	return &StoreSink{store: st}
}

// SetEmbedding writes the vector to the row's embedding column.
func (s *StoreSink) SetEmbedding(ctx context.Context, kind models.NodeKind, tenantID, id string, vec pgvector.Vector) error {
	switch kind {
	case models.NodeKindHandoff:
		return s.store.SetHandoffEmbedding(ctx, tenantID, id, vec)
	case models.NodeKindNote:
		return s.store.SetNoteEmbedding(ctx, tenantID, id, vec)
	case models.NodeKindCapsule:
		return s.store.SetCapsuleEmbedding(ctx, tenantID, id, vec)
	case models.NodeKindFeedback:
		return s.store.SetFeedbackEmbedding(ctx, tenantID, id, vec)
	default:
		return fmt.Errorf("no embedding column for node kind %q", kind)
	}
}

type embedJob struct {
	kind     models.NodeKind
	tenantID string
	id       string
	text     string
}

// Warner records non-fatal provider problems for the health report.
type Warner interface {
	AddWarning(category, message, details, sourceID string) string
	ClearBySourceID(category, sourceID string) bool
}

// Queue is the asynchronous embedding pipeline behind every write: the write
// path enqueues and returns, workers embed and patch the row. A full queue
// drops the job with a warning; the dropped row stays embeddable through the
// consolidation backfill sweep, so losing a slot never loses the memory.
type Queue struct {
	client   Client
	sink     Sink
	warnings Warner

	jobs     chan embedJob
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	workers  int
	started  bool
}

// NewQueue creates an embedding queue. warnings may be nil.
func NewQueue(client Client, sink Sink, workers, queueSize int, warnings Warner) *Queue {
	return &Queue{
		client:   client,
		sink:     sink,
		warnings: warnings,
		jobs:     make(chan embedJob, queueSize),
		workers:  workers,
	}
}

// Start launches the worker goroutines. Safe to call once; subsequent calls
// are no-ops.
func (q *Queue) Start(ctx context.Context) {
	if q.started {
		slog.Warn("Embedding queue already started, ignoring duplicate Start call")
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	slog.Info("Embedding queue started", "workers", q.workers, "capacity", cap(q.jobs))
}

// Stop drains nothing: queued jobs not yet picked up are abandoned (the
// backfill sweep repairs them) and in-flight embeds are cancelled.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
		slog.Info("Embedding queue stopped")
	})
}

// Enqueue submits one row for embedding. Never blocks the caller.
func (q *Queue) Enqueue(kind models.NodeKind, tenantID, id, text string) {
	select {
	case q.jobs <- embedJob{kind: kind, tenantID: tenantID, id: id, text: text}:
	default:
		slog.Warn("Embedding queue full, dropping job", "kind", kind, "id", id)
	}
}

// Backlog reports the number of queued jobs.
func (q *Queue) Backlog() int {
	return len(q.jobs)
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, job embedJob) {
	vec, err := q.client.Embed(ctx, job.text)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Embedding failed", "kind", job.kind, "id", job.id, "error", err)
			if q.warnings != nil {
				q.warnings.AddWarning("embedding_provider",
					"embedding provider unreachable", err.Error(), "embed-queue")
			}
		}
		return
	}
	if q.warnings != nil {
		q.warnings.ClearBySourceID("embedding_provider", "embed-queue")
	}
	if err := q.sink.SetEmbedding(ctx, job.kind, job.tenantID, job.id, pgvector.NewVector(vec)); err != nil {
		if ctx.Err() == nil {
			slog.Error("Failed to store embedding", "kind", job.kind, "id", job.id, "error", err)
		}
	}
}
