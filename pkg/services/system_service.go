package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/engram-memory/engram/pkg/database"
	"github.com/engram-memory/engram/pkg/models"
	"github.com/engram-memory/engram/pkg/store"
)

// BacklogReporter exposes the depth of the embedding work queue.
type BacklogReporter interface {
	Backlog() int
}

// SystemHealthReport is the store health plus active runtime warnings.
type SystemHealthReport struct {
	models.SystemHealth
	Warnings []*SystemWarning `json:"warnings,omitempty"`
}

// SystemService answers the observability reads: health, outstanding work
// and consolidation statistics.
type SystemService struct {
	store    *store.Store
	db       *sql.DB
	backlog  BacklogReporter
	warnings *SystemWarningsService
}

// NewSystemService creates a new SystemService. db, backlog and warnings may
// each be nil; the corresponding report sections are then omitted.
func NewSystemService(st *store.Store, db *sql.DB, backlog BacklogReporter, warnings *SystemWarningsService) *SystemService {
	if st == nil {
		panic("NewSystemService: store must not be nil")
	}
	return &SystemService{store: st, db: db, backlog: backlog, warnings: warnings}
}

// GetSystemHealth reports database reachability, background job counts, the
// embedding backlog and any active warnings. Warnings degrade the overall
// status without failing the call.
func (s *SystemService) GetSystemHealth(ctx context.Context) (*SystemHealthReport, error) {
	health := models.SystemHealth{Status: "ok", Database: "unknown"}
	if s.db != nil {
		if st, err := database.Health(ctx, s.db); err != nil {
			health.Status = "degraded"
			health.Database = "unhealthy"
		} else {
			health.Database = st.Status
		}
	}

	counts, err := s.store.CountJobsByStatus(ctx)
	if err != nil {
		return nil, err
	}
	health.PendingJobs = counts[models.JobStatusPending]
	health.RunningJobs = counts[models.JobStatusRunning]
	if s.backlog != nil {
		health.EmbedBacklog = s.backlog.Backlog()
	}

	report := &SystemHealthReport{SystemHealth: health}
	if s.warnings != nil {
		report.Warnings = s.warnings.GetWarnings()
		if len(report.Warnings) > 0 && report.Status == "ok" {
			report.Status = "degraded"
		}
	}
	return report, nil
}

// GetNextActions surfaces outstanding work for the tenant: feedback still
// open and project tasks that have not been started.
func (s *SystemService) GetNextActions(ctx context.Context, tenantID string) (*models.NextActions, error) {
	feedback, err := s.store.ListFeedback(ctx, tenantID,
		models.FeedbackFilters{Status: models.FeedbackStatusOpen}, models.Keyset{Limit: 10})
	if err != nil {
		return nil, err
	}

	edges, err := s.store.ListPendingTaskEdges(ctx, tenantID, 20)
	if err != nil {
		return nil, err
	}

	actions := &models.NextActions{OpenFeedback: feedback, TodoTasks: []*models.TaskCard{}}
	if actions.OpenFeedback == nil {
		actions.OpenFeedback = []*models.AgentFeedback{}
	}
	for _, e := range edges {
		child, err := s.store.ResolveNode(ctx, tenantID, e.ToNodeID)
		if err != nil {
			return nil, notFound(err, "node "+e.ToNodeID)
		}
		actions.TodoTasks = append(actions.TodoTasks, &models.TaskCard{
			NodeID:     e.ToNodeID,
			Title:      nodeTitle(child),
			Properties: e.Properties,
		})
	}
	return actions, nil
}

// GetCompressionStats aggregates consolidation effectiveness for a tenant:
// handoff counts per level, total tokens saved and the last 30 days of
// per-run counters.
func (s *SystemService) GetCompressionStats(ctx context.Context, tenantID string) (*models.CompressionStatsReport, error) {
	levels, err := s.store.CountHandoffsByLevel(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	savedByType, err := s.store.SumTokensSavedByType(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.ListCompressionStats(ctx, tenantID, time.Now().UTC().AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	report := &models.CompressionStatsReport{
		TenantID: tenantID,
		ByLevel:  make(map[string]int, len(levels)),
		Recent:   recent,
	}
	for level, n := range levels {
		report.ByLevel[string(level)] = n
	}
	for _, n := range savedByType {
		report.TotalTokensSaved += n
	}
	return report, nil
}
