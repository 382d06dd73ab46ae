package consolidation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/engram-memory/engram/pkg/config"
)

// Scheduler drives the engine on the configured cron ticks.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
}

// NewScheduler registers the three tick entries from the config.
func NewScheduler(engine *Engine, cfg *config.ConsolidationConfig) (*Scheduler, error) {
	c := cron.New()
	ctx := context.Background()

	entries := []struct {
		spec string
		tick Tick
	}{
		{cfg.DailySchedule, TickDaily},
		{cfg.WeeklySchedule, TickWeekly},
		{cfg.MonthlySchedule, TickMonthly},
	}
	for _, entry := range entries {
		tick := entry.tick
		if _, err := c.AddFunc(entry.spec, func() { engine.Run(ctx, tick) }); err != nil {
			return nil, fmt.Errorf("invalid %s schedule %q: %w", tick, entry.spec, err)
		}
	}

	return &Scheduler{engine: engine, cron: c}, nil
}

// Start begins delivering ticks.
func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("Consolidation scheduler started")
}

// Stop halts tick delivery and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Consolidation scheduler stopped")
}
