// Package warmer recomputes the analytics caches on a cron schedule so user
// requests land on fresh entries.
package warmer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"marketdash/internal/analytics"
	"marketdash/internal/logger"
	"marketdash/internal/metrics"
)

// DefaultSchedule runs every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

// Target recomputes one endpoint. *analytics.Service satisfies it.
type Target interface {
	Warm(ctx context.Context, endpoint string, q analytics.Query) error
}

// Warmer manages the warm-up cron job.
type Warmer struct {
	Cron      *cron.Cron
	Target    Target
	Endpoints []string
	Query     analytics.Query
	Ctx       context.Context
	Metrics   *metrics.Metrics

	// guards against a manual run overlapping a scheduled one
	running sync.Mutex
}

// New creates a Warmer for every analytics endpoint with the default query.
func New(ctx context.Context, target Target, m *metrics.Metrics) *Warmer {
	return &Warmer{
		Cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		Target:    target,
		Endpoints: analytics.Endpoints,
		Ctx:       ctx,
		Metrics:   m,
	}
}

// Register adds the warm-up job on spec ("" selects DefaultSchedule).
func (w *Warmer) Register(spec string) error {
	if spec == "" {
		spec = DefaultSchedule
	}
	if _, err := w.Cron.AddFunc(spec, func() { w.RunNow() }); err != nil {
		return fmt.Errorf("register warm job %q: %w", spec, err)
	}
	return nil
}

// Start starts the cron scheduler.
func (w *Warmer) Start() {
	w.Cron.Start()
	slog.Info("[warmer] scheduler started", "entries", len(w.Cron.Entries()))
}

// Stop stops the scheduler and waits for a running job to finish.
func (w *Warmer) Stop() {
	<-w.Cron.Stop().Done()
	slog.Info("[warmer] scheduler stopped")
}

// RunNow warms every endpoint in order, one at a time. Failures are logged
// and do not stop the remaining endpoints. It returns how many failed.
func (w *Warmer) RunNow() int {
	w.running.Lock()
	defer w.running.Unlock()

	ctx := logger.WithTraceID(w.Ctx, logger.GenerateTraceID())
	start := time.Now()
	failed := 0
	for _, ep := range w.Endpoints {
		if ctx.Err() != nil {
			return failed
		}
		err := w.Target.Warm(ctx, ep, w.Query)
		w.Metrics.Warm(ep, err)
		if err != nil {
			failed++
			logger.LogWithTrace(ctx, slog.LevelWarn, "[warmer] warm failed", "endpoint", ep, "error", err)
			continue
		}
		logger.LogWithTrace(ctx, slog.LevelDebug, "[warmer] warmed", "endpoint", ep)
	}
	logger.LogWithTrace(ctx, slog.LevelInfo, "[warmer] run complete",
		"endpoints", len(w.Endpoints), "failed", failed, "duration_ms", time.Since(start).Milliseconds())
	return failed
}
