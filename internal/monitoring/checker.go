package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/config"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/store"
)

// Diagnoser produces a diagnostics report for one run.
type Diagnoser interface {
	Run(ctx context.Context, runID string) (*model.DiagnosticsReport, error)
}

// Checker re-runs diagnostics for recent runs in the background.
type Checker struct {
	diag Diagnoser
	runs store.ModuleStore
	cfg  config.MonitoringConfig
}

// NewChecker creates a background diagnostics sweeper.
func NewChecker(diag Diagnoser, runs store.ModuleStore, cfg config.MonitoringConfig) *Checker {
	return &Checker{diag: diag, runs: runs, cfg: cfg}
}

// Run starts the periodic sweep. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting diagnostics checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("diagnostics checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx)
		}
	}
}

// Check runs one sweep over the most recent finished runs and returns the
// number of unhealthy runs found.
func (c *Checker) Check(ctx context.Context) int {
	limit := c.cfg.CheckBatchSize
	if limit <= 0 {
		limit = 20
	}

	unhealthy, checked := 0, 0
	for _, status := range []model.RunStatus{model.RunStatusComplete, model.RunStatusFailed} {
		runs, err := c.runs.ListRuns(ctx, store.RunFilter{Status: status, Limit: limit})
		if err != nil {
			zap.L().Error("monitoring: failed to list runs", zap.String("status", string(status)), zap.Error(err))
			continue
		}
		for _, r := range runs {
			rep, err := c.diag.Run(ctx, r.ID)
			if err != nil {
				zap.L().Warn("monitoring: diagnostics failed", zap.String("run_id", r.ID), zap.Error(err))
				continue
			}
			checked++
			if rep.Health != model.HealthOK {
				unhealthy++
			}
		}
	}

	zap.L().Info("monitoring: diagnostics sweep complete",
		zap.Int("runs_checked", checked),
		zap.Int("unhealthy", unhealthy),
	)
	return unhealthy
}
