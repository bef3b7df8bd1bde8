// Package monitoring runs post-hoc diagnostics over stored run telemetry.
package monitoring

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/config"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/store"
)

// Store is the persistence surface diagnostics needs.
type Store interface {
	Source
	store.DiagnosticsStore
}

// Runner collects, evaluates, persists and alerts for one run.
type Runner struct {
	collector *Collector
	detector  *Detector
	alerter   *Alerter
	store     store.DiagnosticsStore
}

// NewRunner wires a runner from the monitoring config.
func NewRunner(st Store, cfg config.MonitoringConfig) *Runner {
	return &Runner{
		collector: NewCollector(st, cfg.DiversityLookback),
		detector:  NewDetector(cfg),
		alerter:   NewAlerter(cfg.WebhookURL),
		store:     st,
	}
}

// Run produces and saves the diagnostics report for runID, overwriting any
// previous report. Alert delivery failures are logged only.
func (r *Runner) Run(ctx context.Context, runID string) (*model.DiagnosticsReport, error) {
	snap, err := r.collector.Collect(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: collect run %s", runID)
	}

	rep := r.detector.Evaluate(snap)
	if err := r.store.SaveDiagnostics(ctx, rep); err != nil {
		return rep, eris.Wrapf(err, "monitoring: save diagnostics for run %s", runID)
	}

	log := zap.L().With(zap.String("run_id", runID))
	log.Info("monitoring: diagnostics complete",
		zap.String("health", string(rep.Health)),
		zap.Int("findings", len(rep.Findings)),
	)

	if _, err := r.alerter.Send(ctx, rep); err != nil {
		log.Warn("monitoring: failed to send alert", zap.Error(err))
	}
	return rep, nil
}
