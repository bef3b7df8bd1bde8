package monitoring

import (
	"fmt"
	"math"
	"time"

	"github.com/sells-group/synthesis-cli/internal/config"
	"github.com/sells-group/synthesis-cli/internal/model"
)

// Rule identifiers.
const (
	RuleNormalizationBypass = "normalization_bypass_suspected"
	RuleEmptyArtifact       = "empty_artifact_probable"
	RuleDiversityFailure    = "diversity_calculation_failure"
)

// RequiredPhases must run with a non-zero duration for a healthy run.
var RequiredPhases = []string{"normalization", "validation", "drafting", "render"}

const (
	bypassMinModules   = 10
	bypassMinCitations = 10
	bypassSevere       = 5
	emptyValidationMs  = 1000
	zeroDiversityRuns  = 3
)

// Detector evaluates a snapshot against the diagnostics rules.
type Detector struct {
	cfg config.MonitoringConfig
}

// NewDetector creates a detector. Zero thresholds fall back to 120s total
// and 60s per phase.
func NewDetector(cfg config.MonitoringConfig) *Detector {
	if cfg.MaxTotalMs <= 0 {
		cfg.MaxTotalMs = 120000
	}
	if cfg.MaxPhaseMs <= 0 {
		cfg.MaxPhaseMs = 60000
	}
	return &Detector{cfg: cfg}
}

// Evaluate applies rules A, B and C and derives the overall health.
func (d *Detector) Evaluate(snap *Snapshot) *model.DiagnosticsReport {
	rep := &model.DiagnosticsReport{
		RunID:       snap.RunID,
		Health:      model.HealthOK,
		Findings:    []model.Finding{},
		GeneratedAt: time.Now().UTC(),
	}

	if snap.ModulesCompleted >= bypassMinModules && snap.CitationCount < bypassMinCitations {
		conf := 60
		if snap.CitationCount < bypassSevere {
			conf = 90
		}
		rep.Findings = append(rep.Findings, model.Finding{
			Rule:           RuleNormalizationBypass,
			Message:        fmt.Sprintf("%d modules completed but only %d citations recorded", snap.ModulesCompleted, snap.CitationCount),
			Confidence:     conf,
			Recommendation: "Check that module citation URLs are stored and that normalization ran on this run.",
		})
	}

	if p, ok := snap.Phase("validation"); ok && p.DurationMs < emptyValidationMs {
		conf := int(math.Round(100 * (1 - float64(p.DurationMs)/emptyValidationMs)))
		if conf < 50 {
			conf = 50
		}
		rep.Findings = append(rep.Findings, model.Finding{
			Rule:           RuleEmptyArtifact,
			Message:        fmt.Sprintf("validation finished in %dms", p.DurationMs),
			Confidence:     conf,
			Recommendation: "Inspect module payloads for empty or placeholder data.",
		})
	}

	zeros := 0
	for _, s := range snap.RecentDiversity {
		if s == 0 {
			zeros++
		}
	}
	if zeros >= zeroDiversityRuns {
		rep.Findings = append(rep.Findings, model.Finding{
			Rule:           RuleDiversityFailure,
			Message:        fmt.Sprintf("%d of the last %d runs scored zero diversity", zeros, len(snap.RecentDiversity)),
			Confidence:     min(20*zeros, 100),
			Recommendation: "Verify citation URLs parse to hosts and that rebalancing metrics are persisted.",
		})
	}

	rep.Health, rep.Reasons = d.health(snap, len(rep.Findings))
	return rep
}

func (d *Detector) health(snap *Snapshot, findings int) (model.Health, []string) {
	if !snap.BundlePresent {
		return model.HealthFailed, []string{"no synthesis bundle stored for run"}
	}

	var reasons []string
	if snap.BundleEmpty {
		reasons = append(reasons, "synthesis bundle has no sections or documents")
	}
	for _, name := range RequiredPhases {
		p, ok := snap.Phase(name)
		switch {
		case !ok:
			reasons = append(reasons, fmt.Sprintf("required phase %s did not run", name))
		case p.DurationMs == 0:
			reasons = append(reasons, fmt.Sprintf("required phase %s ran with zero duration", name))
		}
	}
	if total := snap.TotalMs(); total > d.cfg.MaxTotalMs {
		reasons = append(reasons, fmt.Sprintf("total duration %dms exceeds %dms", total, d.cfg.MaxTotalMs))
	}
	for _, p := range snap.Phases {
		if p.DurationMs > d.cfg.MaxPhaseMs {
			reasons = append(reasons, fmt.Sprintf("phase %s took %dms, over %dms", p.Name, p.DurationMs, d.cfg.MaxPhaseMs))
		}
	}
	if findings > 0 {
		reasons = append(reasons, fmt.Sprintf("%d diagnostic finding(s)", findings))
	}

	if len(reasons) > 0 {
		return model.HealthDegraded, reasons
	}
	return model.HealthOK, nil
}
