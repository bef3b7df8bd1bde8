package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/bridge"
	"github.com/sells-group/synthesis-cli/internal/citation"
	"github.com/sells-group/synthesis-cli/internal/config"
	"github.com/sells-group/synthesis-cli/internal/diversity"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/monitoring"
	"github.com/sells-group/synthesis-cli/internal/normalize"
	"github.com/sells-group/synthesis-cli/internal/patterns"
	"github.com/sells-group/synthesis-cli/internal/qa"
	"github.com/sells-group/synthesis-cli/internal/refine"
	"github.com/sells-group/synthesis-cli/internal/render"
	"github.com/sells-group/synthesis-cli/internal/section"
	"github.com/sells-group/synthesis-cli/internal/store"
	"github.com/sells-group/synthesis-cli/pkg/resolver"
)

// Phase names, in execution order.
const (
	PhaseNormalization            = "normalization"
	PhaseRebalancing              = "rebalancing"
	PhaseValidation               = "validation"
	PhasePatternDetection         = "pattern_detection"
	PhaseBridgeBuilding           = "bridge_building"
	PhaseDrafting                 = "drafting"
	PhaseVoiceEnforcement         = "voice_enforcement"
	PhaseCoherence                = "coherence"
	PhasePatternComparison        = "pattern_comparison"
	PhaseCitationEnrichment       = "citation_enrichment"
	PhaseInlineCitationAttachment = "inline_citation_attachment"
	PhaseExecutiveRefinement      = "executive_refinement"
	PhaseSelfCheck                = "self_check"
	PhaseRender                   = "render"
	PhaseBundle                   = "bundle"
)

// Anomaly codes raised by phase heuristics.
const (
	AnomalyEmptyModuleSet    = "empty_module_set"
	AnomalyRebalanceRejected = "rebalance_rejected"
	AnomalyLowModuleCoverage = "low_module_coverage"
	AnomalyNoPatterns        = "no_patterns"
	AnomalyLowSectionYield   = "low_section_yield"
	AnomalyNoCitationsUsed   = "no_citations_used"
	AnomalyEmptyRender       = "empty_render"
)

// Telemetry metric keys.
const (
	MetricRebalanceFailed   = "diversity.rebalance_failed"
	MetricRebalanceRejected = "diversity.rebalance_rejected"
	MetricDiversityBefore   = "diversity.score_before"
	MetricDiversityAfter    = "diversity.score_after"
	MetricCitationsUsed     = "citations.used"
	MetricCitationsResolved = "citations.resolved"
	MetricEnrichmentFailed  = "citations.enrichment_failed_batches"
	MetricSynthesisFailed   = "synthesis.failed"
)

// Pipeline turns the stored analysis modules of a run into a cached
// synthesis bundle.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	resolver  resolver.Resolver
	refiner   refine.Refiner
	registry  *section.Registry
	diag      *monitoring.Runner
	rebalance func(*normalize.Inputs) diversity.Result
}

// New creates a Pipeline. res and ref may be nil to skip citation metadata
// resolution and model-backed executive refinement; a nil registry uses the
// default section providers.
func New(cfg *config.Config, st store.Store, res resolver.Resolver, ref refine.Refiner, reg *section.Registry) *Pipeline {
	if reg == nil {
		reg = section.NewRegistry()
	}
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		resolver:  res,
		refiner:   ref,
		registry:  reg,
		diag:      monitoring.NewRunner(st, cfg.Monitoring),
		rebalance: diversity.Rebalance,
	}
}

// GetCachedSynthesis returns the cached bundle for runID, or nil when none
// exists.
func (p *Pipeline) GetCachedSynthesis(ctx context.Context, runID string) (*model.SynthesisBundle, error) {
	b, err := p.store.GetBundle(ctx, runID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: get cached synthesis %s", runID)
	}
	if b == nil {
		return nil, nil
	}
	b.FromCache = true
	return b, nil
}

// RunDiagnostics evaluates the stored telemetry of runID and persists the
// report.
func (p *Pipeline) RunDiagnostics(ctx context.Context, runID string) (*model.DiagnosticsReport, error) {
	return p.diag.Run(ctx, runID)
}

// BuildReport synthesizes the report for runID. A cached bundle is returned
// unless force is set. Failures before drafting and render failures return
// a *SynthesisError; later phases degrade to warnings. Diagnostics run after
// every uncached attempt and never affect the result.
func (p *Pipeline) BuildReport(ctx context.Context, runID string, force bool) (*model.SynthesisBundle, error) {
	log := zap.L().With(zap.String("run_id", runID))

	if !force {
		cached, err := p.GetCachedSynthesis(ctx, runID)
		switch {
		case err != nil:
			log.Warn("pipeline: cache lookup failed", zap.Error(err))
		case cached != nil:
			log.Info("pipeline: serving cached synthesis")
			return cached, nil
		}
	}

	// Once started, a run reaches a terminal state even if the caller goes
	// away.
	runCtx := context.WithoutCancel(ctx)
	defer func() {
		err := safely(func() error {
			_, err := p.RunDiagnostics(runCtx, runID)
			return err
		})
		if err != nil {
			log.Warn("pipeline: diagnostics failed", zap.Error(err))
		}
	}()

	return p.build(runCtx, runID, force, log)
}

func (p *Pipeline) build(ctx context.Context, runID string, force bool, log *zap.Logger) (*model.SynthesisBundle, error) {
	log.Info("pipeline: starting synthesis", zap.Bool("force", force))

	syn := p.cfg.Synthesis
	limit := syn.ErrorMessageLimit

	diag := model.DiagnosticsContext{RunID: runID, Forced: force, StartedAt: time.Now().UTC()}
	var warnings []string

	setStatus := func(status model.RunStatus) {
		if err := p.store.UpdateRunStatus(ctx, runID, status); err != nil {
			log.Warn("pipeline: failed to update status", zap.String("status", string(status)), zap.Error(err))
		}
	}
	metric := func(key string, v float64) {
		if err := p.store.LogMetric(ctx, runID, key, v); err != nil {
			log.Warn("pipeline: failed to log metric", zap.String("key", key), zap.Error(err))
		}
	}
	saveArtifact := func(phase, name string, v any, persistent bool) {
		if !syn.TraceMode {
			return
		}
		raw, err := json.Marshal(v)
		if err == nil {
			err = p.store.SaveArtifact(ctx, runID, phase, name, raw, persistent)
		}
		if err != nil {
			log.Warn("pipeline: failed to save artifact", zap.String("artifact", name), zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("trace artifact %s not saved", name))
		}
	}

	// Phase tracking helper: telemetry, timing, status and anomalies.
	trackPhase := func(name string, fn func(rec *model.PhaseRecord) error) error {
		if err := p.store.LogPhaseStart(ctx, runID, name); err != nil {
			log.Warn("pipeline: failed to log phase start", zap.String("phase", name), zap.Error(err))
		}

		rec := model.PhaseRecord{Name: name, StartedAt: time.Now().UTC(), Status: model.PhaseStatusSuccess}
		fnErr := safely(func() error { return fn(&rec) })
		rec.EndedAt = time.Now().UTC()
		rec.DurationMs = durationMs(rec.EndedAt.Sub(rec.StartedAt))

		switch {
		case fnErr != nil:
			rec.Status = model.PhaseStatusError
			rec.Error = truncate(fnErr.Error(), limit)
			log.Error("pipeline: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", rec.DurationMs),
				zap.Error(fnErr),
			)
		case rec.Status == model.PhaseStatusSuccess && len(rec.Anomalies) > 0:
			rec.Status = model.PhaseStatusWarning
			fallthrough
		default:
			log.Info("pipeline: phase complete",
				zap.String("phase", name),
				zap.String("status", string(rec.Status)),
				zap.Int64("duration_ms", rec.DurationMs),
				zap.Int("anomalies", len(rec.Anomalies)),
			)
		}
		if syn.DetailedTraceLogging {
			log.Debug("pipeline: phase trace",
				zap.String("phase", name),
				zap.Any("metadata", rec.Metadata),
				zap.Any("anomalies", rec.Anomalies),
			)
		}

		if err := p.store.LogPhaseEnd(ctx, runID, rec); err != nil {
			log.Warn("pipeline: failed to log phase end", zap.String("phase", name), zap.Error(err))
		}
		diag.Phases = append(diag.Phases, rec)
		return fnErr
	}

	// softPhase runs a non-blocking phase. Failures become warnings.
	softPhase := func(name string, fn func(rec *model.PhaseRecord) error) {
		if err := trackPhase(name, fn); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s failed: %s", strings.ReplaceAll(name, "_", " "), truncate(err.Error(), limit)))
		}
	}

	skipPhase := func(name string) {
		_ = trackPhase(name, func(rec *model.PhaseRecord) error {
			rec.Status = model.PhaseStatusSkipped
			return nil
		})
	}

	fail := func(phase, op string, kind Kind, err error) (*model.SynthesisBundle, error) {
		setStatus(model.RunStatusFailed)
		metric(MetricSynthesisFailed, 1)
		serr := newSynthesisError(runID, op, phase, kind, diag.ModuleKeys, err, limit)
		log.Error("pipeline: synthesis failed",
			zap.String("phase", phase),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, serr
	}

	if err := p.store.ResetPhases(ctx, runID); err != nil {
		log.Warn("pipeline: failed to reset phase log", zap.Error(err))
	}

	// ===== Normalization =====
	setStatus(model.RunStatusNormalizing)

	var in *normalize.Inputs
	err := trackPhase(PhaseNormalization, func(rec *model.PhaseRecord) error {
		run, err := p.store.GetRun(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "pipeline: load run")
		}
		subject, comparison := p.loadOrganizations(ctx, run, log)
		modules, err := p.store.ListModules(ctx, runID)
		if err != nil {
			return eris.Wrap(err, "pipeline: list modules")
		}

		in, err = normalize.Normalize(*run, modules, subject, comparison)
		if in != nil {
			diag.ModuleKeys = in.Codes()
		}
		if err != nil {
			if errors.Is(err, normalize.ErrInputMissing) {
				rec.Anomalies = append(rec.Anomalies, model.Anomaly{
					Code:    AnomalyEmptyModuleSet,
					Message: "no analysis modules after normalization",
				})
			}
			return err
		}

		metric(monitoring.MetricCitationsTotal, float64(in.Stats.CitationCount))
		rec.Metadata = map[string]float64{
			"module_count":    float64(in.Stats.ModuleCount),
			"completed_count": float64(in.Stats.CompletedCount),
			"citation_count":  float64(in.Stats.CitationCount),
			"coverage_ratio":  in.Stats.CoverageRatio,
		}
		saveArtifact(PhaseNormalization, "normalized_inputs", in, false)
		return nil
	})
	if err != nil {
		kind := KindStoreFailure
		if errors.Is(err, normalize.ErrInputMissing) || errors.Is(err, store.ErrNotFound) {
			kind = KindInputMissing
		}
		return fail(PhaseNormalization, "normalize", kind, err)
	}
	warnings = append(warnings, in.Warnings...)

	// ===== Rebalancing =====
	div := diversity.Result{Inputs: in}
	err = trackPhase(PhaseRebalancing, func(rec *model.PhaseRecord) error {
		div = p.rebalance(in)
		if div.Rejected {
			rec.Anomalies = append(rec.Anomalies, model.Anomaly{
				Code:    AnomalyRebalanceRejected,
				Message: "rebalancing would have reduced diversity; citations left unmodified",
			})
			metric(MetricRebalanceRejected, 1)
		}
		metric(MetricDiversityBefore, div.Before.DiversityScore)
		metric(MetricDiversityAfter, div.After.DiversityScore)

		dr := div.Record(runID)
		dr.CreatedAt = time.Now().UTC()
		if err := p.store.SaveDiversityRecord(ctx, dr); err != nil {
			log.Warn("pipeline: failed to save diversity record", zap.Error(err))
		}
		rec.Metadata = map[string]float64{
			"triggered":      flag(div.Triggered),
			"dropped":        float64(div.Dropped),
			"score_before":   div.Before.DiversityScore,
			"score_after":    div.After.DiversityScore,
			"domains_before": float64(div.Before.UniqueDomains),
			"domains_after":  float64(div.After.UniqueDomains),
		}
		return nil
	})
	if err != nil {
		m := diversity.Compute(in.URLs())
		div = diversity.Result{Inputs: in, Before: m, After: m}
		metric(MetricRebalanceFailed, 1)
		warnings = append(warnings, "diversity rebalancing failed; citations left unmodified: "+truncate(err.Error(), limit))
	}
	in = div.Inputs

	// ===== Validation =====
	_ = trackPhase(PhaseValidation, func(rec *model.PhaseRecord) error {
		chk := qa.ValidateInputs(in)
		warnings = append(warnings, chk.Warnings...)
		if !chk.Sufficient {
			rec.Anomalies = append(rec.Anomalies, model.Anomaly{
				Code:    AnomalyLowModuleCoverage,
				Message: fmt.Sprintf("module coverage %.0f%% is below 80%%", chk.Coverage*100),
			})
		}
		rec.Metadata = map[string]float64{
			"coverage": chk.Coverage,
			"warnings": float64(len(chk.Warnings)),
		}
		return nil
	})

	// ===== Pattern detection =====
	var ps model.PatternSet
	err = trackPhase(PhasePatternDetection, func(rec *model.PhaseRecord) error {
		var err error
		ps, err = patterns.Extract(in)
		if err != nil {
			return err
		}
		if ps.Len() == 0 {
			rec.Anomalies = append(rec.Anomalies, model.Anomaly{
				Code:    AnomalyNoPatterns,
				Message: "no patterns extracted from any module",
			})
		}
		rec.Metadata = map[string]float64{
			"pressures":        float64(len(ps.Pressures)),
			"levers":           float64(len(ps.Levers)),
			"timing_signals":   float64(len(ps.TimingSignals)),
			"accountabilities": float64(len(ps.ExecutiveAccountabilities)),
			"numeric_proofs":   float64(len(ps.NumericProofs)),
		}
		saveArtifact(PhasePatternDetection, "patterns", ps, false)
		return nil
	})
	if err != nil {
		return fail(PhasePatternDetection, "extract_patterns", KindPatternFailure, err)
	}

	// ===== Bridge building =====
	var br *bridge.Bridge
	err = trackPhase(PhaseBridgeBuilding, func(rec *model.PhaseRecord) error {
		var err error
		br, err = bridge.Build(in, ps)
		if err != nil {
			return err
		}
		rec.Metadata = map[string]float64{"links": float64(len(br.Links))}
		return nil
	})
	if err != nil {
		return fail(PhaseBridgeBuilding, "build_bridge", KindBridgeFailure, err)
	}

	ledger := citation.NewLedger(citation.WithMaxPerSection(syn.MaxCitationsPerSection))
	for _, ref := range in.Citations {
		ledger.Add(citation.Source{URL: ref.URL, Module: ref.Module})
	}

	// ===== Drafting =====
	setStatus(model.RunStatusDrafting)

	var sections []model.Section
	err = trackPhase(PhaseDrafting, func(rec *model.PhaseRecord) error {
		drafter := section.NewDrafter(p.registry, section.WithSafeMode(syn.SafeMode))
		res, err := drafter.Draft(ctx, section.DraftContext{
			RunID:    runID,
			Inputs:   in,
			Patterns: ps,
			Bridge:   br,
			Ledger:   ledger,
		})
		if err != nil {
			return err
		}
		sections = res.Sections
		warnings = append(warnings, res.Warnings...)

		drafted := len(res.Sections) - res.FallbackCount()
		if drafted < syn.MinSectionsBeforeAnomaly {
			rec.Anomalies = append(rec.Anomalies, model.Anomaly{
				Code:    AnomalyLowSectionYield,
				Message: fmt.Sprintf("%d of %d sections drafted without fallback", drafted, len(res.Sections)),
			})
		}
		rec.Metadata = map[string]float64{
			"sections":  float64(len(res.Sections)),
			"fallbacks": float64(res.FallbackCount()),
		}
		saveArtifact(PhaseDrafting, "drafted_sections", sections, false)
		return nil
	})
	if err != nil {
		if errors.Is(err, qa.ErrContractViolation) {
			return fail(PhaseDrafting, "draft_sections", KindSectionContractViolation, err)
		}
		sections = sections[:0]
		for _, name := range model.SectionNames {
			sections = append(sections, section.Fallback(name, in))
		}
		warnings = append(warnings, "drafting failed; all sections use fallback content: "+truncate(err.Error(), limit))
	}

	// ===== Voice enforcement =====
	softPhase(PhaseVoiceEnforcement, func(rec *model.PhaseRecord) error {
		out, n := refine.EnforceVoice(sections)
		sections = out
		rec.Metadata = map[string]float64{"rewrites": float64(n)}
		return nil
	})

	// ===== Coherence (optional) =====
	var coherence *float64
	if syn.CoherenceEngine {
		softPhase(PhaseCoherence, func(rec *model.PhaseRecord) error {
			score := refine.Coherence(sections)
			coherence = &score
			warnings = append(warnings, refine.CoherenceWarnings(sections)...)
			rec.Metadata = map[string]float64{"score": score}
			return nil
		})
	} else {
		skipPhase(PhaseCoherence)
	}

	// ===== Pattern comparison (optional) =====
	var divergences []string
	if syn.PatternComparator {
		softPhase(PhasePatternComparison, func(rec *model.PhaseRecord) error {
			divergences = refine.ComparePatterns(ps, orgName(in.Subject), orgName(in.Comparison))
			rec.Metadata = map[string]float64{"divergences": float64(len(divergences))}
			return nil
		})
	} else {
		skipPhase(PhasePatternComparison)
	}

	// ===== Citation enrichment =====
	setStatus(model.RunStatusEnriching)

	softPhase(PhaseCitationEnrichment, func(rec *model.PhaseRecord) error {
		st := p.resolveCitations(ctx, ledger, sections, log)
		if st.Failed > 0 {
			warnings = append(warnings, fmt.Sprintf("citation enrichment: %d of %d resolver batches failed", st.Failed, st.Batches))
			metric(MetricEnrichmentFailed, float64(st.Failed))
			rec.Status = model.PhaseStatusWarning
		}
		metric(MetricCitationsResolved, float64(st.Resolved))
		if syn.EnhancedCitations {
			scoreCitations(ledger, sections, in)
		}
		rec.Metadata = map[string]float64{
			"batches":        float64(st.Batches),
			"failed_batches": float64(st.Failed),
			"resolved":       float64(st.Resolved),
			"enhanced":       flag(syn.EnhancedCitations),
		}
		return nil
	})

	// ===== Inline citation attachment =====
	softPhase(PhaseInlineCitationAttachment, func(rec *model.PhaseRecord) error {
		for i := range sections {
			attachCitations(ledger, &sections[i])
		}
		used := ledger.UsedCount()
		if used == 0 {
			rec.Anomalies = append(rec.Anomalies, model.Anomaly{
				Code:    AnomalyNoCitationsUsed,
				Message: "no section referenced a citation",
			})
		}
		metric(MetricCitationsUsed, float64(used))
		rec.Metadata = map[string]float64{"used": float64(used), "allocated": float64(ledger.Len())}
		saveArtifact(PhaseInlineCitationAttachment, "citation_ledger", ledger.All(), true)
		return nil
	})

	// ===== Executive refinement =====
	softPhase(PhaseExecutiveRefinement, func(rec *model.PhaseRecord) error {
		out, ws := refine.RefineExecutive(ctx, p.refiner, sections)
		sections = out
		warnings = append(warnings, ws...)
		if len(ws) > 0 {
			rec.Status = model.PhaseStatusWarning
		}
		rec.Metadata = map[string]float64{"model_refiner": flag(p.refiner != nil)}
		return nil
	})

	// ===== Self-check =====
	softPhase(PhaseSelfCheck, func(rec *model.PhaseRecord) error {
		ws := refine.SelfCheck(sections, ledger)
		warnings = append(warnings, ws...)
		rec.Metadata = map[string]float64{"issues": float64(len(ws))}
		return nil
	})

	// ===== Render =====
	setStatus(model.RunStatusRendering)

	fallbackModules := fallbackModules(in)
	var docs map[string]string
	err = trackPhase(PhaseRender, func(rec *model.PhaseRecord) error {
		var err error
		docs, err = render.Render(render.Document{
			RunID:           runID,
			Subject:         orgName(in.Subject),
			Comparison:      orgName(in.Comparison),
			Sections:        sections,
			Citations:       ledger.Output(),
			FallbackModules: fallbackModules,
			GeneratedAt:     time.Now().UTC(),
		})
		if err != nil {
			rec.Anomalies = append(rec.Anomalies, model.Anomaly{Code: AnomalyEmptyRender, Message: err.Error()})
			return err
		}
		for i := range sections {
			sections[i].Status = model.SectionStatusRendered
		}
		rec.Metadata = map[string]float64{
			"formats":        float64(len(docs)),
			"markdown_bytes": float64(len(docs[render.FormatMarkdown])),
		}
		return nil
	})
	if err != nil {
		return fail(PhaseRender, "render", KindRenderFailure, err)
	}

	// ===== Bundle =====
	var report model.QAReport
	_ = trackPhase(PhaseBundle, func(rec *model.PhaseRecord) error {
		report = qa.BuildReport(sections, in, warnings)
		report.FallbackModules = fallbackModules
		report.CoherenceScore = coherence
		report.Divergences = divergences
		rec.Metadata = map[string]float64{
			"overall_score": report.OverallScore,
			"warnings":      float64(len(report.Warnings)),
		}
		return nil
	})

	diag.FinishedAt = time.Now().UTC()
	bundle := &model.SynthesisBundle{
		RunID:           runID,
		Documents:       docs,
		Sections:        sections,
		Citations:       ledger.Output(),
		QA:              report,
		Diagnostics:     diag,
		DiversityBefore: div.Before,
		DiversityAfter:  div.After,
		GeneratedAt:     diag.FinishedAt,
	}
	if err := p.store.SaveBundle(ctx, bundle); err != nil {
		log.Warn("pipeline: failed to cache bundle", zap.Error(err))
	}
	setStatus(model.RunStatusComplete)

	log.Info("pipeline: synthesis complete",
		zap.Float64("qa_score", report.OverallScore),
		zap.Int("warnings", len(report.Warnings)),
		zap.Int("citations", len(bundle.Citations.Sources)),
		zap.Int64("duration_ms", diag.FinishedAt.Sub(diag.StartedAt).Milliseconds()),
	)
	return bundle, nil
}

// loadOrganizations fetches the run's organizations. A missing record falls
// back to a stub named after its id.
func (p *Pipeline) loadOrganizations(ctx context.Context, run *model.Run, log *zap.Logger) (subject, comparison *model.Organization) {
	load := func(id string) *model.Organization {
		org, err := p.store.GetOrganization(ctx, id)
		if err != nil || org == nil {
			log.Warn("pipeline: organization not found, using id", zap.String("org_id", id), zap.Error(err))
			return &model.Organization{ID: id, Name: id}
		}
		return org
	}
	if run.SubjectOrgID != "" {
		subject = load(run.SubjectOrgID)
	}
	if run.HasComparison() {
		comparison = load(run.ComparisonOrgID)
	}
	return subject, comparison
}

// fallbackModules lists missing modules and present modules without usable
// data, in slot order.
func fallbackModules(in *normalize.Inputs) []string {
	out := append(in.Missing(), in.FallbackModules()...)
	sort.SliceStable(out, func(i, j int) bool {
		return normalize.CodeNumber(out[i]) < normalize.CodeNumber(out[j])
	})
	return out
}

func orgName(o *model.Organization) string {
	if o == nil {
		return ""
	}
	return o.Name
}

// safely converts a panic in fn into an error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: panic: %v", r)
		}
	}()
	return fn()
}

// durationMs rounds up so a phase that ran never records zero.
// flag records a boolean as phase metadata.
func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func durationMs(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64((d + time.Millisecond - 1) / time.Millisecond)
}
