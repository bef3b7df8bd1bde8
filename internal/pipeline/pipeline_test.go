package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/synthesis-cli/internal/citation"
	"github.com/sells-group/synthesis-cli/internal/config"
	"github.com/sells-group/synthesis-cli/internal/diversity"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
	"github.com/sells-group/synthesis-cli/internal/section"
	"github.com/sells-group/synthesis-cli/internal/store"
	"github.com/sells-group/synthesis-cli/pkg/resolver"
)

const testRunID = "run-1"

func testConfig() *config.Config {
	return &config.Config{
		Synthesis: config.SynthesisConfig{
			SafeMode:                 true,
			EnhancedCitations:        true,
			MaxCitationsPerSection:   8,
			ErrorMessageLimit:        300,
			MinSectionsBeforeAnomaly: 8,
		},
		Resolver:   config.ResolverConfig{Enabled: true, BatchSize: 20, MaxBatches: 3},
		Monitoring: config.MonitoringConfig{DiversityLookback: 5},
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seedRun stores the subject and comparison organizations and a run
// comparing them.
func seedRun(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.SaveOrganization(ctx, model.Organization{ID: "acme", Name: "Acme Health", Website: "https://acme.com"}))
	require.NoError(t, st.SaveOrganization(ctx, model.Organization{ID: "beacon", Name: "Beacon Care"}))
	_, err := st.CreateRun(ctx, model.Run{ID: testRunID, SubjectOrgID: "acme", ComparisonOrgID: "beacon"})
	require.NoError(t, err)
}

func addModule(t *testing.T, st store.Store, n int, urls ...string) {
	t.Helper()
	body := fmt.Sprintf(`{"Acme Health": {"market": {"market_pressure": "Reimbursement pressure keeps rising for module %d providers"}},
		"Beacon Care": {"market": {"market_pressure": "Payers squeeze reimbursement for module %d peers"}}}`, n, n)
	require.NoError(t, st.SaveModule(context.Background(), model.AnalysisModule{
		RunID:        testRunID,
		Code:         fmt.Sprintf("nb-%02d", n),
		Status:       model.ModuleStatusCompleted,
		Payload:      []byte(body),
		CitationURLs: urls,
	}))
}

// seedModules stores NB1..NBn, each citing one URL on its own domain.
func seedModules(t *testing.T, st store.Store, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		addModule(t, st, i, fmt.Sprintf("https://source%d.example.org/report", i))
	}
}

// stubRegistry drafts every section with distinct text citing id i+1.
func stubRegistry(calls *atomic.Int32) *section.Registry {
	reg := section.NewRegistry()
	for i, name := range model.SectionNames {
		reg.Register(name, section.ProviderFunc(func(section.DraftContext) (*section.Content, error) {
			if calls != nil && name == model.SectionExecutiveSummary {
				calls.Add(1)
			}
			c := &section.Content{Text: fmt.Sprintf(
				"Acme Health shows measurable movement in %s across the reviewed modules [%d].",
				strings.ReplaceAll(name, "_", " "), i+1)}
			if name == model.SectionRecommendations {
				c.Items = []string{"Invest behind the telehealth platform [1]", "Plan around payer mix changes [2]"}
			}
			return c, nil
		}))
	}
	return reg
}

type stubResolver struct {
	mu      sync.Mutex
	batches [][]string
	failOn  int
}

func (s *stubResolver) Resolve(_ context.Context, urls []string) ([]resolver.Metadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, urls)
	if len(s.batches) == s.failOn {
		return nil, errors.New("upstream 503")
	}
	out := make([]resolver.Metadata, len(urls))
	for i, u := range urls {
		out[i] = resolver.Metadata{URL: u, Title: "Report " + u, Publisher: "Example Press", Year: 2025}
	}
	return out, nil
}

func newLedger(urls ...string) *citation.Ledger {
	l := citation.NewLedger()
	for _, u := range urls {
		l.Add(citation.Source{URL: u})
	}
	return l
}

func TestBuildReport_TwelveOfFifteenModules(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 12)

	p := New(testConfig(), st, &stubResolver{}, nil, stubRegistry(nil))
	b, err := p.BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)

	require.Len(t, b.Sections, 9)
	for i, s := range b.Sections {
		assert.Equal(t, model.SectionNames[i], s.Name)
		assert.NotEmpty(t, s.Text)
		assert.False(t, s.Fallback, s.Name)
		assert.Equal(t, model.SectionStatusRendered, s.Status)
	}
	assert.Equal(t, []string{"NB13", "NB14", "NB15"}, b.QA.MissingModules)
	assert.Equal(t, []string{"NB13", "NB14", "NB15"}, b.QA.FallbackModules)
	assert.False(t, b.FromCache)
	assert.NotEmpty(t, b.Documents["markdown"])
	assert.Contains(t, b.Documents["html"], "<h2>Executive Summary</h2>")
	assert.Contains(t, b.Documents["markdown"], "NB13, NB14, NB15")
	assert.Equal(t, []string{"NB1", "NB2", "NB3", "NB4", "NB5", "NB6", "NB7", "NB8", "NB9", "NB10", "NB11", "NB12"}, b.Diagnostics.ModuleKeys)

	// Global markers were rewritten to section-local ones.
	assert.Contains(t, b.Sections[0].Text, "[EI1")
	assert.Equal(t, []int{1}, b.Sections[0].CitationIDs)
	assert.Len(t, b.Sections[8].Items, 2)
	assert.Contains(t, b.Sections[8].Items[0], "[RC")

	rep, err := st.GetDiagnostics(context.Background(), testRunID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.NotEqual(t, model.HealthFailed, rep.Health)

	run, err := st.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Empty(t, run.ReusedFromRunID)
}

func TestBuildReport_PhaseSequence(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	b, err := New(testConfig(), st, nil, nil, stubRegistry(nil)).BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)

	var names []string
	for _, ph := range b.Diagnostics.Phases {
		names = append(names, ph.Name)
	}
	assert.Equal(t, []string{
		PhaseNormalization, PhaseRebalancing, PhaseValidation, PhasePatternDetection,
		PhaseBridgeBuilding, PhaseDrafting, PhaseVoiceEnforcement, PhaseCoherence,
		PhasePatternComparison, PhaseCitationEnrichment, PhaseInlineCitationAttachment,
		PhaseExecutiveRefinement, PhaseSelfCheck, PhaseRender, PhaseBundle,
	}, names)

	coh, ok := b.Diagnostics.Phase(PhaseCoherence)
	require.True(t, ok)
	assert.Equal(t, model.PhaseStatusSkipped, coh.Status)
	norm, _ := b.Diagnostics.Phase(PhaseNormalization)
	assert.Positive(t, norm.DurationMs)
	assert.Nil(t, b.QA.CoherenceScore)

	recs, err := st.ListPhaseRecords(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Len(t, recs, len(names))
}

func TestBuildReport_CacheIdempotent(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	var calls atomic.Int32
	p := New(testConfig(), st, nil, nil, stubRegistry(&calls))
	ctx := context.Background()

	first, err := p.BuildReport(ctx, testRunID, false)
	require.NoError(t, err)
	second, err := p.BuildReport(ctx, testRunID, false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Empty(t, cmp.Diff(first, second,
		cmpopts.EquateEmpty(),
		cmpopts.IgnoreFields(model.SynthesisBundle{}, "FromCache"),
	))

	cached, err := p.GetCachedSynthesis(ctx, testRunID)
	require.NoError(t, err)
	assert.True(t, cached.FromCache)

	_, err = p.BuildReport(ctx, testRunID, true)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetCachedSynthesis_Miss(t *testing.T) {
	st := newTestStore(t)
	b, err := New(testConfig(), st, nil, nil, nil).GetCachedSynthesis(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestBuildReport_OneFailingDrafter(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	reg := stubRegistry(nil)
	reg.Register(model.SectionTimingSignals, section.ProviderFunc(func(section.DraftContext) (*section.Content, error) {
		return nil, errors.New("generator timeout")
	}))

	b, err := New(testConfig(), st, nil, nil, reg).BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)
	require.Len(t, b.Sections, 9)

	var fallbackWarnings []string
	for _, w := range b.QA.Warnings {
		if strings.Contains(w, "used fallback content (") {
			fallbackWarnings = append(fallbackWarnings, w)
		}
	}
	require.Len(t, fallbackWarnings, 1)
	assert.Contains(t, fallbackWarnings[0], model.SectionTimingSignals)
	assert.True(t, b.Sections[3].Fallback)
	assert.NotEmpty(t, b.Sections[3].Text)
	assert.Contains(t, b.Documents["markdown"], "Sections drafted from fallback content: Timing Signals")
}

func TestBuildReport_ContractViolation(t *testing.T) {
	short := section.ProviderFunc(func(section.DraftContext) (*section.Content, error) {
		return &section.Content{Text: "Too short."}, nil
	})

	t.Run("strict", func(t *testing.T) {
		st := newTestStore(t)
		seedRun(t, st)
		seedModules(t, st, 15)
		reg := stubRegistry(nil)
		reg.Register(model.SectionTimingSignals, short)

		cfg := testConfig()
		cfg.Synthesis.SafeMode = false
		_, err := New(cfg, st, nil, nil, reg).BuildReport(context.Background(), testRunID, false)
		require.Error(t, err)

		var serr *SynthesisError
		require.True(t, errors.As(err, &serr))
		assert.Equal(t, KindSectionContractViolation, serr.Kind)
		assert.Equal(t, PhaseDrafting, serr.Phase)
		assert.Equal(t, testRunID, serr.RunID)
		assert.Len(t, serr.ModuleKeys, 15)
	})

	t.Run("safe mode", func(t *testing.T) {
		st := newTestStore(t)
		seedRun(t, st)
		seedModules(t, st, 15)
		reg := stubRegistry(nil)
		reg.Register(model.SectionTimingSignals, short)

		b, err := New(testConfig(), st, nil, nil, reg).BuildReport(context.Background(), testRunID, false)
		require.NoError(t, err)
		assert.True(t, b.Sections[3].Fallback)
		assert.Contains(t, b.QA.Warnings, "section timing_signals used fallback content (contract violation: min_words)")
	})
}

func TestBuildReport_NoModules(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	ctx := context.Background()

	_, err := New(testConfig(), st, nil, nil, nil).BuildReport(ctx, testRunID, false)
	require.Error(t, err)

	var serr *SynthesisError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, KindInputMissing, serr.Kind)
	assert.Equal(t, PhaseNormalization, serr.Phase)
	assert.True(t, errors.Is(err, normalize.ErrInputMissing))

	run, err := st.GetRun(ctx, testRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, run.Status)

	recs, err := st.ListPhaseRecords(ctx, testRunID)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Anomalies, 1)
	assert.Equal(t, AnomalyEmptyModuleSet, recs[0].Anomalies[0].Code)

	// Diagnostics still ran.
	rep, err := st.GetDiagnostics(ctx, testRunID)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, model.HealthFailed, rep.Health)

	cached, err := st.GetBundle(ctx, testRunID)
	require.NoError(t, err)
	assert.Nil(t, cached)
}

func TestBuildReport_UnknownRun(t *testing.T) {
	st := newTestStore(t)
	_, err := New(testConfig(), st, nil, nil, nil).BuildReport(context.Background(), "ghost", false)

	var serr *SynthesisError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, KindInputMissing, serr.Kind)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestBuildReport_RebalancesConcentratedCitations(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)

	var big []string
	for i := 0; i < 30; i++ {
		big = append(big, fmt.Sprintf("https://bignews.com/story/%d", i))
	}
	addModule(t, st, 1, big...)
	others := []string{"alpha.org", "beta.org", "gamma.org", "delta.org"}
	counts := []int{3, 3, 2, 2}
	for i, d := range others {
		var urls []string
		for j := 0; j < counts[i]; j++ {
			urls = append(urls, fmt.Sprintf("https://%s/p/%d", d, j))
		}
		addModule(t, st, i+2, urls...)
	}
	for n := 6; n <= 15; n++ {
		addModule(t, st, n)
	}

	b, err := New(testConfig(), st, nil, nil, stubRegistry(nil)).BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)

	assert.Equal(t, 40, b.DiversityBefore.TotalCitations)
	assert.Equal(t, 5, b.DiversityBefore.UniqueDomains)
	assert.InDelta(t, 75.0, b.DiversityBefore.MaxConcentration, 0.01)
	assert.LessOrEqual(t, b.DiversityAfter.DomainCounts["bignews.com"], 6)
	assert.GreaterOrEqual(t, b.DiversityAfter.UniqueDomains, b.DiversityBefore.UniqueDomains)
	assert.LessOrEqual(t, b.DiversityAfter.MaxConcentration, b.DiversityBefore.MaxConcentration)

	recs, err := st.RecentDiversityRecords(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Triggered)
	assert.Equal(t, testRunID, recs[0].RunID)
}

func TestBuildReport_RebalanceFailureIsNonFatal(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	p := New(testConfig(), st, nil, nil, stubRegistry(nil))
	p.rebalance = func(*normalize.Inputs) diversity.Result { panic("domain table corrupt") }

	b, err := p.BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)
	assert.Equal(t, 15, b.DiversityAfter.TotalCitations)

	found := false
	for _, w := range b.QA.Warnings {
		if strings.HasPrefix(w, "diversity rebalancing failed") {
			found = true
			assert.Contains(t, w, "domain table corrupt")
		}
	}
	assert.True(t, found)

	metrics, err := st.ListMetrics(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics[MetricRebalanceFailed])

	ph, ok := b.Diagnostics.Phase(PhaseRebalancing)
	require.True(t, ok)
	assert.Equal(t, model.PhaseStatusError, ph.Status)
}

func TestBuildReport_ResolverBatches(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	var urls []string
	for i := 0; i < 75; i++ {
		urls = append(urls, fmt.Sprintf("https://site%d.example.net/a", i))
	}
	addModule(t, st, 1, urls...)
	for n := 2; n <= 15; n++ {
		addModule(t, st, n)
	}

	res := &stubResolver{failOn: 2}
	b, err := New(testConfig(), st, res, nil, stubRegistry(nil)).BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)

	require.Len(t, res.batches, 3)
	for _, batch := range res.batches {
		assert.LessOrEqual(t, len(batch), 20)
	}
	// Cited URLs are resolved first.
	assert.Equal(t, urls[0], res.batches[0][0])
	assert.Contains(t, b.QA.Warnings, "citation enrichment: 1 of 3 resolver batches failed")

	require.NotEmpty(t, b.Citations.Sources)
	first := b.Citations.Sources[0]
	assert.Equal(t, "Report "+urls[0], first.Title)
	assert.Equal(t, 2025, first.Year)

	metrics, err := st.ListMetrics(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, metrics[MetricEnrichmentFailed])
	assert.Equal(t, 40.0, metrics[MetricCitationsResolved])
}

func TestBuildReport_TraceModeAndOptionalPasses(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	cfg := testConfig()
	cfg.Synthesis.TraceMode = true
	cfg.Synthesis.CoherenceEngine = true
	cfg.Synthesis.PatternComparator = true
	cfg.Synthesis.DetailedTraceLogging = true

	b, err := New(cfg, st, nil, nil, stubRegistry(nil)).BuildReport(context.Background(), testRunID, false)
	require.NoError(t, err)
	require.NotNil(t, b.QA.CoherenceScore)

	coh, _ := b.Diagnostics.Phase(PhaseCoherence)
	assert.NotEqual(t, model.PhaseStatusSkipped, coh.Status)

	for _, name := range []string{"normalized_inputs", "patterns", "drafted_sections", "citation_ledger"} {
		raw, err := st.LoadArtifact(context.Background(), testRunID, name)
		require.NoError(t, err)
		assert.NotEmpty(t, raw, name)
	}
}

func TestBuildReport_CallerCancellationStillCompletes(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The caller goes away while sections are being drafted.
	reg := stubRegistry(nil)
	reg.Register(model.SectionRecommendations, section.ProviderFunc(func(section.DraftContext) (*section.Content, error) {
		cancel()
		return &section.Content{
			Text:  "Acme Health should sequence the next investments around the reviewed modules [1].",
			Items: []string{"Invest behind the telehealth platform [1]", "Plan around payer mix changes [2]"},
		}, nil
	}))

	b, err := New(testConfig(), st, nil, nil, reg).BuildReport(ctx, testRunID, false)
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
	assert.Len(t, b.Diagnostics.Phases, 15)

	cached, err := st.GetBundle(context.Background(), testRunID)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, b.GeneratedAt.Unix(), cached.GeneratedAt.Unix())

	run, err := st.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
}

func TestBuildReport_AlreadyCanceledContextStillCompletes(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b, err := New(testConfig(), st, nil, nil, stubRegistry(nil)).BuildReport(ctx, testRunID, false)
	require.NoError(t, err)
	assert.Len(t, b.Sections, len(model.SectionNames))
}

func TestBuildReport_StoreOutageIsNotInputMissing(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)
	require.NoError(t, st.Close())

	_, err := New(testConfig(), st, nil, nil, stubRegistry(nil)).BuildReport(context.Background(), testRunID, false)

	var serr *SynthesisError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, KindStoreFailure, serr.Kind)
	assert.Equal(t, PhaseNormalization, serr.Phase)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestBuildReport_FailedRebuildReplacesPhaseLog(t *testing.T) {
	st := newTestStore(t)
	seedRun(t, st)
	seedModules(t, st, 15)
	ctx := context.Background()

	_, err := New(testConfig(), st, nil, nil, stubRegistry(nil)).BuildReport(ctx, testRunID, false)
	require.NoError(t, err)
	recs, err := st.ListPhaseRecords(ctx, testRunID)
	require.NoError(t, err)
	require.Len(t, recs, 15)

	reg := stubRegistry(nil)
	reg.Register(model.SectionTimingSignals, section.ProviderFunc(func(section.DraftContext) (*section.Content, error) {
		return &section.Content{Text: "Too short."}, nil
	}))
	cfg := testConfig()
	cfg.Synthesis.SafeMode = false
	_, err = New(cfg, st, nil, nil, reg).BuildReport(ctx, testRunID, true)
	require.Error(t, err)

	recs, err = st.ListPhaseRecords(ctx, testRunID)
	require.NoError(t, err)
	var names []string
	for _, r := range recs {
		names = append(names, r.Name)
	}
	assert.ElementsMatch(t, []string{
		PhaseNormalization, PhaseRebalancing, PhaseValidation,
		PhasePatternDetection, PhaseBridgeBuilding, PhaseDrafting,
	}, names)
}

func TestAttachCitations(t *testing.T) {
	s := model.Section{
		Name:  model.SectionRecommendations,
		Text:  "Act on reimbursement [2].",
		Items: []string{"Invest behind telehealth [1]", "Plan around payer mix"},
	}
	l := newLedger("https://a.example.com", "https://b.example.com")

	attachCitations(l, &s)
	assert.Equal(t, "Act on reimbursement [RC1].", s.Text)
	assert.Equal(t, []string{"Invest behind telehealth [RC2]", "Plan around payer mix"}, s.Items)
	assert.Equal(t, []int{2, 1}, s.CitationIDs)
	assert.Equal(t, model.SectionStatusAnnotated, s.Status)
}

func TestPrioritizedURLs(t *testing.T) {
	l := newLedger("https://a.example.com", "https://b.example.com", "https://c.example.com")
	got := prioritizedURLs(l, []model.Section{{Text: "x [3]"}, {Text: "y", Items: []string{"z [3] [1]"}}})
	assert.Equal(t, []string{"https://c.example.com", "https://a.example.com", "https://b.example.com"}, got)
}
