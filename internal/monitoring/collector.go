package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/store"
)

// MetricCitationsTotal is the telemetry key the pipeline writes with the
// number of citation URLs seen during normalization.
const MetricCitationsTotal = "citations.total"

// Snapshot holds the stored telemetry for one run.
type Snapshot struct {
	RunID            string              `json:"run_id"`
	ModulesCompleted int                 `json:"modules_completed"`
	CitationCount    int                 `json:"citation_count"`
	Phases           []model.PhaseRecord `json:"phases"`
	RecentDiversity  []float64           `json:"recent_diversity"`
	BundlePresent    bool                `json:"bundle_present"`
	BundleEmpty      bool                `json:"bundle_empty"`
	CollectedAt      time.Time           `json:"collected_at"`
}

// Phase returns the last record for the named phase.
func (s *Snapshot) Phase(name string) (model.PhaseRecord, bool) {
	for i := len(s.Phases) - 1; i >= 0; i-- {
		if s.Phases[i].Name == name {
			return s.Phases[i], true
		}
	}
	return model.PhaseRecord{}, false
}

// TotalMs sums phase durations.
func (s *Snapshot) TotalMs() int64 {
	var total int64
	for _, p := range s.Phases {
		total += p.DurationMs
	}
	return total
}

// Source is the read side of the store the collector needs.
type Source interface {
	store.ModuleStore
	store.BundleCache
	store.TelemetrySink
	store.MetricsStore
}

// Collector gathers telemetry for a run from the store.
type Collector struct {
	store    Source
	lookback int
}

// NewCollector creates a collector reading the last lookback diversity
// records.
func NewCollector(st Source, lookback int) *Collector {
	if lookback <= 0 {
		lookback = 5
	}
	return &Collector{store: st, lookback: lookback}
}

// Collect builds a snapshot of what the store holds for runID.
func (c *Collector) Collect(ctx context.Context, runID string) (*Snapshot, error) {
	snap := &Snapshot{RunID: runID, CollectedAt: time.Now().UTC()}

	modules, err := c.store.ListModules(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list modules")
	}
	urls := 0
	for _, m := range modules {
		if m.Usable() {
			snap.ModulesCompleted++
		}
		urls += len(m.CitationURLs)
	}

	metrics, err := c.store.ListMetrics(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list metrics")
	}
	if v, ok := metrics[MetricCitationsTotal]; ok {
		snap.CitationCount = int(v)
	} else {
		snap.CitationCount = urls
	}

	snap.Phases, err = c.store.ListPhaseRecords(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list phase records")
	}

	recs, err := c.store.RecentDiversityRecords(ctx, c.lookback)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: recent diversity records")
	}
	for _, r := range recs {
		snap.RecentDiversity = append(snap.RecentDiversity, r.After.DiversityScore)
	}

	b, err := c.store.GetBundle(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: get bundle")
	}
	snap.BundlePresent = b != nil
	snap.BundleEmpty = b != nil && b.Empty()
	return snap, nil
}
