package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// ErrNotFound is returned when a required record does not exist. Optional
// lookups (cached bundles, artifacts, diagnostics) return nil, nil instead.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// ModuleStore reads and writes runs and their analysis modules.
type ModuleStore interface {
	CreateRun(ctx context.Context, run model.Run) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	SaveModule(ctx context.Context, m model.AnalysisModule) error
	ListModules(ctx context.Context, runID string) ([]model.AnalysisModule, error)
}

// OrganizationStore reads and writes organizations.
type OrganizationStore interface {
	SaveOrganization(ctx context.Context, org model.Organization) error
	GetOrganization(ctx context.Context, id string) (*model.Organization, error)
}

// BundleCache persists synthesis bundles keyed by run id.
type BundleCache interface {
	GetBundle(ctx context.Context, runID string) (*model.SynthesisBundle, error)
	SaveBundle(ctx context.Context, bundle *model.SynthesisBundle) error
}

// ArtifactStore persists intermediate pipeline artifacts in trace mode.
type ArtifactStore interface {
	SaveArtifact(ctx context.Context, runID, phase, name string, payload []byte, persistent bool) error
	LoadArtifact(ctx context.Context, runID, name string) ([]byte, error)
}

// TelemetrySink records phase timings and run metrics. Writes are
// append-only from the pipeline's point of view and treated as best-effort.
type TelemetrySink interface {
	// ResetPhases clears the run's phase log so a new attempt is not mixed
	// with records from an earlier one.
	ResetPhases(ctx context.Context, runID string) error
	LogPhaseStart(ctx context.Context, runID, phase string) error
	LogPhaseEnd(ctx context.Context, runID string, rec model.PhaseRecord) error
	LogMetric(ctx context.Context, runID, key string, value float64) error
	ListPhaseRecords(ctx context.Context, runID string) ([]model.PhaseRecord, error)
	ListMetrics(ctx context.Context, runID string) (map[string]float64, error)
}

// MetricsStore keeps per-run diversity metrics for trend analysis.
type MetricsStore interface {
	SaveDiversityRecord(ctx context.Context, rec model.DiversityRecord) error
	RecentDiversityRecords(ctx context.Context, limit int) ([]model.DiversityRecord, error)
}

// DiagnosticsStore persists diagnostics reports, one per run.
type DiagnosticsStore interface {
	SaveDiagnostics(ctx context.Context, report *model.DiagnosticsReport) error
	GetDiagnostics(ctx context.Context, runID string) (*model.DiagnosticsReport, error)
}

// Store is the full persistence surface used by the CLI.
type Store interface {
	ModuleStore
	OrganizationStore
	BundleCache
	ArtifactStore
	TelemetrySink
	MetricsStore
	DiagnosticsStore

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
