package model

import "time"

// PhaseStatus is the outcome of a single pipeline phase.
type PhaseStatus string

const (
	PhaseStatusSuccess PhaseStatus = "success"
	PhaseStatusWarning PhaseStatus = "warning"
	PhaseStatusError   PhaseStatus = "error"
	PhaseStatusSkipped PhaseStatus = "skipped"
)

// Anomaly is a heuristic observation raised by a phase.
type Anomaly struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PhaseRecord holds timing, status and anomalies for one phase.
type PhaseRecord struct {
	Name       string             `json:"name"`
	StartedAt  time.Time          `json:"started_at"`
	EndedAt    time.Time          `json:"ended_at"`
	DurationMs int64              `json:"duration_ms"`
	Status     PhaseStatus        `json:"status"`
	Error      string             `json:"error,omitempty"`
	Anomalies  []Anomaly          `json:"anomalies,omitempty"`
	Metadata   map[string]float64 `json:"metadata,omitempty"`
}

// DiversityMetrics summarises source-domain spread for a citation pool.
type DiversityMetrics struct {
	TotalCitations   int            `json:"total_citations"`
	UniqueDomains    int            `json:"unique_domains"`
	MaxConcentration float64        `json:"max_concentration"`
	DiversityScore   float64        `json:"diversity_score"`
	TopDomain        string         `json:"top_domain,omitempty"`
	DomainCounts     map[string]int `json:"domain_counts,omitempty"`
}

// DiversityRecord is the persisted before/after pair for one run.
type DiversityRecord struct {
	RunID       string           `json:"run_id"`
	Triggered   bool             `json:"triggered"`
	Before      DiversityMetrics `json:"before"`
	After       DiversityMetrics `json:"after"`
	ScoreDelta  float64          `json:"score_delta"`
	DomainDelta int              `json:"domain_delta"`
	CreatedAt   time.Time        `json:"created_at"`
}

// SectionScore is the QA assessment of one section.
type SectionScore struct {
	Name      string   `json:"name"`
	Score     float64  `json:"score"`
	Words     int      `json:"words"`
	Citations int      `json:"citations"`
	Fallback  bool     `json:"fallback,omitempty"`
	Issues    []string `json:"issues,omitempty"`
}

// QAReport collects section scores, warnings and optional scoring passes.
type QAReport struct {
	OverallScore    float64        `json:"overall_score"`
	Sections        []SectionScore `json:"sections"`
	Warnings        []string       `json:"warnings"`
	FallbackModules []string       `json:"fallback_modules,omitempty"`
	MissingModules  []string       `json:"missing_nbs,omitempty"`
	CoherenceScore  *float64       `json:"coherence_score,omitempty"`
	Divergences     []string       `json:"divergences,omitempty"`
}

// DiagnosticsContext is the per-invocation debug record returned alongside a
// synthesis result.
type DiagnosticsContext struct {
	RunID      string        `json:"run_id"`
	Phases     []PhaseRecord `json:"phases"`
	ModuleKeys []string      `json:"module_keys,omitempty"`
	Forced     bool          `json:"forced,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Phase returns the record for the named phase, if it ran.
func (d DiagnosticsContext) Phase(name string) (PhaseRecord, bool) {
	for _, p := range d.Phases {
		if p.Name == name {
			return p, true
		}
	}
	return PhaseRecord{}, false
}

// SynthesisBundle is the final output of a synthesis run, cached by run id.
type SynthesisBundle struct {
	RunID           string             `json:"run_id"`
	Documents       map[string]string  `json:"documents"`
	Sections        []Section          `json:"sections"`
	Citations       CitationOutput     `json:"citations"`
	QA              QAReport           `json:"qa"`
	Diagnostics     DiagnosticsContext `json:"diagnostics"`
	DiversityBefore DiversityMetrics   `json:"diversity_before"`
	DiversityAfter  DiversityMetrics   `json:"diversity_after"`
	GeneratedAt     time.Time          `json:"generated_at"`
	FromCache       bool               `json:"from_cache,omitempty"`
}

// Empty reports whether the bundle carries no usable output.
func (b *SynthesisBundle) Empty() bool {
	if b == nil {
		return true
	}
	if len(b.Sections) == 0 {
		return true
	}
	for _, doc := range b.Documents {
		if doc != "" {
			return false
		}
	}
	return true
}

// Health is the overall diagnostics verdict for a run.
type Health string

const (
	HealthOK       Health = "OK"
	HealthDegraded Health = "DEGRADED"
	HealthFailed   Health = "FAILED"
)

// Finding is one diagnostics rule hit.
type Finding struct {
	Rule           string `json:"rule"`
	Message        string `json:"message"`
	Confidence     int    `json:"confidence"`
	Recommendation string `json:"recommendation"`
}

// DiagnosticsReport is the persisted post-hoc analysis of a run.
type DiagnosticsReport struct {
	RunID       string    `json:"run_id"`
	Health      Health    `json:"health"`
	Findings    []Finding `json:"findings"`
	Reasons     []string  `json:"reasons,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}
