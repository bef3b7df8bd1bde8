package model

// ModuleStatus is the state of one analysis module slot.
type ModuleStatus string

const (
	ModuleStatusCompleted   ModuleStatus = "completed"
	ModuleStatusMissing     ModuleStatus = "missing"
	ModuleStatusPlaceholder ModuleStatus = "placeholder"
	ModuleStatusFailed      ModuleStatus = "failed"
)

// AnalysisModule is one of the 15 canonical analysis documents for a run.
// Synthesis treats it as read-only.
type AnalysisModule struct {
	RunID         string       `json:"run_id" yaml:"run_id"`
	Code          string       `json:"code" yaml:"code"`
	Status        ModuleStatus `json:"status" yaml:"status"`
	Payload       []byte       `json:"payload,omitempty" yaml:"-"`
	CitationURLs  []string     `json:"citation_urls,omitempty" yaml:"citation_urls,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	InputTokens   int          `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens  int          `json:"output_tokens" yaml:"output_tokens"`
	DurationMs    int64        `json:"duration_ms" yaml:"duration_ms"`
}

// Usable reports whether the module carries real analysis data.
func (m AnalysisModule) Usable() bool {
	return m.Status == ModuleStatusCompleted
}
