package pipeline

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Kind classifies a synthesis failure.
type Kind string

const (
	KindInputMissing             Kind = "InputMissing"
	KindSectionContractViolation Kind = "SectionContractViolation"
	KindEnrichmentFailure        Kind = "EnrichmentFailure"
	KindRebalancingFailure       Kind = "RebalancingFailure"
	KindRenderFailure            Kind = "RenderFailure"
	KindDiagnosticsFailure       Kind = "DiagnosticsFailure"
	KindPatternFailure           Kind = "PatternFailure"
	KindBridgeFailure            Kind = "BridgeFailure"
	KindStoreFailure             Kind = "StoreFailure"
)

// DefaultMessageLimit caps SynthesisError.Message.
const DefaultMessageLimit = 300

// SynthesisError is the single structured error a failed run surfaces.
type SynthesisError struct {
	RunID      string   `json:"run_id"`
	Operation  string   `json:"operation"`
	Phase      string   `json:"phase"`
	ModuleKeys []string `json:"module_keys,omitempty"`
	Message    string   `json:"message"`
	Kind       Kind     `json:"kind"`

	cause error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("pipeline: run %s failed in %s (%s, %s): %s",
		e.RunID, e.Phase, e.Operation, e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *SynthesisError) Unwrap() error {
	return e.cause
}

func newSynthesisError(runID, op, phase string, kind Kind, keys []string, cause error, limit int) *SynthesisError {
	return &SynthesisError{
		RunID:      runID,
		Operation:  op,
		Phase:      phase,
		ModuleKeys: append([]string(nil), keys...),
		Message:    truncate(cause.Error(), limit),
		Kind:       kind,
		cause:      cause,
	}
}

// truncate shortens s to at most limit runes, marking the cut with "...".
func truncate(s string, limit int) string {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	if limit <= 3 {
		return string(r[:limit])
	}
	return string(r[:limit-3]) + "..."
}
