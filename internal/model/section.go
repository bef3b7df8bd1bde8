package model

// SectionStatus tracks a section through drafted → validated → annotated →
// refined → rendered.
type SectionStatus string

const (
	SectionStatusDrafted   SectionStatus = "drafted"
	SectionStatusValidated SectionStatus = "validated"
	SectionStatusAnnotated SectionStatus = "annotated"
	SectionStatusRefined   SectionStatus = "refined"
	SectionStatusRendered  SectionStatus = "rendered"
)

// Section is one drafted report section.
type Section struct {
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	Text        string        `json:"text"`
	Items       []string      `json:"items,omitempty"`
	CitationIDs []int         `json:"citation_ids,omitempty"`
	Status      SectionStatus `json:"status"`
	Fallback    bool          `json:"fallback,omitempty"`
}

// WordCount counts whitespace-separated words across the text and items.
func (s Section) WordCount() int {
	n := countWords(s.Text)
	for _, it := range s.Items {
		n += countWords(it)
	}
	return n
}

func countWords(s string) int {
	n := 0
	inWord := false
	for _, r := range s {
		switch r {
		case ' ', '\n', '\t', '\r':
			inWord = false
		default:
			if !inWord {
				n++
				inWord = true
			}
		}
	}
	return n
}

// Pattern is one classified fragment of module text.
type Pattern struct {
	Text         string `json:"text"`
	Field        string `json:"field"`
	SourceModule string `json:"source_module"`
	Organization string `json:"organization"`
}

// PatternSet groups patterns into the five extraction buckets.
type PatternSet struct {
	Pressures                 []Pattern `json:"pressures"`
	Levers                    []Pattern `json:"levers"`
	TimingSignals             []Pattern `json:"timing_signals"`
	ExecutiveAccountabilities []Pattern `json:"executive_accountabilities"`
	NumericProofs             []Pattern `json:"numeric_proofs"`
}

// Len returns the total number of patterns across buckets.
func (ps PatternSet) Len() int {
	return len(ps.Pressures) + len(ps.Levers) + len(ps.TimingSignals) +
		len(ps.ExecutiveAccountabilities) + len(ps.NumericProofs)
}

// All returns every pattern in bucket order.
func (ps PatternSet) All() []Pattern {
	out := make([]Pattern, 0, ps.Len())
	out = append(out, ps.Pressures...)
	out = append(out, ps.Levers...)
	out = append(out, ps.TimingSignals...)
	out = append(out, ps.ExecutiveAccountabilities...)
	out = append(out, ps.NumericProofs...)
	return out
}

// Canonical section names, in report order.
const (
	SectionExecutiveSummary        = "executive_summary"
	SectionMarketPressures         = "market_pressures"
	SectionCapabilityLevers        = "capability_levers"
	SectionTimingSignals           = "timing_signals"
	SectionExecutiveAccountability = "executive_accountability"
	SectionNumericProof            = "numeric_proof"
	SectionCompetitiveBridge       = "competitive_bridge"
	SectionRiskOutlook             = "risk_outlook"
	SectionRecommendations         = "recommendations"
)

// SectionNames lists the nine canonical sections in report order.
var SectionNames = []string{
	SectionExecutiveSummary,
	SectionMarketPressures,
	SectionCapabilityLevers,
	SectionTimingSignals,
	SectionExecutiveAccountability,
	SectionNumericProof,
	SectionCompetitiveBridge,
	SectionRiskOutlook,
	SectionRecommendations,
}

var sectionPrefixes = map[string]string{
	SectionExecutiveSummary:        "EI",
	SectionMarketPressures:         "MP",
	SectionCapabilityLevers:        "CL",
	SectionTimingSignals:           "TS",
	SectionExecutiveAccountability: "EA",
	SectionNumericProof:            "NP",
	SectionCompetitiveBridge:       "CB",
	SectionRiskOutlook:             "RO",
	SectionRecommendations:         "RC",
}

// SectionPrefix returns the two-letter marker prefix for a section. Unknown
// sections get "SX".
func SectionPrefix(name string) string {
	if p, ok := sectionPrefixes[name]; ok {
		return p
	}
	return "SX"
}

// IsSectionName reports whether name is one of the canonical sections.
func IsSectionName(name string) bool {
	_, ok := sectionPrefixes[name]
	return ok
}
