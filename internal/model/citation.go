package model

// SourceType classifies a citation by the kind of publisher behind its domain.
type SourceType string

const (
	SourceTypeAcademic   SourceType = "academic"
	SourceTypeRegulatory SourceType = "regulatory"
	SourceTypeCompany    SourceType = "company"
	SourceTypeNews       SourceType = "news"
	SourceTypeHealthcare SourceType = "healthcare"
	SourceTypeIndustry   SourceType = "industry"
)

// Citation is a single deduplicated source in a run's citation ledger.
// ID is run-scoped, 1-based and never reused; URL is the unique key.
type Citation struct {
	ID            int        `json:"id"`
	URL           string     `json:"url"`
	Title         string     `json:"title,omitempty"`
	Publisher     string     `json:"publisher,omitempty"`
	Year          int        `json:"year,omitempty"`
	Domain        string     `json:"domain"`
	Confidence    float64    `json:"confidence"`
	SourceType    SourceType `json:"source_type,omitempty"`
	Marker        string     `json:"marker,omitempty"`
	LowConfidence bool       `json:"low_confidence,omitempty"`
	Suppressed    bool       `json:"suppressed,omitempty"`
	Provenance    []string   `json:"provenance,omitempty"`
	Used          bool       `json:"used"`
}

// CitationOutput is the externally visible view of a ledger: only used
// citations, in id order, without renumbering.
type CitationOutput struct {
	Sources  []Citation       `json:"sources"`
	Sections map[string][]int `json:"sections"`
}
