package model

import "time"

// RunStatus represents the current state of a synthesis run.
type RunStatus string

const (
	RunStatusQueued      RunStatus = "queued"
	RunStatusNormalizing RunStatus = "normalizing"
	RunStatusDrafting    RunStatus = "drafting"
	RunStatusEnriching   RunStatus = "enriching"
	RunStatusRendering   RunStatus = "rendering"
	RunStatusComplete    RunStatus = "complete"
	RunStatusFailed      RunStatus = "failed"
)

// Run represents one synthesis execution for a subject organization and an
// optional comparison organization. Only the cache provenance fields change
// after creation.
type Run struct {
	ID              string    `json:"id" yaml:"id"`
	SubjectOrgID    string    `json:"subject_org_id" yaml:"subject_org_id"`
	ComparisonOrgID string    `json:"comparison_org_id,omitempty" yaml:"comparison_org_id,omitempty"`
	Status          RunStatus `json:"status" yaml:"status"`
	ReusedFromRunID string    `json:"reused_from_run_id,omitempty" yaml:"reused_from_run_id,omitempty"`
	CreatedAt       time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt       time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasComparison reports whether the run compares against a second organization.
func (r Run) HasComparison() bool {
	return r.ComparisonOrgID != ""
}

// Organization is a subject or comparison organization.
type Organization struct {
	ID       string         `json:"id" yaml:"id"`
	Name     string         `json:"name" yaml:"name"`
	Sector   string         `json:"sector,omitempty" yaml:"sector,omitempty"`
	Website  string         `json:"website,omitempty" yaml:"website,omitempty"`
	Ticker   string         `json:"ticker,omitempty" yaml:"ticker,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
