package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatusValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status RunStatus
		want   string
	}{
		{RunStatusQueued, "queued"},
		{RunStatusNormalizing, "normalizing"},
		{RunStatusDrafting, "drafting"},
		{RunStatusEnriching, "enriching"},
		{RunStatusRendering, "rendering"},
		{RunStatusComplete, "complete"},
		{RunStatusFailed, "failed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.status))
		})
	}
}

func TestRun_HasComparison(t *testing.T) {
	assert.False(t, Run{ID: "r1", SubjectOrgID: "acme"}.HasComparison())
	assert.True(t, Run{ID: "r1", SubjectOrgID: "acme", ComparisonOrgID: "globex"}.HasComparison())
}

func TestSection_WordCount(t *testing.T) {
	s := Section{
		Text:  "  Margins expanded\tsharply in\n2024. ",
		Items: []string{"one two", "", "three"},
	}
	assert.Equal(t, 8, s.WordCount())
}

func TestPatternSet_LenAndAll(t *testing.T) {
	ps := PatternSet{
		Pressures:     []Pattern{{Text: "a"}},
		Levers:        []Pattern{{Text: "b"}, {Text: "c"}},
		NumericProofs: []Pattern{{Text: "d"}},
	}
	assert.Equal(t, 4, ps.Len())

	all := ps.All()
	assert.Len(t, all, 4)
	assert.Equal(t, "a", all[0].Text)
	assert.Equal(t, "d", all[3].Text)
}

func TestSynthesisBundle_Empty(t *testing.T) {
	var nilBundle *SynthesisBundle
	assert.True(t, nilBundle.Empty())

	assert.True(t, (&SynthesisBundle{}).Empty())
	assert.True(t, (&SynthesisBundle{
		Sections:  []Section{{Name: "executive_summary"}},
		Documents: map[string]string{"markdown": ""},
	}).Empty())
	assert.False(t, (&SynthesisBundle{
		Sections:  []Section{{Name: "executive_summary"}},
		Documents: map[string]string{"markdown": "# Report"},
	}).Empty())
}

func TestDiagnosticsContext_Phase(t *testing.T) {
	d := DiagnosticsContext{Phases: []PhaseRecord{
		{Name: "normalization", DurationMs: 3},
		{Name: "validation", DurationMs: 1200},
	}}

	p, ok := d.Phase("validation")
	assert.True(t, ok)
	assert.Equal(t, int64(1200), p.DurationMs)

	_, ok = d.Phase("render")
	assert.False(t, ok)
}

func TestAnalysisModule_Usable(t *testing.T) {
	assert.True(t, AnalysisModule{Status: ModuleStatusCompleted}.Usable())
	assert.False(t, AnalysisModule{Status: ModuleStatusPlaceholder}.Usable())
	assert.False(t, AnalysisModule{Status: ModuleStatusMissing}.Usable())
}

func TestSectionPrefix(t *testing.T) {
	assert.Len(t, SectionNames, 9)
	seen := map[string]bool{}
	for _, name := range SectionNames {
		p := SectionPrefix(name)
		assert.Len(t, p, 2, name)
		assert.False(t, seen[p], "duplicate prefix %s", p)
		seen[p] = true
		assert.True(t, IsSectionName(name))
	}
	assert.Equal(t, "EI", SectionPrefix(SectionExecutiveSummary))
	assert.Equal(t, "SX", SectionPrefix("appendix"))
	assert.False(t, IsSectionName("appendix"))
}
