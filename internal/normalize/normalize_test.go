package normalize

import (
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/synthesis-cli/internal/model"
)

func TestCanonicalCode(t *testing.T) {
	tests := []struct {
		raw  string
		want string
		ok   bool
	}{
		{"nb-01", "NB1", true},
		{"NB1", "NB1", true},
		{"nb_1", "NB1", true},
		{"NB_01", "NB1", true},
		{"nb 1", "NB1", true},
		{"Nb1", "NB1", true},
		{" nb15 ", "NB15", true},
		{"NB-007", "NB7", true},
		{"company_overview", "NB1", true},
		{"Company Overview", "NB1", true},
		{"NB16", "", false},
		{"NB0", "", false},
		{"nb", "", false},
		{"xyz", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, ok := CanonicalCode(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func completedModule(code, payload string, urls ...string) model.AnalysisModule {
	return model.AnalysisModule{
		RunID:        "run-1",
		Code:         code,
		Status:       model.ModuleStatusCompleted,
		Payload:      []byte(payload),
		CitationURLs: urls,
	}
}

func TestNormalize_AliasesResolveToSameRecord(t *testing.T) {
	in, err := Normalize(model.Run{ID: "run-1"}, []model.AnalysisModule{
		completedModule("nb-01", `{"subject": {"overview": {"summary": "x"}}}`),
	}, nil, nil)
	require.NoError(t, err)

	byCanonical, ok := in.Lookup("NB1")
	require.True(t, ok)
	for _, key := range []string{"nb1", "nb-01", "company_overview", "NB_1"} {
		m, ok := in.Lookup(key)
		require.True(t, ok, key)
		assert.Same(t, byCanonical, m, key)
	}
}

func TestNormalize_ZeroModules(t *testing.T) {
	_, err := Normalize(model.Run{ID: "run-empty"}, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, eris.Is(err, ErrInputMissing))

	_, err = Normalize(model.Run{ID: "run-missing"}, []model.AnalysisModule{
		{Code: "NB1", Status: model.ModuleStatusMissing},
	}, nil, nil)
	assert.True(t, eris.Is(err, ErrInputMissing))
}

func TestNormalize_InvalidPayloadIsSoftFailure(t *testing.T) {
	in, err := Normalize(model.Run{ID: "run-1"}, []model.AnalysisModule{
		completedModule("NB2", `{broken`),
		completedModule("NB3", `{"a": 1}`),
	}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, in.Stats.DecodeFailures)
	m, ok := in.Lookup("NB2")
	require.True(t, ok)
	assert.True(t, m.DecodeFailed)
	assert.False(t, m.Usable())
	assert.Contains(t, in.FallbackModules(), "NB2")
}

func TestNormalize_StatsAndMissing(t *testing.T) {
	var mods []model.AnalysisModule
	for n := 1; n <= 12; n++ {
		mods = append(mods, completedModule(fmt.Sprintf("NB%d", n), `{}`, fmt.Sprintf(" https://s%d.example.com/a ", n), ""))
	}
	in, err := Normalize(model.Run{ID: "run-1"}, mods, nil, nil)
	require.NoError(t, err)

	assert.True(t, in.Sufficient())
	assert.Equal(t, 12, in.Stats.ModuleCount)
	assert.Equal(t, 12, in.Stats.CompletedCount)
	assert.Equal(t, 12, in.Stats.CitationCount)
	assert.Empty(t, in.Stats.MissingCore)
	assert.Equal(t, []string{"NB13", "NB14", "NB15"}, in.Missing())
	assert.InDelta(t, 0.8, in.Stats.CoverageRatio, 0.0001)
	assert.Equal(t, "https://s1.example.com/a", in.Citations[0].URL)
	assert.Equal(t, "NB1", in.Citations[0].Module)
	assert.Empty(t, in.Warnings)
}

func TestNormalize_BelowThresholdWarns(t *testing.T) {
	in, err := Normalize(model.Run{ID: "run-1"}, []model.AnalysisModule{
		completedModule("NB1", `{}`),
		completedModule("NB9", `{}`),
		{Code: "NB4", Status: model.ModuleStatusPlaceholder, FailureReason: "upstream timeout"},
	}, nil, nil)
	require.NoError(t, err)

	assert.False(t, in.Sufficient())
	assert.Equal(t, 3, in.Stats.ModuleCount)
	assert.Equal(t, 2, in.Stats.CompletedCount)
	assert.Equal(t, []string{"NB2", "NB3", "NB5"}, in.Stats.MissingCore)
	assert.Equal(t, []string{"NB4"}, in.FallbackModules())
	require.Len(t, in.Warnings, 1)
	assert.Contains(t, in.Warnings[0], "only 3 of 15")
}

func TestNormalize_UnknownCodeIgnored(t *testing.T) {
	in, err := Normalize(model.Run{ID: "run-1"}, []model.AnalysisModule{
		completedModule("NB1", `{}`),
		completedModule("NB99", `{}`),
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"NB1"}, in.Codes())
	assert.Contains(t, in.Warnings[0], "NB99")
}

func TestNormalize_DuplicatePrefersUsable(t *testing.T) {
	in, err := Normalize(model.Run{ID: "run-1"}, []model.AnalysisModule{
		{Code: "NB1", Status: model.ModuleStatusFailed},
		completedModule("nb-1", `{"x": "y"}`),
	}, nil, nil)
	require.NoError(t, err)

	m, ok := in.Lookup("NB1")
	require.True(t, ok)
	assert.True(t, m.Usable())
	assert.Equal(t, "nb-1", m.RawCode)
}

func TestNormalize_PayloadCitationURLs(t *testing.T) {
	in, err := Normalize(model.Run{ID: "run-1"}, []model.AnalysisModule{
		completedModule("NB2", `{"subject": {"sources": ["https://www.cms.gov/report", "not a url"], "website": "https://acme.com"}}`),
	}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://www.cms.gov/report"}, in.URLs())
}

func TestInputs_OrgLabel(t *testing.T) {
	in := &Inputs{
		Subject:    &model.Organization{ID: "org-1", Name: "Acme Health"},
		Comparison: &model.Organization{ID: "org-2", Name: "Beta Care"},
	}
	assert.Equal(t, "Acme Health", in.OrgLabel("subject"))
	assert.Equal(t, "Acme Health", in.OrgLabel("ACME HEALTH"))
	assert.Equal(t, "Beta Care", in.OrgLabel("target"))
	assert.Equal(t, "market", in.OrgLabel("market"))
}

func TestInputs_WithCitationsDoesNotMutate(t *testing.T) {
	in := &Inputs{Citations: []CitationRef{{URL: "a"}, {URL: "b"}}}
	in.Stats.CitationCount = 2

	out := in.WithCitations([]CitationRef{{URL: "a"}})
	assert.Len(t, in.Citations, 2)
	assert.Equal(t, 2, in.Stats.CitationCount)
	assert.Equal(t, 1, out.Stats.CitationCount)
}
