package diversity

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/synthesis-cli/internal/normalize"
)

func pool(urls ...string) *normalize.Inputs {
	in := &normalize.Inputs{RunID: "run-1"}
	for _, u := range urls {
		in.Citations = append(in.Citations, normalize.CitationRef{URL: u, Module: "NB1"})
	}
	in.Stats.CitationCount = len(urls)
	return in
}

func repeat(domain string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://%s/p%d", domain, i)
	}
	return out
}

func TestCompute(t *testing.T) {
	m := Compute([]string{
		"https://www.a.com/1", "https://A.com/2", "https://b.com/1", "https://c.com/1",
	})
	assert.Equal(t, 4, m.TotalCitations)
	assert.Equal(t, 3, m.UniqueDomains)
	assert.Equal(t, "a.com", m.TopDomain)
	assert.InDelta(t, 50.0, m.MaxConcentration, 0.001)
	// min(50, 9) - 30
	assert.InDelta(t, 0.0, m.DiversityScore, 0.001)
}

func TestCompute_Empty(t *testing.T) {
	m := Compute(nil)
	assert.Zero(t, m.TotalCitations)
	assert.Zero(t, m.DiversityScore)
	assert.True(t, ShouldTrigger(m))
}

func TestScore(t *testing.T) {
	tests := []struct {
		name   string
		unique int
		max    float64
		want   float64
	}{
		{"many domains low concentration", 12, 10, 56},
		{"capped at 50 before bonus", 20, 14.9, 70},
		{"moderate concentration", 10, 20, 15},
		{"high concentration", 5, 75, 0},
		{"no bonus at exactly 15", 10, 15, 30},
		{"few domains", 3, 10, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Score(tt.unique, tt.max), 0.001)
		})
	}
}

func TestRebalance_NotTriggered(t *testing.T) {
	var urls []string
	for i := 0; i < 12; i++ {
		urls = append(urls, fmt.Sprintf("https://d%d.org/x", i))
	}
	in := pool(urls...)

	res := Rebalance(in)
	assert.False(t, res.Triggered)
	assert.Same(t, in, res.Inputs)
	assert.Equal(t, res.Before, res.After)
}

func TestRebalance_FortyURLScenario(t *testing.T) {
	var urls []string
	urls = append(urls, repeat("dominant.com", 30)...)
	urls = append(urls, repeat("b.org", 3)...)
	urls = append(urls, repeat("c.org", 3)...)
	urls = append(urls, repeat("d.org", 2)...)
	urls = append(urls, repeat("e.org", 2)...)
	require.Len(t, urls, 40)

	res := Rebalance(pool(urls...))

	assert.True(t, res.Triggered)
	assert.False(t, res.Rejected)
	assert.InDelta(t, 75.0, res.Before.MaxConcentration, 0.001)
	assert.Equal(t, 5, res.Before.UniqueDomains)

	assert.LessOrEqual(t, res.After.DomainCounts["dominant.com"], 6)
	assert.Equal(t, 6, res.After.DomainCounts["dominant.com"])
	assert.Equal(t, 24, res.Dropped)
	assert.GreaterOrEqual(t, res.After.UniqueDomains, res.Before.UniqueDomains)
	assert.LessOrEqual(t, res.After.MaxConcentration, res.Before.MaxConcentration)

	// The first entries in input order are the ones re-admitted.
	kept := res.Inputs.URLs()
	assert.Equal(t, "https://dominant.com/p0", kept[0])
	assert.Equal(t, "https://dominant.com/p5", kept[5])
	assert.Equal(t, "https://b.org/p0", kept[6])
}

func TestRebalance_NeverStripsDomain(t *testing.T) {
	// Four URLs: floor(0.15*4)=0, but the limit floors at 1.
	res := Rebalance(pool("https://a.com/1", "https://a.com/2", "https://a.com/3", "https://b.com/1"))
	require.True(t, res.Triggered)
	assert.Equal(t, 1, res.After.DomainCounts["a.com"])
	assert.Equal(t, 2, res.After.UniqueDomains)
}

func TestRebalance_RejectsWhenConcentrationWouldRise(t *testing.T) {
	var urls []string
	urls = append(urls, repeat("a.com", 26)...)
	urls = append(urls, repeat("b.com", 25)...)
	for i := 0; i < 49; i++ {
		urls = append(urls, fmt.Sprintf("https://o%d.net/x", i))
	}
	in := pool(urls...)

	res := Rebalance(in)
	require.True(t, res.Triggered)
	assert.True(t, res.Rejected)
	assert.Same(t, in, res.Inputs)
	assert.Equal(t, res.Before, res.After)
	assert.Zero(t, res.Dropped)
}

func TestRebalance_TriggeredByFewDomainsOnly(t *testing.T) {
	// Five domains at 20% each: triggers on unique count but nothing offends.
	var urls []string
	for _, d := range []string{"a.com", "b.com", "c.com", "d.com", "e.com"} {
		urls = append(urls, repeat(d, 2)...)
	}
	in := pool(urls...)

	res := Rebalance(in)
	assert.True(t, res.Triggered)
	assert.False(t, res.Rejected)
	assert.Same(t, in, res.Inputs)
}

func TestResult_Record(t *testing.T) {
	res := Rebalance(pool(append(repeat("a.com", 8), "https://b.com/1", "https://c.com/1")...))
	rec := res.Record("run-9")
	assert.Equal(t, "run-9", rec.RunID)
	assert.True(t, rec.Triggered)
	assert.InDelta(t, res.After.DiversityScore-res.Before.DiversityScore, rec.ScoreDelta, 0.0001)
	assert.Equal(t, 0, rec.DomainDelta)
}
