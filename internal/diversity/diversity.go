// Package diversity scores source-domain spread in a citation pool and trims
// over-concentrated domains.
package diversity

import (
	"math"
	"sort"

	"github.com/sells-group/synthesis-cli/internal/citation"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
)

// Thresholds for triggering and trimming.
const (
	ConcentrationLimit = 25.0
	MinUniqueDomains   = 10
	ReadmitFraction    = 0.15
)

// Result is the outcome of one rebalance pass.
type Result struct {
	Inputs    *normalize.Inputs
	Before    model.DiversityMetrics
	After     model.DiversityMetrics
	Triggered bool
	// Rejected is set when trimming would have worsened concentration or
	// lost a domain; Inputs is then the original pool.
	Rejected bool
	Dropped  int
}

// Record converts r into the persisted before/after form.
func (r Result) Record(runID string) model.DiversityRecord {
	return model.DiversityRecord{
		RunID:       runID,
		Triggered:   r.Triggered,
		Before:      r.Before,
		After:       r.After,
		ScoreDelta:  r.After.DiversityScore - r.Before.DiversityScore,
		DomainDelta: r.After.UniqueDomains - r.Before.UniqueDomains,
	}
}

// Compute returns the diversity metrics for a flat URL list.
func Compute(urls []string) model.DiversityMetrics {
	m := model.DiversityMetrics{
		TotalCitations: len(urls),
		DomainCounts:   make(map[string]int),
	}
	for _, u := range urls {
		m.DomainCounts[citation.Domain(u)]++
	}
	m.UniqueDomains = len(m.DomainCounts)
	if m.TotalCitations == 0 {
		return m
	}

	top, topCount := "", 0
	for _, d := range sortedDomains(m.DomainCounts) {
		if c := m.DomainCounts[d]; c > topCount {
			top, topCount = d, c
		}
	}
	m.TopDomain = top
	m.MaxConcentration = float64(topCount) / float64(m.TotalCitations) * 100
	m.DiversityScore = Score(m.UniqueDomains, m.MaxConcentration)
	return m
}

// Score is clamp(0, 100, min(50, 3*unique) - penalty + bonus). The penalty is
// 30 above 25% concentration and 15 above 15%; the bonus of 20 needs at least
// ten domains and concentration under 15%.
func Score(uniqueDomains int, maxConcentration float64) float64 {
	s := math.Min(50, float64(3*uniqueDomains))
	switch {
	case maxConcentration > 25:
		s -= 30
	case maxConcentration > 15:
		s -= 15
	}
	if uniqueDomains >= 10 && maxConcentration < 15 {
		s += 20
	}
	return math.Max(0, math.Min(100, s))
}

// ShouldTrigger reports whether a pool needs rebalancing.
func ShouldTrigger(m model.DiversityMetrics) bool {
	return m.MaxConcentration > ConcentrationLimit || m.UniqueDomains < MinUniqueDomains
}

// ReadmitLimit is how many entries an offending domain keeps.
func ReadmitLimit(total int) int {
	n := int(math.Floor(ReadmitFraction * float64(total)))
	if n < 1 {
		return 1
	}
	return n
}

// Rebalance trims domains holding more than 25% of the pool down to the
// first ReadmitLimit entries each. It never returns a pool with fewer unique
// domains or a higher maximum concentration than it was given.
func Rebalance(in *normalize.Inputs) Result {
	before := Compute(in.URLs())
	res := Result{Inputs: in, Before: before, After: before}
	if !ShouldTrigger(before) {
		return res
	}
	res.Triggered = true

	total := before.TotalCitations
	offending := make(map[string]bool)
	for d, c := range before.DomainCounts {
		if float64(c)/float64(total)*100 > ConcentrationLimit {
			offending[d] = true
		}
	}
	if len(offending) == 0 {
		return res
	}

	limit := ReadmitLimit(total)
	kept := make([]normalize.CitationRef, 0, total)
	perDomain := make(map[string]int)
	for _, ref := range in.Citations {
		d := citation.Domain(ref.URL)
		if offending[d] {
			if perDomain[d] >= limit {
				res.Dropped++
				continue
			}
			perDomain[d]++
		}
		kept = append(kept, ref)
	}

	out := in.WithCitations(kept)
	after := Compute(out.URLs())
	if after.MaxConcentration > before.MaxConcentration || after.UniqueDomains < before.UniqueDomains {
		res.Rejected = true
		res.Dropped = 0
		return res
	}
	res.Inputs = out
	res.After = after
	return res
}

func sortedDomains(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for d := range counts {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
