package refine

import (
	"fmt"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// DivergenceGap is the per-bucket count difference that counts as a
// divergence between subject and comparison.
const DivergenceGap = 2

// ComparePatterns reports buckets where the subject and comparison
// organizations diverge by at least DivergenceGap patterns. Without a
// comparison name it returns nil.
func ComparePatterns(ps model.PatternSet, subject, comparison string) []string {
	if comparison == "" {
		return nil
	}
	buckets := []struct {
		name     string
		patterns []model.Pattern
	}{
		{"pressures", ps.Pressures},
		{"levers", ps.Levers},
		{"timing signals", ps.TimingSignals},
		{"executive accountabilities", ps.ExecutiveAccountabilities},
		{"numeric proofs", ps.NumericProofs},
	}

	var out []string
	for _, b := range buckets {
		subj, comp := 0, 0
		for _, p := range b.patterns {
			if p.Organization == comparison {
				comp++
			} else {
				subj++
			}
		}
		gap := subj - comp
		if gap < 0 {
			gap = -gap
		}
		if gap >= DivergenceGap {
			out = append(out, fmt.Sprintf("%s: %s %d vs %s %d", b.name, subject, subj, comparison, comp))
		}
	}
	return out
}
