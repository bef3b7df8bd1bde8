// Package bridge links subject patterns to comparison patterns that speak to
// the same theme.
package bridge

import (
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
)

// MaxLinks caps the number of linkages kept per bridge.
const MaxLinks = 6

// sameFieldBonus is added when both patterns came from the same field name.
const sameFieldBonus = 0.2

// ErrNoSubject is returned when a comparison is requested without a subject.
var ErrNoSubject = eris.New("bridge: comparison supplied without a subject organization")

var fold = cases.Fold()

// Link relates one subject pattern to one comparison pattern.
type Link struct {
	Theme      string        `json:"theme"`
	Subject    model.Pattern `json:"subject"`
	Comparison model.Pattern `json:"comparison"`
	Relevance  float64       `json:"relevance"`
}

// Bridge is the set of linkages between the two organizations.
type Bridge struct {
	Subject    string `json:"subject"`
	Comparison string `json:"comparison,omitempty"`
	Links      []Link `json:"links,omitempty"`
}

// Empty reports whether the bridge carries no linkages.
func (b *Bridge) Empty() bool {
	return b == nil || len(b.Links) == 0
}

// Modules returns the distinct module codes behind the links, in link order.
func (b *Bridge) Modules() []string {
	if b == nil {
		return nil
	}
	var out []string
	seen := make(map[string]bool)
	for _, l := range b.Links {
		for _, code := range []string{l.Subject.SourceModule, l.Comparison.SourceModule} {
			if code != "" && !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}

// Build pairs subject and comparison patterns within each bucket and keeps
// the most relevant pairs. A run without a comparison yields an empty bridge.
func Build(in *normalize.Inputs, ps model.PatternSet) (*Bridge, error) {
	if in == nil {
		return nil, eris.New("bridge: nil inputs")
	}
	b := &Bridge{}
	if in.Subject != nil {
		b.Subject = in.Subject.Name
	}
	if in.Comparison == nil {
		return b, nil
	}
	if in.Subject == nil {
		return nil, eris.Wrapf(ErrNoSubject, "run %s", in.RunID)
	}
	b.Comparison = in.Comparison.Name

	buckets := []struct {
		theme    string
		patterns []model.Pattern
	}{
		{"market pressure", ps.Pressures},
		{"capability", ps.Levers},
		{"timing", ps.TimingSignals},
		{"leadership", ps.ExecutiveAccountabilities},
		{"performance", ps.NumericProofs},
	}

	var links []Link
	for _, bk := range buckets {
		var subj, comp []model.Pattern
		for _, p := range bk.patterns {
			switch p.Organization {
			case b.Comparison:
				comp = append(comp, p)
			default:
				subj = append(subj, p)
			}
		}
		for _, s := range subj {
			for _, c := range comp {
				r := Relevance(s, c)
				if r <= 0 {
					continue
				}
				links = append(links, Link{Theme: bk.theme, Subject: s, Comparison: c, Relevance: r})
			}
		}
	}

	sort.SliceStable(links, func(i, j int) bool { return links[i].Relevance > links[j].Relevance })
	if len(links) > MaxLinks {
		links = links[:MaxLinks]
	}
	b.Links = links
	return b, nil
}

// Relevance is the Jaccard overlap of the content words of two patterns, plus
// a bonus when they share a field name. The result is capped at 1.
func Relevance(a, b model.Pattern) float64 {
	ta, tb := tokens(a.Text), tokens(b.Text)
	score := 0.0
	if len(ta) > 0 && len(tb) > 0 {
		inter := 0
		for t := range ta {
			if tb[t] {
				inter++
			}
		}
		union := len(ta) + len(tb) - inter
		score = float64(inter) / float64(union)
	}
	if a.Field != "" && a.Field == b.Field {
		score += sameFieldBonus
	}
	if score > 1 {
		return 1
	}
	return score
}

// tokens returns the set of case-folded words of four or more letters.
func tokens(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) < 4 {
			continue
		}
		out[fold.String(w)] = true
	}
	return out
}
