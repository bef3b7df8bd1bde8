// Package refine holds the post-draft passes: voice enforcement, coherence
// scoring, pattern comparison, executive refinement and the final self-check.
package refine

import (
	"regexp"
	"strings"

	"github.com/sells-group/synthesis-cli/internal/model"
)

type rewrite struct {
	re   *regexp.Regexp
	with string
}

// voiceRules rewrite hedged or padded phrasing into direct statements.
var voiceRules = []rewrite{
	{regexp.MustCompile(`(?i)\bit (?:is|was) (?:believed|thought|felt) that\s+`), ""},
	{regexp.MustCompile(`(?i)\bin order to\b`), "to"},
	{regexp.MustCompile(`(?i)\bdue to the fact that\b`), "because"},
	{regexp.MustCompile(`(?i)\bat this point in time\b`), "now"},
	{regexp.MustCompile(`(?i)\butili[sz](e|es|ed|ing)\b`), "us$1"},
	{regexp.MustCompile(`(?i)\b(?:very|really|basically|quite|somewhat)\s+`), ""},
	{regexp.MustCompile(`(?i)\b(?:may|might) potentially\b`), "may"},
}

var multiSpace = regexp.MustCompile(`[ \t]{2,}`)

// EnforceVoice rewrites hedged phrasing in every non-fallback section and
// returns the sections with the number of rewrites applied. Citation tokens
// are never touched.
func EnforceVoice(sections []model.Section) ([]model.Section, int) {
	out := make([]model.Section, len(sections))
	total := 0
	for i, s := range sections {
		out[i] = s
		if s.Fallback {
			continue
		}
		var n int
		out[i].Text, n = applyVoice(s.Text)
		total += n
		if len(s.Items) > 0 {
			out[i].Items = make([]string, len(s.Items))
			for j, it := range s.Items {
				out[i].Items[j], n = applyVoice(it)
				total += n
			}
		}
	}
	return out, total
}

func applyVoice(s string) (string, int) {
	n := 0
	for _, r := range voiceRules {
		matches := r.re.FindAllStringIndex(s, -1)
		if len(matches) == 0 {
			continue
		}
		n += len(matches)
		s = r.re.ReplaceAllString(s, r.with)
	}
	if n == 0 {
		return s, 0
	}
	s = multiSpace.ReplaceAllString(s, " ")
	return capitalizeFirst(strings.TrimSpace(s)), n
}

func capitalizeFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	if r[0] >= 'a' && r[0] <= 'z' {
		r[0] -= 'a' - 'A'
	}
	return string(r)
}
