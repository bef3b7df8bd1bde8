package refine

import (
	"fmt"
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/cases"

	"github.com/sells-group/synthesis-cli/internal/model"
)

var fold = cases.Fold()

// stopwords are excluded from overlap scoring.
var stopwords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "have": true,
	"will": true, "their": true, "there": true, "which": true, "were": true,
	"been": true, "into": true, "more": true, "than": true, "over": true,
	"section": true, "following": true, "below": true,
}

// Coherence scores how well adjacent drafted sections connect, 0-100. A pair
// of non-fallback neighbours that shares at least one content word counts as
// connected; fallback sections break the chain.
func Coherence(sections []model.Section) float64 {
	if len(sections) < 2 {
		return 100
	}
	connected := 0
	pairs := len(sections) - 1
	for i := 0; i < pairs; i++ {
		a, b := sections[i], sections[i+1]
		if a.Fallback || b.Fallback {
			continue
		}
		if sharesWord(contentWords(a), contentWords(b)) {
			connected++
		}
	}
	return math.Round(float64(connected)/float64(pairs)*1000) / 10
}

// CoherenceWarnings names adjacent sections with no shared vocabulary.
func CoherenceWarnings(sections []model.Section) []string {
	var out []string
	for i := 0; i+1 < len(sections); i++ {
		a, b := sections[i], sections[i+1]
		if a.Fallback || b.Fallback {
			continue
		}
		if !sharesWord(contentWords(a), contentWords(b)) {
			out = append(out, fmt.Sprintf("sections %s and %s share no themes", a.Name, b.Name))
		}
	}
	return out
}

func contentWords(s model.Section) map[string]bool {
	out := make(map[string]bool)
	add := func(text string) {
		for _, w := range strings.FieldsFunc(text, func(r rune) bool { return !unicode.IsLetter(r) }) {
			if len([]rune(w)) < 4 {
				continue
			}
			w = fold.String(w)
			if !stopwords[w] {
				out[w] = true
			}
		}
	}
	add(s.Text)
	for _, it := range s.Items {
		add(it)
	}
	return out
}

func sharesWord(a, b map[string]bool) bool {
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}
