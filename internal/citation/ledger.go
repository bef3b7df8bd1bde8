// Package citation implements the per-run citation ledger: URL dedup, stable
// ids, per-section usage and section-local markers.
package citation

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// DefaultMaxPerSection caps the ids recorded for one section.
const DefaultMaxPerSection = 8

// LowConfidenceFlag is appended to markers of low-confidence citations.
const LowConfidenceFlag = "†"

var tokenRe = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// Source is a citation candidate as seen by the ledger.
type Source struct {
	URL       string
	Title     string
	Publisher string
	Year      int
	Module    string
}

// Ledger maps URLs to run-scoped ids. A Ledger belongs to one synthesis
// attempt and is not safe for concurrent use.
type Ledger struct {
	byURL         map[string]int
	items         []*model.Citation
	sections      map[string][]int
	maxPerSection int
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMaxPerSection overrides the per-section id cap.
func WithMaxPerSection(n int) Option {
	return func(l *Ledger) {
		if n > 0 {
			l.maxPerSection = n
		}
	}
}

// NewLedger returns an empty ledger. Ids start at 1.
func NewLedger(opts ...Option) *Ledger {
	l := &Ledger{
		byURL:         make(map[string]int),
		sections:      make(map[string][]int),
		maxPerSection: DefaultMaxPerSection,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Add registers src and returns its id. URLs are matched exactly after
// trimming whitespace; the first registration wins and later ones only add
// provenance. A blank URL returns 0.
func (l *Ledger) Add(src Source) int {
	u := strings.TrimSpace(src.URL)
	if u == "" {
		return 0
	}
	if id, ok := l.byURL[u]; ok {
		c := l.items[id-1]
		if src.Module != "" && !contains(c.Provenance, src.Module) {
			c.Provenance = append(c.Provenance, src.Module)
		}
		return id
	}

	id := len(l.items) + 1
	c := &model.Citation{
		ID:        id,
		URL:       u,
		Title:     src.Title,
		Publisher: src.Publisher,
		Year:      src.Year,
		Domain:    Domain(u),
	}
	if src.Module != "" {
		c.Provenance = []string{src.Module}
	}
	l.items = append(l.items, c)
	l.byURL[u] = id
	return id
}

// Get returns a copy of the citation with the given id.
func (l *Ledger) Get(id int) (model.Citation, bool) {
	if id < 1 || id > len(l.items) {
		return model.Citation{}, false
	}
	return *l.items[id-1], true
}

// Len returns the number of allocated ids.
func (l *Ledger) Len() int {
	return len(l.items)
}

// URLs returns every registered URL in id order.
func (l *Ledger) URLs() []string {
	out := make([]string, len(l.items))
	for i, c := range l.items {
		out[i] = c.URL
	}
	return out
}

// ForModules returns ids whose provenance includes any of codes, in id order.
func (l *Ledger) ForModules(codes ...string) []int {
	var out []int
	for _, c := range l.items {
		for _, code := range codes {
			if contains(c.Provenance, code) {
				out = append(out, c.ID)
				break
			}
		}
	}
	return out
}

// Scan returns the known ids referenced in text, unique, in first-appearance
// order. It does not mark anything used.
func (l *Ledger) Scan(text string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, m := range tokenRe.FindAllStringSubmatch(text, -1) {
		for _, id := range parseIDs(m[1]) {
			if _, ok := l.Get(id); ok && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// ProcessSectionCitations collects the ids referenced in text (first
// appearance, capped), marks them used, records them for section and
// rewrites global markers to section-local ones: "[3]" becomes "[EI1]".
// Unknown ids are left untouched. Ids past the cap and suppressed
// citations are removed from the text but suppressed ones stay recorded.
func (l *Ledger) ProcessSectionCitations(text, section string) (string, []int) {
	prefix := model.SectionPrefix(section)
	var used []int
	local := make(map[int]string)
	dropped := make(map[int]bool)
	visible := 0
	removed := false

	admit := func(id int) {
		if _, ok := local[id]; ok || dropped[id] {
			return
		}
		if len(used) >= l.maxPerSection {
			dropped[id] = true
			return
		}
		c := l.items[id-1]
		c.Used = true
		used = append(used, id)
		if c.Suppressed {
			local[id] = ""
			return
		}
		visible++
		marker := prefix + strconv.Itoa(visible)
		if c.Marker == "" {
			c.Marker = marker
		}
		if c.LowConfidence {
			marker += LowConfidenceFlag
		}
		local[id] = marker
	}

	out := tokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		ids := parseIDs(tok[1 : len(tok)-1])
		parts := make([]string, 0, len(ids))
		known := false
		for _, id := range ids {
			if _, ok := l.Get(id); !ok {
				parts = append(parts, strconv.Itoa(id))
				continue
			}
			known = true
			admit(id)
			if m := local[id]; m != "" {
				parts = append(parts, m)
			} else {
				removed = true
			}
		}
		if !known {
			return tok
		}
		if len(parts) == 0 {
			return ""
		}
		return "[" + strings.Join(parts, ", ") + "]"
	})

	l.sections[section] = used
	if removed {
		out = tidy(out)
	}
	return out, used
}

// SectionIDs returns the recorded ids for section.
func (l *Ledger) SectionIDs(section string) []int {
	return append([]int(nil), l.sections[section]...)
}

// Apply merges resolved metadata into matching citations. Existing values
// are kept.
func (l *Ledger) Apply(u, title, publisher string, year int) bool {
	id, ok := l.byURL[strings.TrimSpace(u)]
	if !ok {
		return false
	}
	c := l.items[id-1]
	if c.Title == "" {
		c.Title = title
	}
	if c.Publisher == "" {
		c.Publisher = publisher
	}
	if c.Year == 0 {
		c.Year = year
	}
	return true
}

// All returns copies of every allocated citation in id order.
func (l *Ledger) All() []model.Citation {
	out := make([]model.Citation, len(l.items))
	for i, c := range l.items {
		out[i] = *c
	}
	return out
}

// Output returns the used citations in id order without renumbering, plus
// the per-section id lists.
func (l *Ledger) Output() model.CitationOutput {
	out := model.CitationOutput{
		Sources:  []model.Citation{},
		Sections: make(map[string][]int, len(l.sections)),
	}
	for _, c := range l.items {
		if c.Used {
			out.Sources = append(out.Sources, *c)
		}
	}
	for name, ids := range l.sections {
		out.Sections[name] = append([]int(nil), ids...)
	}
	return out
}

// UsedCount returns the number of citations referenced by any section.
func (l *Ledger) UsedCount() int {
	n := 0
	for _, c := range l.items {
		if c.Used {
			n++
		}
	}
	return n
}

func parseIDs(s string) []int {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err == nil {
			out = append(out, n)
		}
	}
	return out
}

// tidy collapses the double spaces left behind by removed markers.
func tidy(s string) string {
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return strings.ReplaceAll(s, " .", ".")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
