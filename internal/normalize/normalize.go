// Package normalize builds the canonical, alias-resolved view of a run's
// analysis modules.
package normalize

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/payload"
)

// ErrInputMissing is returned when a run has no usable module slots at all.
var ErrInputMissing = eris.New("normalize: no analysis modules for run")

const (
	// TotalModules is the number of canonical module slots per run.
	TotalModules = 15
	// SufficientModules is 80% of TotalModules.
	SufficientModules = 12
)

var legacyNames = [TotalModules + 1]string{
	1:  "company_overview",
	2:  "market_landscape",
	3:  "competitive_position",
	4:  "operational_profile",
	5:  "financial_performance",
	6:  "leadership_governance",
	7:  "technology_innovation",
	8:  "strategic_initiatives",
	9:  "regulatory_environment",
	10: "customer_segments",
	11: "partnerships_ecosystem",
	12: "risk_assessment",
	13: "growth_opportunities",
	14: "workforce_talent",
	15: "esg_sustainability",
}

const coreModules = 5

var fold = cases.Fold()

// CitationRef is one raw citation URL and the module that referenced it.
type CitationRef struct {
	URL    string `json:"url"`
	Module string `json:"module"`
}

// Module is the normalized form of one analysis module.
type Module struct {
	Code          string             `json:"code"`
	RawCode       string             `json:"raw_code"`
	Name          string             `json:"name"`
	Status        model.ModuleStatus `json:"status"`
	Data          payload.Node       `json:"-"`
	CitationURLs  []string           `json:"citation_urls,omitempty"`
	FailureReason string             `json:"failure_reason,omitempty"`
	DecodeFailed  bool               `json:"decode_failed,omitempty"`
}

// Usable reports whether the module carries decoded, completed data.
func (m *Module) Usable() bool {
	return m != nil && m.Status == model.ModuleStatusCompleted && !m.DecodeFailed
}

// Stats summarises a normalization pass.
type Stats struct {
	ModuleCount     int      `json:"module_count"`
	CitationCount   int      `json:"citation_count"`
	CompletedCount  int      `json:"completed_count"`
	DecodeFailures  int      `json:"decode_failures"`
	MissingCore     []string `json:"missing_core"`
	MissingOptional []string `json:"missing_optional"`
	CoverageRatio   float64  `json:"coverage_ratio"`
}

// Inputs is the canonical dataset for one run. It lives for a single
// synthesis attempt.
type Inputs struct {
	RunID      string              `json:"run_id"`
	Subject    *model.Organization `json:"subject,omitempty"`
	Comparison *model.Organization `json:"comparison,omitempty"`
	Modules    map[string]*Module  `json:"modules"`
	Aliases    map[string]string   `json:"aliases"`
	Citations  []CitationRef       `json:"citations"`
	Stats      Stats               `json:"stats"`
	Warnings   []string            `json:"warnings,omitempty"`
}

// CanonicalCode maps a raw module code to its canonical "NB<n>" form. Case,
// separators and leading zeros are ignored; legacy name slugs are accepted.
func CanonicalCode(raw string) (string, bool) {
	s := fold.String(strings.TrimSpace(raw))
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	compact := b.String()

	if digits, ok := strings.CutPrefix(compact, "nb"); ok && digits != "" {
		n, err := strconv.Atoi(digits)
		if err != nil || n < 1 || n > TotalModules {
			return "", false
		}
		return codeFor(n), true
	}

	slug := slugify(s)
	for n := 1; n <= TotalModules; n++ {
		if legacyNames[n] == slug {
			return codeFor(n), true
		}
	}
	return "", false
}

// CodeNumber returns the slot number of a canonical code.
func CodeNumber(code string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(code, "NB"))
	return n
}

// LegacyName returns the historical slug for a canonical code.
func LegacyName(code string) string {
	n := CodeNumber(code)
	if n < 1 || n > TotalModules {
		return ""
	}
	return legacyNames[n]
}

// IsCore reports whether code belongs to the required core subset.
func IsCore(code string) bool {
	n := CodeNumber(code)
	return n >= 1 && n <= coreModules
}

// AllCodes returns NB1..NB15 in slot order.
func AllCodes() []string {
	out := make([]string, TotalModules)
	for i := range out {
		out[i] = codeFor(i + 1)
	}
	return out
}

func codeFor(n int) string {
	return fmt.Sprintf("NB%d", n)
}

func slugify(s string) string {
	var b strings.Builder
	lastSep := true
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastSep = false
			continue
		}
		if !lastSep {
			b.WriteByte('_')
			lastSep = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Normalize decodes and canonicalizes a run's modules. It fails only when no
// module slot exists at all; everything else degrades to warnings.
func Normalize(run model.Run, modules []model.AnalysisModule, subject, comparison *model.Organization) (*Inputs, error) {
	in := &Inputs{
		RunID:      run.ID,
		Subject:    subject,
		Comparison: comparison,
		Modules:    make(map[string]*Module),
		Aliases:    make(map[string]string),
	}
	log := zap.L().With(zap.String("run_id", run.ID))

	for _, raw := range modules {
		code, ok := CanonicalCode(raw.Code)
		if !ok {
			in.warn(fmt.Sprintf("unrecognised module code %q ignored", raw.Code))
			log.Warn("normalize: unrecognised module code", zap.String("code", raw.Code))
			continue
		}

		m := &Module{
			Code:          code,
			RawCode:       raw.Code,
			Name:          LegacyName(code),
			Status:        raw.Status,
			FailureReason: raw.FailureReason,
			CitationURLs:  cleanURLs(raw.CitationURLs),
		}
		if m.Status == "" {
			m.Status = model.ModuleStatusCompleted
		}

		node, err := payload.Decode(raw.Payload)
		if err != nil {
			m.Data = payload.Map{}
			m.DecodeFailed = true
			in.Stats.DecodeFailures++
			in.warn(fmt.Sprintf("module %s payload could not be decoded", code))
			log.Warn("normalize: invalid module payload", zap.String("code", code), zap.Error(err))
		} else {
			m.Data = node
		}

		in.Aliases[strings.ToLower(code)] = code
		in.Aliases[raw.Code] = code
		in.Aliases[m.Name] = code

		if prev, dup := in.Modules[code]; dup {
			// Keep the first record unless only the later one is usable.
			if prev.Usable() || !m.Usable() {
				continue
			}
		}
		in.Modules[code] = m
	}

	for _, code := range in.Codes() {
		m := in.Modules[code]
		for _, u := range m.CitationURLs {
			in.Citations = append(in.Citations, CitationRef{URL: u, Module: code})
		}
		for _, u := range payloadURLs(m.Data) {
			in.Citations = append(in.Citations, CitationRef{URL: u, Module: code})
		}
	}

	in.computeStats()
	if in.Stats.ModuleCount == 0 {
		return in, eris.Wrapf(ErrInputMissing, "run %s", run.ID)
	}
	if !in.Sufficient() {
		in.warn(fmt.Sprintf("only %d of %d analysis modules present; proceeding with reduced coverage",
			in.Stats.ModuleCount, TotalModules))
	}
	return in, nil
}

func (in *Inputs) computeStats() {
	in.Stats.ModuleCount = 0
	in.Stats.CompletedCount = 0
	in.Stats.MissingCore = nil
	in.Stats.MissingOptional = nil
	for _, code := range AllCodes() {
		m, ok := in.Modules[code]
		if !ok || m.Status == model.ModuleStatusMissing {
			if IsCore(code) {
				in.Stats.MissingCore = append(in.Stats.MissingCore, code)
			} else {
				in.Stats.MissingOptional = append(in.Stats.MissingOptional, code)
			}
			continue
		}
		in.Stats.ModuleCount++
		if m.Status == model.ModuleStatusCompleted {
			in.Stats.CompletedCount++
		}
	}
	in.Stats.CitationCount = len(in.Citations)
	in.Stats.CoverageRatio = float64(in.Stats.ModuleCount) / float64(TotalModules)
}

func (in *Inputs) warn(msg string) {
	in.Warnings = append(in.Warnings, msg)
}

// Sufficient reports whether at least 80% of module slots are present.
func (in *Inputs) Sufficient() bool {
	return in.Stats.ModuleCount >= SufficientModules
}

// Lookup resolves a canonical code, raw code or legacy alias.
func (in *Inputs) Lookup(key string) (*Module, bool) {
	if m, ok := in.Modules[key]; ok {
		return m, true
	}
	if code, ok := in.Aliases[key]; ok {
		m, ok := in.Modules[code]
		return m, ok
	}
	if code, ok := CanonicalCode(key); ok {
		m, ok := in.Modules[code]
		return m, ok
	}
	return nil, false
}

// Codes returns the canonical codes present, in slot order.
func (in *Inputs) Codes() []string {
	codes := make([]string, 0, len(in.Modules))
	for code := range in.Modules {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return CodeNumber(codes[i]) < CodeNumber(codes[j]) })
	return codes
}

// Missing returns every absent slot, core first then optional, in slot order.
func (in *Inputs) Missing() []string {
	out := make([]string, 0, len(in.Stats.MissingCore)+len(in.Stats.MissingOptional))
	out = append(out, in.Stats.MissingCore...)
	return append(out, in.Stats.MissingOptional...)
}

// FallbackModules lists present modules that carry no usable data.
func (in *Inputs) FallbackModules() []string {
	var out []string
	for _, code := range in.Codes() {
		m := in.Modules[code]
		if m.Status != model.ModuleStatusMissing && !m.Usable() {
			out = append(out, code)
		}
	}
	return out
}

// URLs returns the flattened citation URLs in aggregation order.
func (in *Inputs) URLs() []string {
	out := make([]string, len(in.Citations))
	for i, c := range in.Citations {
		out[i] = c.URL
	}
	return out
}

// WithCitations returns a shallow copy of in using refs as its citation pool.
func (in *Inputs) WithCitations(refs []CitationRef) *Inputs {
	cp := *in
	cp.Citations = refs
	cp.Stats.CitationCount = len(refs)
	return &cp
}

// OrgLabel maps a payload top-level key to the owning organization's name.
func (in *Inputs) OrgLabel(key string) string {
	k := fold.String(strings.TrimSpace(key))
	if in.Subject != nil {
		if k == "subject" || k == fold.String(in.Subject.Name) || k == fold.String(in.Subject.ID) {
			return in.Subject.Name
		}
	}
	if in.Comparison != nil {
		if k == "comparison" || k == "target" || k == fold.String(in.Comparison.Name) || k == fold.String(in.Comparison.ID) {
			return in.Comparison.Name
		}
	}
	return key
}

func cleanURLs(urls []string) []string {
	var out []string
	for _, u := range urls {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// payloadURLs collects http(s) leaves found under citation-like keys.
func payloadURLs(n payload.Node) []string {
	var out []string
	payload.Walk(n, func(path []string, leaf payload.Scalar) {
		v := strings.TrimSpace(leaf.String())
		if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
			return
		}
		for _, p := range path {
			lp := strings.ToLower(p)
			if strings.Contains(lp, "citation") || strings.Contains(lp, "source") || strings.Contains(lp, "reference") {
				out = append(out, v)
				return
			}
		}
	})
	return out
}
