// Package section drafts the nine report sections through pluggable content
// providers, substituting deterministic fallback text for any section whose
// provider fails.
package section

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/bridge"
	"github.com/sells-group/synthesis-cli/internal/citation"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
	"github.com/sells-group/synthesis-cli/internal/qa"
)

// ErrNoMaterial is returned by a provider with nothing to say.
var ErrNoMaterial = eris.New("section: no material for section")

// Titles maps section names to display titles.
var Titles = map[string]string{
	model.SectionExecutiveSummary:        "Executive Summary",
	model.SectionMarketPressures:         "Market Pressures",
	model.SectionCapabilityLevers:        "Capability Levers",
	model.SectionTimingSignals:           "Timing Signals",
	model.SectionExecutiveAccountability: "Executive Accountability",
	model.SectionNumericProof:            "Numeric Proof Points",
	model.SectionCompetitiveBridge:       "Competitive Bridge",
	model.SectionRiskOutlook:             "Risk Outlook",
	model.SectionRecommendations:         "Recommendations",
}

// SectionModules lists the analysis modules that feed each section.
var SectionModules = map[string][]string{
	model.SectionExecutiveSummary:        {"NB1", "NB5", "NB8"},
	model.SectionMarketPressures:         {"NB2", "NB3", "NB4"},
	model.SectionCapabilityLevers:        {"NB7", "NB8", "NB11"},
	model.SectionTimingSignals:           {"NB8", "NB13"},
	model.SectionExecutiveAccountability: {"NB6", "NB1"},
	model.SectionNumericProof:            {"NB5", "NB4", "NB14"},
	model.SectionCompetitiveBridge:       {"NB3", "NB2"},
	model.SectionRiskOutlook:             {"NB12", "NB9", "NB15"},
	model.SectionRecommendations:         {"NB13", "NB8", "NB10"},
}

// DraftContext is everything a provider may draw on.
type DraftContext struct {
	RunID    string
	Inputs   *normalize.Inputs
	Patterns model.PatternSet
	Bridge   *bridge.Bridge
	Ledger   *citation.Ledger
}

// Content is the raw output of a provider.
type Content struct {
	Text  string
	Items []string
}

// ContentProvider drafts one section.
type ContentProvider interface {
	Draft(dc DraftContext) (*Content, error)
}

// ProviderFunc adapts a function to ContentProvider.
type ProviderFunc func(dc DraftContext) (*Content, error)

// Draft calls f.
func (f ProviderFunc) Draft(dc DraftContext) (*Content, error) { return f(dc) }

// Registry maps section names to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ContentProvider
}

// NewRegistry returns a registry preloaded with the default providers.
func NewRegistry() *Registry {
	r := &Registry{providers: make(map[string]ContentProvider, len(model.SectionNames))}
	for name, p := range defaultProviders() {
		r.providers[name] = p
	}
	return r
}

// Register replaces the provider for name.
func (r *Registry) Register(name string, p ContentProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Provider returns the provider for name.
func (r *Registry) Provider(name string) (ContentProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Result is the drafted section list plus non-fatal warnings.
type Result struct {
	Sections []model.Section
	Warnings []string
}

// FallbackCount returns how many sections used fallback text.
func (r Result) FallbackCount() int {
	n := 0
	for _, s := range r.Sections {
		if s.Fallback {
			n++
		}
	}
	return n
}

// Option configures a Drafter.
type Option func(*Drafter)

// WithSafeMode downgrades contract violations to fallback plus warning.
func WithSafeMode(on bool) Option {
	return func(d *Drafter) { d.safeMode = on }
}

// WithContracts overrides the per-section contracts.
func WithContracts(c map[string]qa.Contract) Option {
	return func(d *Drafter) { d.contracts = c }
}

// Drafter runs every registered provider in report order.
type Drafter struct {
	registry  *Registry
	safeMode  bool
	contracts map[string]qa.Contract
}

// NewDrafter creates a drafter over reg. A nil registry uses the defaults.
func NewDrafter(reg *Registry, opts ...Option) *Drafter {
	if reg == nil {
		reg = NewRegistry()
	}
	d := &Drafter{registry: reg, contracts: qa.DefaultContracts}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Draft produces all nine sections. A failing provider never aborts the
// batch; its section gets fallback text and one warning. The only error is a
// contract violation with safe mode off.
func (d *Drafter) Draft(_ context.Context, dc DraftContext) (Result, error) {
	log := zap.L().With(zap.String("run_id", dc.RunID))
	var res Result

	for _, name := range model.SectionNames {
		s, reason := d.draftOne(name, dc)
		if reason == "" {
			vs, err := qa.Enforce(*s, d.contracts[name], d.safeMode)
			if err != nil {
				return res, eris.Wrapf(err, "section: %s", name)
			}
			if len(vs) > 0 {
				reason = "contract violation: " + vs[0].Rule
			}
		}

		if reason != "" {
			log.Warn("section: using fallback", zap.String("section", name), zap.String("reason", reason))
			res.Warnings = append(res.Warnings, fmt.Sprintf("section %s used fallback content (%s)", name, reason))
			fb := Fallback(name, dc.Inputs)
			s = &fb
		}
		res.Sections = append(res.Sections, *s)
	}
	return res, nil
}

// draftOne calls the provider for name behind a recover. A non-empty reason
// means the section must fall back.
func (d *Drafter) draftOne(name string, dc DraftContext) (s *model.Section, reason string) {
	p, ok := d.registry.Provider(name)
	if !ok {
		return nil, "no provider registered"
	}

	defer func() {
		if r := recover(); r != nil {
			s, reason = nil, fmt.Sprintf("provider panic: %v", r)
		}
	}()

	c, err := p.Draft(dc)
	if err != nil {
		return nil, err.Error()
	}
	if c == nil {
		return nil, "empty content"
	}
	out := &model.Section{
		Name:   name,
		Title:  Titles[name],
		Text:   c.Text,
		Items:  c.Items,
		Status: model.SectionStatusDrafted,
	}
	if !qa.SectionOK(out) {
		return nil, "empty content"
	}
	return out, ""
}

// Fallback returns the deterministic stand-in for a section. It names the
// feeder modules that were missing or unusable.
func Fallback(name string, in *normalize.Inputs) model.Section {
	title := Titles[name]
	if title == "" {
		title = name
	}
	text := fmt.Sprintf("%s could not be drafted from the available analysis. "+
		"This section will be completed once the supporting modules are refreshed.", title)

	if in != nil {
		var gaps []string
		for _, code := range SectionModules[name] {
			if m, ok := in.Modules[code]; !ok || !m.Usable() {
				gaps = append(gaps, code)
			}
		}
		sort.Slice(gaps, func(i, j int) bool {
			return normalize.CodeNumber(gaps[i]) < normalize.CodeNumber(gaps[j])
		})
		if len(gaps) > 0 {
			text += fmt.Sprintf(" Modules without usable data: %s.", strings.Join(gaps, ", "))
		}
	}

	return model.Section{
		Name:     name,
		Title:    title,
		Text:     text,
		Status:   model.SectionStatusDrafted,
		Fallback: true,
	}
}
