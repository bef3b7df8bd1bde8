package section

import (
	"fmt"
	"strings"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/payload"
)

const (
	maxRiskItems           = 4
	maxRecommendationItems = 5
	minRiskTextLen         = 20
)

// riskModules are walked in order for risk statements: risk assessment,
// regulatory environment, ESG.
var riskModules = []string{"NB12", "NB9", "NB15"}

func defaultProviders() map[string]ContentProvider {
	return map[string]ContentProvider{
		model.SectionExecutiveSummary: ProviderFunc(executiveSummary),
		model.SectionMarketPressures: bucketProvider(
			"The following market pressures bear on %s and its operating environment.",
			func(ps model.PatternSet) []model.Pattern { return ps.Pressures }),
		model.SectionCapabilityLevers: bucketProvider(
			"%s can draw on the following capabilities to respond to these pressures.",
			func(ps model.PatternSet) []model.Pattern { return ps.Levers }),
		model.SectionTimingSignals: bucketProvider(
			"Dated commitments and windows that set the pace for %s are listed below.",
			func(ps model.PatternSet) []model.Pattern { return ps.TimingSignals }),
		model.SectionExecutiveAccountability: bucketProvider(
			"Leadership statements that define what %s executives are accountable for.",
			func(ps model.PatternSet) []model.Pattern { return ps.ExecutiveAccountabilities }),
		model.SectionNumericProof: bucketProvider(
			"Quantified evidence behind the assessment of %s is summarised below.",
			func(ps model.PatternSet) []model.Pattern { return ps.NumericProofs }),
		model.SectionCompetitiveBridge: ProviderFunc(competitiveBridge),
		model.SectionRiskOutlook:       ProviderFunc(riskOutlook),
		model.SectionRecommendations:   ProviderFunc(recommendations),
	}
}

func subjectName(dc DraftContext) string {
	if dc.Inputs != nil && dc.Inputs.Subject != nil && dc.Inputs.Subject.Name != "" {
		return dc.Inputs.Subject.Name
	}
	return "the organization"
}

// cite returns a " [n]" token for a source from module code, rotating through
// the module's sources by i.
func cite(dc DraftContext, code string, i int) string {
	if dc.Ledger == nil || code == "" {
		return ""
	}
	ids := dc.Ledger.ForModules(code)
	if len(ids) == 0 {
		return ""
	}
	return fmt.Sprintf(" [%d]", ids[i%len(ids)])
}

// attribute adds the owning organization when it is not the subject.
func attribute(dc DraftContext, p model.Pattern) string {
	if p.Organization != "" && p.Organization != subjectName(dc) {
		return fmt.Sprintf("%s (%s)", p.Text, p.Organization)
	}
	return p.Text
}

func bucketProvider(intro string, get func(model.PatternSet) []model.Pattern) ContentProvider {
	return ProviderFunc(func(dc DraftContext) (*Content, error) {
		ps := get(dc.Patterns)
		if len(ps) == 0 {
			return nil, ErrNoMaterial
		}
		c := &Content{Text: fmt.Sprintf(intro, subjectName(dc))}
		for i, p := range ps {
			c.Items = append(c.Items, attribute(dc, p)+cite(dc, p.SourceModule, i))
		}
		return c, nil
	})
}

func executiveSummary(dc DraftContext) (*Content, error) {
	if dc.Inputs == nil {
		return nil, ErrNoMaterial
	}
	ps := dc.Patterns
	var b strings.Builder
	fmt.Fprintf(&b, "%s was assessed across %d of 15 analysis modules.", subjectName(dc), dc.Inputs.Stats.ModuleCount)
	fmt.Fprintf(&b, " The review identified %d market pressures, %d capability levers and %d timing signals.",
		len(ps.Pressures), len(ps.Levers), len(ps.TimingSignals))
	if len(ps.Pressures) > 0 {
		p := ps.Pressures[0]
		fmt.Fprintf(&b, " The leading pressure is: %s%s.", strings.TrimSuffix(p.Text, "."), cite(dc, p.SourceModule, 0))
	}
	if len(ps.NumericProofs) > 0 {
		p := ps.NumericProofs[0]
		fmt.Fprintf(&b, " Headline figure: %s%s.", strings.TrimSuffix(p.Text, "."), cite(dc, p.SourceModule, 1))
	}
	if dc.Inputs.Comparison != nil {
		fmt.Fprintf(&b, " Findings are benchmarked against %s.", dc.Inputs.Comparison.Name)
	}
	return &Content{Text: b.String()}, nil
}

func competitiveBridge(dc DraftContext) (*Content, error) {
	if dc.Bridge.Empty() {
		return nil, ErrNoMaterial
	}
	c := &Content{Text: fmt.Sprintf(
		"%s and %s share %d comparable themes. Each pairs a subject finding with the closest comparison finding.",
		dc.Bridge.Subject, dc.Bridge.Comparison, len(dc.Bridge.Links))}
	for i, l := range dc.Bridge.Links {
		c.Items = append(c.Items, fmt.Sprintf("%s: %s / %s (relevance %.2f)%s",
			l.Theme, l.Subject.Text, l.Comparison.Text, l.Relevance, cite(dc, l.Subject.SourceModule, i)))
	}
	return c, nil
}

func riskOutlook(dc DraftContext) (*Content, error) {
	if dc.Inputs == nil {
		return nil, ErrNoMaterial
	}
	c := &Content{Text: fmt.Sprintf(
		"Key risks for %s drawn from the risk, regulatory and sustainability analysis.", subjectName(dc))}
	seen := make(map[string]bool)
	for _, code := range riskModules {
		m, ok := dc.Inputs.Modules[code]
		if !ok || !m.Usable() {
			continue
		}
		payload.Walk(m.Data, func(_ []string, leaf payload.Scalar) {
			text := strings.TrimSpace(leaf.String())
			if len(c.Items) >= maxRiskItems || leaf.Type != payload.ScalarString || len(text) < minRiskTextLen || seen[text] {
				return
			}
			seen[text] = true
			c.Items = append(c.Items, text+cite(dc, code, len(c.Items)))
		})
	}
	if len(c.Items) == 0 {
		return nil, ErrNoMaterial
	}
	return c, nil
}

func recommendations(dc DraftContext) (*Content, error) {
	ps := dc.Patterns
	c := &Content{Text: fmt.Sprintf(
		"Recommended actions for %s, ordered by the strength of the supporting evidence.", subjectName(dc))}
	add := func(prefix string, p model.Pattern, i int) {
		if len(c.Items) >= maxRecommendationItems {
			return
		}
		c.Items = append(c.Items, prefix+strings.TrimSuffix(p.Text, ".")+cite(dc, p.SourceModule, i))
	}
	for i, p := range ps.Levers {
		add("Invest behind: ", p, i)
	}
	for i, p := range ps.TimingSignals {
		add("Plan around: ", p, i)
	}
	for i, p := range ps.Pressures {
		add("Prepare a response to: ", p, i)
	}
	if len(c.Items) < 2 {
		return nil, ErrNoMaterial
	}
	return c, nil
}
