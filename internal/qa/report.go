package qa

import (
	"fmt"
	"math"
	"strings"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
	"github.com/sells-group/synthesis-cli/internal/payload"
)

// InputCheck is the result of validating normalized inputs.
type InputCheck struct {
	Coverage   float64  `json:"coverage"`
	Sufficient bool     `json:"sufficient"`
	Warnings   []string `json:"warnings,omitempty"`
}

// ValidateInputs checks module coverage and data quality ahead of drafting.
// It never fails; problems are reported as warnings.
func ValidateInputs(in *normalize.Inputs) InputCheck {
	chk := InputCheck{Coverage: in.Stats.CoverageRatio, Sufficient: in.Sufficient()}
	if !chk.Sufficient {
		chk.Warnings = append(chk.Warnings, fmt.Sprintf("module coverage %.0f%% is below 80%%", chk.Coverage*100))
	}
	if len(in.Stats.MissingCore) > 0 {
		chk.Warnings = append(chk.Warnings, "core modules missing: "+strings.Join(in.Stats.MissingCore, ", "))
	}
	if in.Stats.DecodeFailures > 0 {
		chk.Warnings = append(chk.Warnings, fmt.Sprintf("%d module payload(s) could not be decoded", in.Stats.DecodeFailures))
	}
	if fb := in.FallbackModules(); len(fb) > 0 {
		chk.Warnings = append(chk.Warnings, "modules without usable data: "+strings.Join(fb, ", "))
	}
	for _, code := range in.Codes() {
		m := in.Modules[code]
		if m.Usable() && payload.IsEmpty(m.Data) {
			chk.Warnings = append(chk.Warnings, fmt.Sprintf("module %s completed with empty data", code))
		}
	}
	return chk
}

// Score rates each section 0-100 and averages them. Fallback sections score
// 40; contract violations cost 15 each and a section with no citations
// loses 10.
func Score(sections []model.Section, contracts map[string]Contract) ([]model.SectionScore, float64) {
	if len(sections) == 0 {
		return nil, 0
	}
	scores := make([]model.SectionScore, 0, len(sections))
	total := 0.0
	for _, s := range sections {
		sc := model.SectionScore{
			Name:      s.Name,
			Words:     s.WordCount(),
			Citations: len(s.CitationIDs),
			Fallback:  s.Fallback,
		}
		if s.Fallback {
			sc.Score = 40
			sc.Issues = append(sc.Issues, "fallback content")
		} else {
			sc.Score = 100
			for _, v := range CheckContract(s, contracts[s.Name]) {
				sc.Score -= 15
				sc.Issues = append(sc.Issues, v.Rule)
			}
			if sc.Citations == 0 {
				sc.Score -= 10
				sc.Issues = append(sc.Issues, "no citations")
			}
		}
		sc.Score = math.Max(0, sc.Score)
		total += sc.Score
		scores = append(scores, sc)
	}
	return scores, math.Round(total/float64(len(sections))*10) / 10
}

// BuildReport assembles the QA report for a finished draft.
func BuildReport(sections []model.Section, in *normalize.Inputs, warnings []string) model.QAReport {
	scores, overall := Score(sections, DefaultContracts)
	rep := model.QAReport{
		OverallScore:   overall,
		Sections:       scores,
		Warnings:       append([]string{}, warnings...),
		MissingModules: in.Missing(),
	}
	rep.FallbackModules = in.FallbackModules()
	return rep
}
