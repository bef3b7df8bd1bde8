// Package qa validates drafted sections and module coverage and scores the
// result.
package qa

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// ErrContractViolation marks a section that broke its structural contract
// while safe mode was off.
var ErrContractViolation = eris.New("qa: section contract violation")

// Contract bounds the shape of one section.
type Contract struct {
	MinWords int `json:"min_words"`
	MaxWords int `json:"max_words"`
	MinItems int `json:"min_items"`
}

// DefaultContracts holds the contract for each canonical section.
var DefaultContracts = map[string]Contract{
	model.SectionExecutiveSummary:        {MinWords: 12, MaxWords: 400},
	model.SectionMarketPressures:         {MinWords: 8, MaxWords: 500},
	model.SectionCapabilityLevers:        {MinWords: 8, MaxWords: 500},
	model.SectionTimingSignals:           {MinWords: 8, MaxWords: 500},
	model.SectionExecutiveAccountability: {MinWords: 8, MaxWords: 400},
	model.SectionNumericProof:            {MinWords: 8, MaxWords: 400},
	model.SectionCompetitiveBridge:       {MinWords: 8, MaxWords: 500},
	model.SectionRiskOutlook:             {MinWords: 8, MaxWords: 400},
	model.SectionRecommendations:         {MinWords: 8, MaxWords: 400, MinItems: 2},
}

// Violation is one broken contract rule.
type Violation struct {
	Section string `json:"section"`
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s (%s)", v.Section, v.Rule, v.Detail)
}

// SectionOK rejects truly empty content: a nil section, blank text with no
// items, or items that are all blank.
func SectionOK(s *model.Section) bool {
	if s == nil {
		return false
	}
	if strings.TrimSpace(s.Text) != "" {
		return true
	}
	for _, it := range s.Items {
		if strings.TrimSpace(it) != "" {
			return true
		}
	}
	return false
}

// CheckContract returns the rules s breaks. A zero bound is not enforced.
func CheckContract(s model.Section, c Contract) []Violation {
	var out []Violation
	words := s.WordCount()
	if c.MinWords > 0 && words < c.MinWords {
		out = append(out, Violation{Section: s.Name, Rule: "min_words", Detail: fmt.Sprintf("%d < %d", words, c.MinWords)})
	}
	if c.MaxWords > 0 && words > c.MaxWords {
		out = append(out, Violation{Section: s.Name, Rule: "max_words", Detail: fmt.Sprintf("%d > %d", words, c.MaxWords)})
	}
	items := 0
	for _, it := range s.Items {
		if strings.TrimSpace(it) != "" {
			items++
		}
	}
	if c.MinItems > 0 && items < c.MinItems {
		out = append(out, Violation{Section: s.Name, Rule: "min_items", Detail: fmt.Sprintf("%d < %d", items, c.MinItems)})
	}
	return out
}

// Enforce applies the tolerant or strict contract check. In safe mode the
// violations come back as warnings for the caller to substitute a fallback;
// otherwise the first violation is returned as an error.
func Enforce(s model.Section, c Contract, safeMode bool) ([]Violation, error) {
	vs := CheckContract(s, c)
	if len(vs) == 0 || safeMode {
		return vs, nil
	}
	return vs, eris.Wrapf(ErrContractViolation, "%s", vs[0].String())
}
