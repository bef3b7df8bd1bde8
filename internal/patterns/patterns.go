// Package patterns classifies module text into the five synthesis buckets.
package patterns

import (
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
	"github.com/sells-group/synthesis-cli/internal/payload"
)

// Bucket caps. Truncation is by ordinal position within the walk.
const (
	MaxPressures = 4
	MaxLevers    = 4
	MaxTiming    = 6
	MaxExecutive = 3
	MaxNumeric   = 6
)

// LongTextThreshold is the length at which any string in an operational or
// competitive module counts as a pressure theme.
const LongTextThreshold = 60

var (
	pressureFields  = []string{"market", "focus", "shift", "pressure"}
	leverFields     = []string{"innovation", "technology", "strategic", "capabilit"}
	executiveFields = []string{"mission", "vision", "leadership", "ceo", "executive"}
	metricFields    = []string{"revenue", "margin", "growth_rate", "market_share", "employees", "ebitda", "patients", "beds"}

	// NB3 competitive, NB4 operational.
	longTextModules = map[string]bool{"NB3": true, "NB4": true}

	temporalPhrases = []string{"quarter", "fiscal", "month", "year", "deadline", "timeline", "by end of", "within"}
	yearRe          = regexp.MustCompile(`\b20(2[4-9]|30)\b`)
	quarterRe       = regexp.MustCompile(`(?i)\bq[1-4]\b`)
	percentRe       = regexp.MustCompile(`\d+(\.\d+)?%`)
	magnitudeRe     = regexp.MustCompile(`(?i)\$?\d+(\.\d+)?\s*(million|billion|thousand|bn|mm|k|m)\b`)
	currencyRe      = regexp.MustCompile(`(?i)\d+(\.\d+)?\s*(dollars|usd|eur|euros|pounds|gbp)\b`)
)

// Extract walks every module depth-first (organization, section, field) in
// slot order and fills the capped buckets.
func Extract(in *normalize.Inputs) (model.PatternSet, error) {
	if in == nil {
		return model.PatternSet{}, eris.New("patterns: nil inputs")
	}

	c := newCollector()
	for _, code := range in.Codes() {
		m := in.Modules[code]
		if m.Data == nil {
			continue
		}
		payload.Walk(m.Data, func(path []string, leaf payload.Scalar) {
			c.classify(in, code, path, leaf)
		})
	}
	return c.set, nil
}

type collector struct {
	set  model.PatternSet
	seen map[*[]model.Pattern]map[string]bool
}

func newCollector() *collector {
	return &collector{seen: make(map[*[]model.Pattern]map[string]bool)}
}

func (c *collector) add(bucket *[]model.Pattern, limit int, p model.Pattern) {
	if len(*bucket) >= limit {
		return
	}
	seen := c.seen[bucket]
	if seen == nil {
		seen = make(map[string]bool)
		c.seen[bucket] = seen
	}
	if seen[p.Text] {
		return
	}
	seen[p.Text] = true
	*bucket = append(*bucket, p)
}

func (c *collector) classify(in *normalize.Inputs, code string, path []string, leaf payload.Scalar) {
	if len(path) == 0 {
		return
	}
	field := strings.ToLower(path[len(path)-1])
	org := ""
	if len(path) >= 2 {
		org = in.OrgLabel(path[0])
	} else if in.Subject != nil {
		org = in.Subject.Name
	}

	if leaf.Type == payload.ScalarNumber {
		if containsAny(field, metricFields) {
			c.add(&c.set.NumericProofs, MaxNumeric, model.Pattern{
				Text:         humanize(field) + ": " + leaf.Value,
				Field:        field,
				SourceModule: code,
				Organization: org,
			})
		}
		return
	}
	if leaf.Type != payload.ScalarString {
		return
	}
	text := strings.TrimSpace(leaf.Value)
	if text == "" {
		return
	}
	p := model.Pattern{Text: text, Field: field, SourceModule: code, Organization: org}

	if containsAny(field, pressureFields) || (longTextModules[code] && len(text) >= LongTextThreshold) {
		c.add(&c.set.Pressures, MaxPressures, p)
	}
	if containsAny(field, leverFields) {
		c.add(&c.set.Levers, MaxLevers, p)
	}
	if IsTemporal(text) {
		c.add(&c.set.TimingSignals, MaxTiming, p)
	}
	if containsAny(field, executiveFields) {
		c.add(&c.set.ExecutiveAccountabilities, MaxExecutive, p)
	}
	if IsNumeric(text) || containsAny(field, metricFields) {
		c.add(&c.set.NumericProofs, MaxNumeric, p)
	}
}

// IsTemporal reports whether text carries a timing keyword.
func IsTemporal(text string) bool {
	if yearRe.MatchString(text) || quarterRe.MatchString(text) {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range temporalPhrases {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsNumeric reports whether text contains a percentage or a magnitude token.
func IsNumeric(text string) bool {
	return percentRe.MatchString(text) || magnitudeRe.MatchString(text) || currencyRe.MatchString(text)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func humanize(field string) string {
	return strings.ReplaceAll(strings.ReplaceAll(field, "_", " "), "-", " ")
}
