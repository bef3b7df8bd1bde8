package citation

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// Confidence thresholds for rendered markers.
const (
	SuppressBelow      = 0.4
	LowConfidenceBelow = 0.6
)

const (
	baseConfidence    = 0.3
	corroborationStep = 0.1
	sectionBonus      = 0.1
)

var sourceTypeWeight = map[model.SourceType]float64{
	model.SourceTypeAcademic:   0.3,
	model.SourceTypeRegulatory: 0.3,
	model.SourceTypeHealthcare: 0.25,
	model.SourceTypeNews:       0.2,
	model.SourceTypeIndustry:   0.15,
	model.SourceTypeCompany:    0.05,
}

var (
	healthcareMarkers = []string{"nih.gov", "who.int", "cdc.gov", "health"}
	academicMarkers   = []string{"doi.org", "jstor.org", "springer.com", "sciencedirect.com", "nature.com", "nejm.org", "jamanetwork.com", "thelancet.com", "wiley.com", "ssrn.com", "arxiv.org"}
	regulatoryMarkers = []string{"sec.gov", "fda.gov", "europa.eu", "federalregister.gov", "regulations.gov", "ema.europa.eu"}
	newsMarkers       = []string{"reuters.com", "bloomberg.com", "wsj.com", "ft.com", "nytimes.com", "cnbc.com", "apnews.com", "bbc.co.uk", "bbc.com"}
)

var fold = cases.Fold()

// Domain returns the case-folded host of rawURL with any "www." prefix
// removed. Inputs without a scheme are treated as host paths.
func Domain(rawURL string) string {
	s := strings.TrimSpace(rawURL)
	if !strings.Contains(s, "://") {
		s = "http://" + s
	}
	u, err := url.Parse(s)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := fold.String(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// RegistrableDomain returns the eTLD+1 for a host, or the host itself when
// it has no registrable part.
func RegistrableDomain(host string) string {
	if host == "" {
		return ""
	}
	d, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return d
}

// Classify assigns a source type to a citation domain. companyDomains are
// the subject and comparison websites.
func Classify(domain string, companyDomains ...string) model.SourceType {
	if domain == "" {
		return model.SourceTypeIndustry
	}
	reg := RegistrableDomain(domain)
	for _, cd := range companyDomains {
		if cd != "" && RegistrableDomain(Domain(cd)) == reg {
			return model.SourceTypeCompany
		}
	}
	if hasMarker(domain, healthcareMarkers) {
		return model.SourceTypeHealthcare
	}

	suffix, _ := publicsuffix.PublicSuffix(domain)
	switch {
	case suffix == "edu" || strings.HasPrefix(suffix, "ac.") || strings.HasPrefix(suffix, "edu."):
		return model.SourceTypeAcademic
	case hasMarker(domain, academicMarkers):
		return model.SourceTypeAcademic
	case suffix == "gov" || suffix == "mil" || strings.HasPrefix(suffix, "gov.") || hasMarker(domain, regulatoryMarkers):
		return model.SourceTypeRegulatory
	case hasMarker(domain, newsMarkers):
		return model.SourceTypeNews
	default:
		return model.SourceTypeIndustry
	}
}

func hasMarker(domain string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(m, ".") {
			if domain == m || strings.HasSuffix(domain, "."+m) {
				return true
			}
			continue
		}
		if strings.Contains(domain, m) {
			return true
		}
	}
	return false
}

// ScoreContext carries what the confidence formula needs beyond the ledger.
type ScoreContext struct {
	// CompanyWebsites are the subject and comparison websites.
	CompanyWebsites []string
	// References maps citation id to the sections whose drafts cite it.
	References map[int][]string
	// SectionModules maps a section to the module codes that feed it.
	SectionModules map[string][]string
}

// Score sets SourceType, Confidence, LowConfidence and Suppressed on every
// citation:
//
//	confidence = 0.3 + 0.1*(corroboration-1) + section bonus + type weight
//
// clamped to [0,1]. Corroboration is the number of distinct modules that
// cite the URL; the 0.1 bonus applies when a citing section is fed by one
// of those modules.
func (l *Ledger) Score(sc ScoreContext) {
	for _, c := range l.items {
		c.SourceType = Classify(c.Domain, sc.CompanyWebsites...)

		corroboration := len(c.Provenance)
		if corroboration < 1 {
			corroboration = 1
		}
		conf := baseConfidence + corroborationStep*float64(corroboration-1)
		if fedBySection(c, sc) {
			conf += sectionBonus
		}
		conf += sourceTypeWeight[c.SourceType]

		c.Confidence = clamp(conf, 0, 1)
		c.Suppressed = c.Confidence < SuppressBelow
		c.LowConfidence = !c.Suppressed && c.Confidence < LowConfidenceBelow
	}
}

func fedBySection(c *model.Citation, sc ScoreContext) bool {
	for _, section := range sc.References[c.ID] {
		for _, code := range sc.SectionModules[section] {
			if contains(c.Provenance, code) {
				return true
			}
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
