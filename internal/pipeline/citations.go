package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/citation"
	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/internal/normalize"
	"github.com/sells-group/synthesis-cli/internal/section"
	"github.com/sells-group/synthesis-cli/pkg/resolver"
)

// itemSep joins a section's text and items for one ledger pass.
const itemSep = "\x1f"

type enrichStats struct {
	Batches  int
	Failed   int
	Resolved int
}

// resolveCitations fetches metadata for the ledger's URLs in bounded
// batches, cited URLs first. Batch failures are counted and logged.
func (p *Pipeline) resolveCitations(ctx context.Context, ledger *citation.Ledger, sections []model.Section, log *zap.Logger) enrichStats {
	var st enrichStats
	if p.resolver == nil || !p.cfg.Resolver.Enabled {
		return st
	}

	urls := prioritizedURLs(ledger, sections)
	for i, batch := range resolver.Batches(urls, p.cfg.Resolver.BatchSize, p.cfg.Resolver.MaxBatches) {
		st.Batches++
		mds, err := p.resolver.Resolve(ctx, batch)
		if err != nil {
			st.Failed++
			log.Warn("pipeline: citation batch failed",
				zap.Int("batch", i),
				zap.Int("urls", len(batch)),
				zap.Error(err),
			)
			continue
		}
		for _, md := range mds {
			if ledger.Apply(md.URL, md.Title, md.Publisher, md.Year) {
				st.Resolved++
			}
		}
	}
	return st
}

// prioritizedURLs returns URLs cited by the drafts, in section order, then
// the rest of the ledger in id order.
func prioritizedURLs(ledger *citation.Ledger, sections []model.Section) []string {
	seen := make(map[int]bool)
	var ids []int
	for _, s := range sections {
		for _, id := range ledger.Scan(sectionText(s)) {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	for id := 1; id <= ledger.Len(); id++ {
		if !seen[id] {
			ids = append(ids, id)
		}
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if c, ok := ledger.Get(id); ok {
			out = append(out, c.URL)
		}
	}
	return out
}

// scoreCitations runs enhanced confidence scoring using the sections that
// cite each id.
func scoreCitations(ledger *citation.Ledger, sections []model.Section, in *normalize.Inputs) {
	refs := make(map[int][]string)
	for _, s := range sections {
		for _, id := range ledger.Scan(sectionText(s)) {
			refs[id] = append(refs[id], s.Name)
		}
	}

	var websites []string
	for _, o := range []*model.Organization{in.Subject, in.Comparison} {
		if o != nil && o.Website != "" {
			websites = append(websites, o.Website)
		}
	}

	ledger.Score(citation.ScoreContext{
		CompanyWebsites: websites,
		References:      refs,
		SectionModules:  section.SectionModules,
	})
}

// attachCitations rewrites the section's global markers to section-local
// ones and records the ids it uses.
func attachCitations(ledger *citation.Ledger, s *model.Section) {
	out, ids := ledger.ProcessSectionCitations(sectionText(*s), s.Name)
	parts := strings.Split(out, itemSep)
	s.Text = strings.TrimSpace(parts[0])
	if len(parts) == len(s.Items)+1 {
		items := make([]string, len(s.Items))
		for i, it := range parts[1:] {
			items[i] = strings.TrimSpace(it)
		}
		s.Items = items
	}
	s.CitationIDs = ids
	s.Status = model.SectionStatusAnnotated
}

func sectionText(s model.Section) string {
	if len(s.Items) == 0 {
		return s.Text
	}
	return s.Text + itemSep + strings.Join(s.Items, itemSep)
}
