package refine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/synthesis-cli/internal/model"
	"github.com/sells-group/synthesis-cli/pkg/anthropic"
)

// bracketToken matches any citation marker, raw or section-local.
var bracketToken = regexp.MustCompile(`\[[^\[\]]+\]`)

const refineSystemPrompt = `You edit executive summaries of strategic research reports.
Rewrite the summary to be direct and concise. Keep every fact.
Keep every bracketed citation marker exactly as written, attached to the same claim.
Return only the rewritten summary text.`

// Refiner rewrites a section's text.
type Refiner interface {
	Refine(ctx context.Context, s model.Section) (string, error)
}

// ClaudeRefiner rewrites sections with a Claude model.
type ClaudeRefiner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewClaudeRefiner creates a refiner over client.
func NewClaudeRefiner(client anthropic.Client, model string, maxTokens int64) *ClaudeRefiner {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &ClaudeRefiner{client: client, model: model, maxTokens: maxTokens}
}

// Refine implements Refiner.
func (r *ClaudeRefiner) Refine(ctx context.Context, s model.Section) (string, error) {
	temp := 0.2
	resp, err := r.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       r.model,
		MaxTokens:   r.maxTokens,
		System:      refineSystemPrompt,
		Messages:    []anthropic.Message{{Role: "user", Content: s.Text}},
		Temperature: &temp,
	})
	if err != nil {
		return "", eris.Wrap(err, "refine: claude")
	}
	resp.Usage.LogCost(r.model, "executive_refinement")
	return strings.TrimSpace(resp.Text()), nil
}

// RefineExecutive refines the executive summary. With a nil refiner it only
// drops repeated sentences. A refined text that loses a citation marker is
// discarded. Problems come back as warnings; the pass never fails.
func RefineExecutive(ctx context.Context, r Refiner, sections []model.Section) ([]model.Section, []string) {
	out := append([]model.Section(nil), sections...)
	idx := -1
	for i, s := range out {
		if s.Name == model.SectionExecutiveSummary {
			idx = i
			break
		}
	}
	if idx < 0 || out[idx].Fallback {
		return out, nil
	}

	s := out[idx]
	text := dedupeSentences(s.Text)
	var warnings []string
	if r != nil {
		refined, err := r.Refine(ctx, model.Section{Name: s.Name, Title: s.Title, Text: text})
		switch {
		case err != nil:
			zap.L().Warn("refine: executive refinement failed", zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("executive refinement failed: %v", err))
		case refined == "":
			warnings = append(warnings, "executive refinement returned empty text")
		case !keepsMarkers(text, refined):
			warnings = append(warnings, "executive refinement dropped citation markers; kept original")
		default:
			text = refined
		}
	}
	s.Text = text
	s.Status = model.SectionStatusRefined
	out[idx] = s
	return out, warnings
}

func keepsMarkers(before, after string) bool {
	for _, m := range bracketToken.FindAllString(before, -1) {
		if !strings.Contains(after, m) {
			return false
		}
	}
	return true
}

var sentenceEnd = regexp.MustCompile(`[.!?](\s+|$)`)

// dedupeSentences removes exact repeated sentences, keeping the first.
func dedupeSentences(text string) string {
	idx := sentenceEnd.FindAllStringIndex(text, -1)
	if len(idx) < 2 {
		return text
	}
	var b strings.Builder
	seen := make(map[string]bool)
	start := 0
	for _, loc := range idx {
		sent := strings.TrimSpace(text[start:loc[1]])
		start = loc[1]
		if sent == "" || seen[sent] {
			continue
		}
		seen[sent] = true
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sent)
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" && !seen[tail] {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(tail)
	}
	return b.String()
}
