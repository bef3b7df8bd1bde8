// Package render turns drafted sections and the citation ledger into report
// documents.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/sells-group/synthesis-cli/internal/model"
)

// Document formats.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ErrEmptyDocument is returned when rendering produced no content.
var ErrEmptyDocument = eris.New("render: empty document")

// Document is everything the renderer needs.
type Document struct {
	RunID           string
	Subject         string
	Comparison      string
	Sections        []model.Section
	Citations       model.CitationOutput
	FallbackModules []string
	GeneratedAt     time.Time
}

// Render produces the markdown and HTML documents.
func Render(doc Document) (map[string]string, error) {
	if len(doc.Sections) == 0 {
		return nil, eris.Wrapf(ErrEmptyDocument, "run %s has no sections", doc.RunID)
	}
	md := Markdown(doc)
	if strings.TrimSpace(md) == "" {
		return nil, eris.Wrapf(ErrEmptyDocument, "run %s", doc.RunID)
	}
	h, err := HTML(md, title(doc))
	if err != nil {
		return nil, err
	}
	return map[string]string{FormatMarkdown: md, FormatHTML: h}, nil
}

func title(doc Document) string {
	subject := doc.Subject
	if subject == "" {
		subject = doc.RunID
	}
	if doc.Comparison != "" {
		return fmt.Sprintf("Strategic Synthesis: %s vs %s", subject, doc.Comparison)
	}
	return "Strategic Synthesis: " + subject
}

// Markdown renders the report body, references and the fallback appendix.
func Markdown(doc Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title(doc))
	if !doc.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "_Run %s, generated %s_\n\n", doc.RunID, doc.GeneratedAt.UTC().Format(time.RFC3339))
	}

	for _, s := range doc.Sections {
		fmt.Fprintf(&b, "## %s\n\n", s.Title)
		if t := strings.TrimSpace(s.Text); t != "" {
			b.WriteString(t)
			b.WriteString("\n\n")
		}
		for _, it := range s.Items {
			if it = strings.TrimSpace(it); it != "" {
				fmt.Fprintf(&b, "- %s\n", it)
			}
		}
		if len(s.Items) > 0 {
			b.WriteString("\n")
		}
	}

	writeReferences(&b, doc)
	writeFallbackAppendix(&b, doc)
	return b.String()
}

func writeReferences(b *strings.Builder, doc Document) {
	byID := make(map[int]model.Citation, len(doc.Citations.Sources))
	var visible []model.Citation
	for _, c := range doc.Citations.Sources {
		byID[c.ID] = c
		if !c.Suppressed {
			visible = append(visible, c)
		}
	}
	if len(visible) == 0 {
		return
	}

	b.WriteString("## References\n\n")
	for _, c := range visible {
		fmt.Fprintf(b, "%d. %s\n", c.ID, reference(c))
	}
	b.WriteString("\n")

	var keys []string
	for _, s := range doc.Sections {
		n := 0
		var pairs []string
		for _, id := range doc.Citations.Sections[s.Name] {
			c, ok := byID[id]
			if !ok || c.Suppressed {
				continue
			}
			n++
			pairs = append(pairs, fmt.Sprintf("%s%d = %d", model.SectionPrefix(s.Name), n, id))
		}
		if len(pairs) > 0 {
			keys = append(keys, fmt.Sprintf("- %s: %s", s.Title, strings.Join(pairs, ", ")))
		}
	}
	if len(keys) > 0 {
		b.WriteString("### Marker Key\n\n")
		b.WriteString(strings.Join(keys, "\n"))
		b.WriteString("\n\n")
	}
}

func reference(c model.Citation) string {
	var parts []string
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	pub := c.Publisher
	if pub == "" {
		pub = c.Domain
	}
	if c.Year > 0 {
		pub = fmt.Sprintf("%s, %d", pub, c.Year)
	}
	if pub != "" {
		parts = append(parts, pub)
	}
	parts = append(parts, c.URL)
	out := strings.Join(parts, ". ")
	if c.LowConfidence {
		out += " (low confidence)"
	}
	return out
}

func writeFallbackAppendix(b *strings.Builder, doc Document) {
	var sections []string
	for _, s := range doc.Sections {
		if s.Fallback {
			sections = append(sections, s.Title)
		}
	}
	if len(doc.FallbackModules) == 0 && len(sections) == 0 {
		return
	}
	b.WriteString("## Appendix: Fallback Data\n\n")
	if len(doc.FallbackModules) > 0 {
		fmt.Fprintf(b, "- Modules missing or without usable data: %s\n", strings.Join(doc.FallbackModules, ", "))
	}
	if len(sections) > 0 {
		fmt.Fprintf(b, "- Sections drafted from fallback content: %s\n", strings.Join(sections, ", "))
	}
	b.WriteString("\n")
}

var md = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithXHTML()),
)

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
</head>
<body>
%s</body>
</html>
`

// HTML converts markdown to a standalone HTML page.
func HTML(markdown, pageTitle string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(markdown), &buf); err != nil {
		return "", eris.Wrap(err, "render: markdown to html")
	}
	return fmt.Sprintf(htmlTemplate, escape(pageTitle), buf.String()), nil
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func escape(s string) string {
	return htmlEscaper.Replace(s)
}
