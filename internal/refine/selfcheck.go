package refine

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/sells-group/synthesis-cli/internal/citation"
	"github.com/sells-group/synthesis-cli/internal/model"
)

var rawToken = regexp.MustCompile(`\[(\d+)\]`)

// SelfCheck inspects the final sections and returns warnings for leftover
// global markers, duplicated section text, uncited sections and fallbacks.
func SelfCheck(sections []model.Section, ledger *citation.Ledger) []string {
	var out []string
	seenText := make(map[string]string)
	fallbacks := 0
	for _, s := range sections {
		if s.Fallback {
			fallbacks++
			continue
		}
		for _, text := range append([]string{s.Text}, s.Items...) {
			for _, m := range rawToken.FindAllStringSubmatch(text, -1) {
				id, _ := strconv.Atoi(m[1])
				known := ledger == nil
				if !known {
					_, known = ledger.Get(id)
				}
				if known {
					out = append(out, fmt.Sprintf("section %s has an unattached citation [%d]", s.Name, id))
				}
			}
		}
		if prev, dup := seenText[s.Text]; dup && s.Text != "" {
			out = append(out, fmt.Sprintf("sections %s and %s have identical text", prev, s.Name))
		} else {
			seenText[s.Text] = s.Name
		}
	}
	if fallbacks > 0 {
		out = append(out, fmt.Sprintf("%d of %d sections used fallback content", fallbacks, len(sections)))
	}
	return out
}
