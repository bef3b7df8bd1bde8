package render

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/synthesis-cli/internal/model"
)

var citationHeader = []string{
	"ID", "URL", "Title", "Publisher", "Year", "Domain", "Source Type",
	"Confidence", "Low Confidence", "Suppressed", "Modules",
}

// CitationsWorkbook builds a workbook with a Citations sheet and a Sections
// sheet mapping each section to the citation ids it uses.
func CitationsWorkbook(b *model.SynthesisBundle) (*xlsx.File, error) {
	f := xlsx.NewFile()

	cs, err := f.AddSheet("Citations")
	if err != nil {
		return nil, eris.Wrap(err, "render: add citations sheet")
	}
	addRow(cs, citationHeader...)
	for _, c := range b.Citations.Sources {
		addRow(cs,
			strconv.Itoa(c.ID), c.URL, c.Title, c.Publisher, yearString(c.Year), c.Domain,
			string(c.SourceType), strconv.FormatFloat(c.Confidence, 'f', 2, 64),
			strconv.FormatBool(c.LowConfidence), strconv.FormatBool(c.Suppressed),
			strings.Join(c.Provenance, ", "),
		)
	}

	ss, err := f.AddSheet("Sections")
	if err != nil {
		return nil, eris.Wrap(err, "render: add sections sheet")
	}
	addRow(ss, "Section", "Fallback", "Citation IDs")
	for _, s := range b.Sections {
		ids := make([]string, 0, len(b.Citations.Sections[s.Name]))
		for _, id := range b.Citations.Sections[s.Name] {
			ids = append(ids, strconv.Itoa(id))
		}
		addRow(ss, s.Name, strconv.FormatBool(s.Fallback), strings.Join(ids, ", "))
	}
	return f, nil
}

// WriteCitationsWorkbook writes the workbook for b to w.
func WriteCitationsWorkbook(w io.Writer, b *model.SynthesisBundle) error {
	f, err := CitationsWorkbook(b)
	if err != nil {
		return err
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "render: write workbook")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells ...string) {
	row := sheet.AddRow()
	for _, v := range cells {
		row.AddCell().SetString(v)
	}
}

func yearString(y int) string {
	if y == 0 {
		return ""
	}
	return strconv.Itoa(y)
}
