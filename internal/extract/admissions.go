package extract

import (
	"strconv"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/clip-harvester/internal/clip"
)

// AdmissionRow is one placed candidate of an admission phase.
type AdmissionRow struct {
	Name       string
	ExternalID string
	Option     *int
	State      string
}

const (
	admissionNameCell   = 0
	admissionOptionCell = 4
	admissionIDCell     = 5
	admissionStateCell  = 6
)

// Admissions reads the placement table of an admission phase page.
// A page without the table yields ErrNoData; bad rows come back as warnings.
func Admissions(doc *Document) ([]AdmissionRow, []error, error) {
	header := doc.Find(`th[colspan="8"][bgcolor="#95AEA8"]`).First()
	if header.Length() == 0 {
		return nil, nil, ErrNoData
	}
	table := header.Closest("table")

	var (
		rows     []AdmissionRow
		warnings []error
	)
	table.Find("tr").Each(func(i int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		cells := tr.ChildrenFiltered("td")
		if cells.Length() <= admissionStateCell {
			warnings = append(warnings, clip.RowError("extract.Admissions", "row %d has %d cells", i, cells.Length()))
			return
		}
		row := AdmissionRow{
			Name:       cleanText(cells.Eq(admissionNameCell).Text()),
			ExternalID: cleanText(cells.Eq(admissionIDCell).Text()),
			State:      cleanText(cells.Eq(admissionStateCell).Text()),
		}
		if row.Name == "" {
			warnings = append(warnings, clip.RowError("extract.Admissions", "row %d has no name", i))
			return
		}
		if raw := cleanText(cells.Eq(admissionOptionCell).Text()); raw != "" {
			option, err := strconv.Atoi(raw)
			if err != nil {
				warnings = append(warnings, clip.RowError("extract.Admissions", "row %d option %q: %v", i, raw, err))
				return
			}
			row.Option = &option
		}
		rows = append(rows, row)
	})
	return rows, warnings, nil
}
