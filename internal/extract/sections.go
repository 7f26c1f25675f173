package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

func extractSpecs(doc *goquery.Document) SectionResult {
	p := pane(doc, string(harvest.SectionSpecs))
	if p.Length() == 0 {
		return empty("specs pane not found", nil)
	}
	specs := map[string]string{}
	p.Find("div.col").Each(func(_ int, col *goquery.Selection) {
		labelValueGrid(col, specs)
	})
	if len(specs) == 0 {
		return empty("no label/value pairs", nil)
	}
	return ok(func(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
		rec.Specs = specs
		return rec
	}, nil)
}

func extractNameplate(doc *goquery.Document) SectionResult {
	p := pane(doc, string(harvest.SectionNameplate))
	if p.Length() == 0 {
		return empty("nameplate pane not found", nil)
	}
	plate := harvest.Nameplate{Fields: map[string]string{}}
	p.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("th, td")
		if cells.Length() == 0 {
			return
		}
		if fields, paired := headerValuePairs(cells); paired {
			for k, v := range fields {
				plate.Fields[k] = v
			}
			return
		}
		var parts []string
		cells.Each(func(_ int, cell *goquery.Selection) {
			if text := singleSpaced(cell.Text()); text != "" {
				parts = append(parts, text)
			}
		})
		if len(parts) > 0 {
			plate.Extras = append(plate.Extras, strings.Join(parts, " "))
		}
	})
	if len(plate.Fields) == 0 && len(plate.Extras) == 0 {
		return empty("nameplate table empty", nil)
	}
	return ok(func(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
		rec.Nameplate = &plate
		return rec
	}, nil)
}

// headerValuePairs reports whether cells alternate th, td and returns them
// as a map.
func headerValuePairs(cells *goquery.Selection) (map[string]string, bool) {
	if cells.Length() < 2 || cells.Length()%2 != 0 {
		return nil, false
	}
	fields := map[string]string{}
	paired := true
	cells.EachWithBreak(func(i int, cell *goquery.Selection) bool {
		want := "th"
		if i%2 == 1 {
			want = "td"
		}
		if goquery.NodeName(cell) != want {
			paired = false
			return false
		}
		if i%2 == 1 {
			key := singleSpaced(cells.Eq(i - 1).Text())
			if key != "" {
				fields[key] = singleSpaced(cell.Text())
			}
		}
		return true
	})
	return fields, paired
}

// threeColumnRows reads the td rows of a section table. Rows without
// exactly three cells are reported as warnings and skipped.
func threeColumnRows(p *goquery.Selection, section string) ([][3]string, []string) {
	var (
		rows     [][3]string
		warnings []string
	)
	p.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return
		}
		if cells.Length() != 3 {
			warnings = append(warnings, fmt.Sprintf("%s row %d has %d cells", section, i, cells.Length()))
			return
		}
		var line [3]string
		cells.Each(func(j int, cell *goquery.Selection) {
			line[j] = singleSpaced(cell.Text())
		})
		rows = append(rows, line)
	})
	return rows, warnings
}

func extractParts(doc *goquery.Document) SectionResult {
	p := pane(doc, string(harvest.SectionParts))
	if p.Length() == 0 {
		return empty("parts pane not found", nil)
	}
	rows, warnings := threeColumnRows(p, string(harvest.SectionParts))
	if len(rows) == 0 {
		return empty("no parts rows", warnings)
	}
	lines := make([]harvest.BOMLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, harvest.BOMLine{PartNumber: row[0], Description: row[1], Quantity: row[2]})
	}
	return ok(func(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
		rec.Parts = lines
		return rec
	}, warnings)
}

func extractAccessories(doc *goquery.Document) SectionResult {
	p := pane(doc, string(harvest.SectionAccessories))
	if p.Length() == 0 {
		return empty("accessories pane not found", nil)
	}
	rows, warnings := threeColumnRows(p, string(harvest.SectionAccessories))
	if len(rows) == 0 {
		return empty("no accessories rows", warnings)
	}
	lines := make([]harvest.AccessoryLine, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, harvest.AccessoryLine{PartNumber: row[0], Description: row[1], ListPrice: row[2]})
	}
	return ok(func(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
		rec.Accessories = lines
		return rec
	}, warnings)
}
