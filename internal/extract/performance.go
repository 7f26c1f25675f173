package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

const (
	headingGeneral = "general characteristics"
	headingLoad    = "load characteristics"
	headingCurves  = "performance curves"
	headingTags    = "h1, h2, h3, h4, h5"
)

func isKnownHeading(text string) bool {
	switch strings.ToLower(singleSpaced(text)) {
	case headingGeneral, headingLoad, headingCurves:
		return true
	}
	return false
}

func extractPerformance(doc *goquery.Document) SectionResult {
	p := pane(doc, string(harvest.SectionPerformance))
	if p.Length() == 0 {
		return empty("performance pane not found", nil)
	}
	perf := harvest.Performance{}

	p.Find("h2").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if isKnownHeading(h.Text()) {
			return true
		}
		perf.Description = singleSpaced(h.Text())
		return perf.Description == ""
	})
	perf.Observation = singleSpaced(p.Find("em").First().Text())

	found := false
	p.Find(headingTags).Each(func(_ int, h *goquery.Selection) {
		body := h.NextUntil(headingTags)
		switch strings.ToLower(singleSpaced(h.Text())) {
		case headingGeneral:
			found = true
			perf.GeneralCharacteristics = labelValueGrid(body, perf.GeneralCharacteristics)
		case headingLoad:
			found = true
			perf.LoadMetric, perf.LoadCharacteristics = loadMatrix(firstMatch(body, "table"))
		case headingCurves:
			found = true
			perf.PerformanceCurves = append(perf.PerformanceCurves, hrefs(body)...)
			body.Filter("a[href]").Each(func(_ int, a *goquery.Selection) {
				if href := strings.TrimSpace(a.AttrOr("href", "")); href != "" {
					perf.PerformanceCurves = append(perf.PerformanceCurves, href)
				}
			})
		}
	})
	if !found {
		perf.AssociatedURLs = hrefs(p)
	}
	if len(perf.GeneralCharacteristics) == 0 {
		perf.GeneralCharacteristics = nil
	}

	if perf.Description == "" && perf.Observation == "" && perf.GeneralCharacteristics == nil &&
		len(perf.LoadCharacteristics) == 0 && len(perf.PerformanceCurves) == 0 && len(perf.AssociatedURLs) == 0 {
		return empty("performance pane empty", nil)
	}
	return ok(func(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
		rec.Performance = &perf
		return rec
	}, nil)
}

// firstMatch returns the first element matching selector among s or its
// descendants.
func firstMatch(s *goquery.Selection, selector string) *goquery.Selection {
	if direct := s.Filter(selector).First(); direct.Length() > 0 {
		return direct
	}
	return s.Find(selector).First()
}

// loadMatrix reads a table whose first header cell names the row metric and
// whose remaining header cells name columns.
func loadMatrix(table *goquery.Selection) (string, map[string]map[string]string) {
	if table.Length() == 0 {
		return "", nil
	}
	var (
		metric  string
		columns []string
		matrix  = map[string]map[string]string{}
	)
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if columns == nil && row.ChildrenFiltered("td").Length() == 0 {
			headers := row.ChildrenFiltered("th")
			if headers.Length() == 0 {
				return
			}
			headers.Each(func(i int, th *goquery.Selection) {
				text := singleSpaced(th.Text())
				if i == 0 {
					metric = text
					return
				}
				columns = append(columns, text)
			})
			if columns == nil {
				columns = []string{}
			}
			return
		}
		cells := row.ChildrenFiltered("th, td")
		if cells.Length() == 0 {
			return
		}
		label := singleSpaced(cells.First().Text())
		if label == "" {
			return
		}
		values := map[string]string{}
		cells.Slice(1, cells.Length()).Each(func(i int, cell *goquery.Selection) {
			if i < len(columns) && columns[i] != "" {
				values[columns[i]] = singleSpaced(cell.Text())
			}
		})
		matrix[label] = values
	})
	if len(matrix) == 0 {
		return metric, nil
	}
	return metric, matrix
}
