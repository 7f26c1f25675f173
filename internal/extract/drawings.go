package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// arrayStartPattern marks where a JSON array of objects begins inside an
// ng-init expression.
var arrayStartPattern = regexp.MustCompile(`\[\s*\{`)

func extractDrawings(doc *goquery.Document) SectionResult {
	p := pane(doc, string(harvest.SectionDrawings))
	if p.Length() == 0 {
		return empty("drawings pane not found", nil)
	}
	holder := firstMatch(p, "[ng-init]")
	if holder.Length() == 0 {
		return empty("no ng-init payload", nil)
	}
	blocks, err := decodeArrays(holder.AttrOr("ng-init", ""))
	if err != nil {
		return malformed(err.Error())
	}
	if len(blocks) == 0 {
		return empty("no json arrays in ng-init", nil)
	}

	drawings := harvest.Drawings{}
	for _, items := range blocks {
		for _, item := range items {
			fields := lowerKeys(item)
			if url := fields["url"]; url != "" {
				drawings.CADs = append(drawings.CADs, harvest.CADDescriptor{
					Name:     fields["name"],
					FileType: fields["filetype"],
					Value:    fields["value"],
					URL:      url,
					CAD:      fields["cad"],
					Version:  fields["version"],
				})
			}
			if number := fields["number"]; number != "" {
				drawings.Images = append(drawings.Images, harvest.ImageDescriptor{
					Number:      number,
					Description: fields["description"],
					Kind:        fields["kind"],
					Material:    fields["material"],
					Revision:    fields["revision"],
					URL:         fields["url"],
				})
			}
		}
	}
	if len(drawings.Images) == 0 && len(drawings.CADs) == 0 {
		return empty("no usable drawing descriptors", nil)
	}
	return ok(func(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
		rec.Drawings = &drawings
		return rec
	}, nil)
}

// decodeArrays decodes every JSON array of objects embedded in expr, in
// order. Each array is decoded in full, so nested arrays and brackets inside
// strings do not end a block early.
func decodeArrays(expr string) ([][]map[string]any, error) {
	var blocks [][]map[string]any
	for pos := 0; pos < len(expr); {
		loc := arrayStartPattern.FindStringIndex(expr[pos:])
		if loc == nil {
			break
		}
		start := pos + loc[0]
		dec := json.NewDecoder(strings.NewReader(expr[start:]))
		var items []map[string]any
		if err := dec.Decode(&items); err != nil {
			return nil, fmt.Errorf("drawings block %d: %w", len(blocks), err)
		}
		blocks = append(blocks, items)
		pos = start + int(dec.InputOffset())
	}
	return blocks, nil
}

// lowerKeys flattens scalar values to strings under lower-cased keys.
func lowerKeys(item map[string]any) map[string]string {
	out := make(map[string]string, len(item))
	for k, v := range item {
		var s string
		switch t := v.(type) {
		case string:
			s = strings.TrimSpace(t)
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(t)
		default:
			continue
		}
		out[strings.ToLower(k)] = s
	}
	return out
}
