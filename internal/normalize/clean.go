package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// BOMUnit is the unit suffix written on deduplicated quantities.
const BOMUnit = "EA"

// StripEmpty recursively removes nil values, empty strings, empty lists and
// empty maps. Containers that become empty after cleaning are removed too.
func StripEmpty(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			cleaned := StripEmpty(val)
			if !isEmpty(cleaned) {
				out[k] = cleaned
			}
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, val := range t {
			cleaned := StripEmpty(val)
			if !isEmpty(cleaned) {
				out = append(out, cleaned)
			}
		}
		return out
	default:
		return v
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// Merge overlays raw on derived. Raw keys win on collision.
func Merge(derived, raw map[string]any) map[string]any {
	out := make(map[string]any, len(derived)+len(raw))
	for k, v := range derived {
		out[k] = v
	}
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// DedupBOM sums quantities per part number, keeping first-occurrence order
// and the last description seen. Lines without a part number are dropped.
func DedupBOM(lines []harvest.BOMLine) []harvest.BOMLine {
	type group struct {
		description string
		quantity    float64
	}
	var order []string
	groups := map[string]*group{}
	for _, line := range lines {
		line.PartNumber = strings.TrimSpace(line.PartNumber)
		if line.PartNumber == "" {
			continue
		}
		g, found := groups[line.PartNumber]
		if !found {
			g = &group{}
			groups[line.PartNumber] = g
			order = append(order, line.PartNumber)
		}
		g.description = line.Description
		g.quantity += quantityMagnitude(line.Quantity)
	}
	out := make([]harvest.BOMLine, 0, len(order))
	for _, pn := range order {
		g := groups[pn]
		out = append(out, harvest.BOMLine{
			PartNumber:  pn,
			Description: g.description,
			Quantity:    fmt.Sprintf("%.3f %s", g.quantity, BOMUnit),
		})
	}
	return out
}

// unnumberedLines counts parts rows DedupBOM will drop.
func unnumberedLines(lines []harvest.BOMLine) int {
	n := 0
	for _, line := range lines {
		if strings.TrimSpace(line.PartNumber) == "" {
			n++
		}
	}
	return n
}

// quantityMagnitude parses the leading decimal token of q. Anything
// unparsable counts as zero.
func quantityMagnitude(q string) float64 {
	fields := strings.Fields(q)
	if len(fields) == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return v
}

// bomFromMaps converts decoded parts rows back into lines.
func bomFromMaps(parts []any) []harvest.BOMLine {
	lines := make([]harvest.BOMLine, 0, len(parts))
	for _, p := range parts {
		row, ok := p.(map[string]any)
		if !ok {
			continue
		}
		pn, _ := row["part_number"].(string)
		desc, _ := row["description"].(string)
		qty, _ := row["quantity"].(string)
		lines = append(lines, harvest.BOMLine{PartNumber: pn, Description: desc, Quantity: qty})
	}
	return lines
}

func bomToMaps(lines []harvest.BOMLine) []any {
	out := make([]any, 0, len(lines))
	for _, l := range lines {
		out = append(out, map[string]any{
			"part_number": l.PartNumber,
			"description": l.Description,
			"quantity":    l.Quantity,
		})
	}
	return out
}
