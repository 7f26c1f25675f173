package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// Status is the outcome class of one section extraction.
type Status string

// Section extraction outcomes.
const (
	StatusOK        Status = "ok"
	StatusEmpty     Status = "empty"
	StatusMalformed Status = "malformed"
)

// SectionResult is what a SectionExtractor returns. Only an OK result
// changes the record.
type SectionResult struct {
	Status   Status
	Reason   string
	Warnings []string
	apply    func(harvest.RawDetailRecord) harvest.RawDetailRecord
}

// SectionExtractor reads one section out of a detail page.
type SectionExtractor func(doc *goquery.Document) SectionResult

func ok(apply func(harvest.RawDetailRecord) harvest.RawDetailRecord, warnings []string) SectionResult {
	return SectionResult{Status: StatusOK, Warnings: warnings, apply: apply}
}

func empty(reason string, warnings []string) SectionResult {
	return SectionResult{Status: StatusEmpty, Reason: reason, Warnings: warnings}
}

func malformed(reason string) SectionResult {
	return SectionResult{Status: StatusMalformed, Reason: reason}
}

// Apply returns rec with the section's contribution merged in.
func (r SectionResult) Apply(rec harvest.RawDetailRecord) harvest.RawDetailRecord {
	if r.Status != StatusOK || r.apply == nil {
		return rec
	}
	return r.apply(rec)
}

var registry = map[harvest.Section]SectionExtractor{
	harvest.SectionSpecs:       extractSpecs,
	harvest.SectionNameplate:   extractNameplate,
	harvest.SectionPerformance: extractPerformance,
	harvest.SectionParts:       extractParts,
	harvest.SectionAccessories: extractAccessories,
	harvest.SectionDrawings:    extractDrawings,
}

// Lookup returns the extractor registered for section.
func Lookup(section harvest.Section) (SectionExtractor, bool) {
	fn, found := registry[section]
	return fn, found
}
