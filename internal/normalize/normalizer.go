// Package normalize merges listing metadata, detail page content and the
// asset manifest into one canonical, schema-checked product record.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// transientKeys are consumed by asset retrieval and never reach the
// canonical record.
var transientKeys = []string{"img_src", "pdf_src", "drawings"}

var transientPerformanceKeys = []string{"performance_curves", "associated_urls"}

// Normalizer builds canonical records.
type Normalizer struct {
	validator *Validator
	logger    *zap.Logger
}

// New builds a Normalizer with the embedded canonical schema.
func New(logger *zap.Logger) (*Normalizer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Normalizer{validator: v, logger: logger.Named("normalize")}, nil
}

// Normalize never drops a record: when validation fails the cleaned record
// is returned unvalidated, with the violations attached.
func (n *Normalizer) Normalize(raw harvest.RawDetailRecord, stubMetadata map[string]any, manifest harvest.AssetManifest) harvest.Outcome {
	if dropped := unnumberedLines(raw.Parts); dropped > 0 {
		n.logger.Warn("malformed parts rows dropped",
			zap.String("product_id", raw.ProductID),
			zap.Int("rows", dropped),
		)
	}
	record, err := Build(raw, stubMetadata, manifest)
	if err != nil {
		n.logger.Error("record could not be assembled", zap.Error(err))
		record = StripEmpty(DeriveMetadata(stubMetadata).Map()).(map[string]any)
	}
	productID, _ := record["product_id"].(string)

	if err := n.validator.Validate(record); err != nil {
		var ve *ValidationError
		violations := []string{err.Error()}
		if errors.As(err, &ve) {
			violations = ve.Messages()
		}
		n.logger.Error("record failed schema validation",
			zap.String("product_id", productID),
			zap.Strings("violations", violations),
		)
		return harvest.Outcome{Record: record, Violations: violations}
	}

	var product harvest.CanonicalProduct
	if err := remarshal(record, &product); err != nil {
		n.logger.Error("validated record could not be decoded", zap.String("product_id", productID), zap.Error(err))
		return harvest.Outcome{Record: record, Violations: []string{err.Error()}}
	}
	return harvest.Outcome{Record: record, Product: &product}
}

// Build assembles the cleaned record without validating it.
func Build(raw harvest.RawDetailRecord, stubMetadata map[string]any, manifest harvest.AssetManifest) (map[string]any, error) {
	rawMap := map[string]any{}
	if err := remarshal(raw, &rawMap); err != nil {
		return nil, fmt.Errorf("encode raw record: %w", err)
	}
	if !manifest.IsEmpty() {
		var assets map[string]any
		if err := remarshal(manifest, &assets); err != nil {
			return nil, fmt.Errorf("encode manifest: %w", err)
		}
		rawMap["assets"] = assets
	}

	merged := Merge(DeriveMetadata(stubMetadata).Map(), rawMap)
	record, _ := StripEmpty(merged).(map[string]any)

	for _, key := range transientKeys {
		delete(record, key)
	}
	if perf, ok := record["performance"].(map[string]any); ok {
		for _, key := range transientPerformanceKeys {
			delete(perf, key)
		}
	}
	if parts, ok := record["parts"].([]any); ok {
		record["bom"] = bomToMaps(DedupBOM(bomFromMaps(parts)))
		delete(record, "parts")
	}

	record, _ = StripEmpty(record).(map[string]any)
	return record, nil
}

func remarshal(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	return nil
}
