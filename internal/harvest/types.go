package harvest

import (
	"encoding/json"
	"fmt"
	"time"
)

// Section names a tab on a product detail page.
type Section string

// Known detail page sections.
const (
	SectionSpecs       Section = "specs"
	SectionNameplate   Section = "nameplate"
	SectionPerformance Section = "performance"
	SectionParts       Section = "parts"
	SectionAccessories Section = "accessories"
	SectionDrawings    Section = "drawings"
)

// Product status values emitted on canonical records.
const (
	StatusActive       = "active"
	StatusDiscontinued = "discontinued"
)

// Category identifies one catalog partition.
type Category struct {
	Name       string
	FragmentID string
}

// ProductStub is one match returned by the product listing API. RawMetadata
// is carried untouched until normalization.
type ProductStub struct {
	Code        string
	RawMetadata map[string]any
}

// RawDetailRecord accumulates everything read from a product detail page.
// A section field is set only when its extractor produced at least one value.
type RawDetailRecord struct {
	ProductID   string            `json:"product_id,omitempty"`
	Description string            `json:"description,omitempty"`
	ImgSrc      string            `json:"img_src,omitempty"`
	PdfSrc      string            `json:"pdf_src,omitempty"`
	Info        map[string]string `json:"info,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Nameplate   *Nameplate        `json:"nameplate,omitempty"`
	Performance *Performance      `json:"performance,omitempty"`
	Parts       []BOMLine         `json:"parts,omitempty"`
	Accessories []AccessoryLine   `json:"accessories,omitempty"`
	Drawings    *Drawings         `json:"drawings,omitempty"`
}

// IsEmpty reports whether nothing at all was extracted.
func (r RawDetailRecord) IsEmpty() bool {
	return r.ProductID == "" &&
		r.Description == "" &&
		r.ImgSrc == "" &&
		r.PdfSrc == "" &&
		len(r.Info) == 0 &&
		len(r.Specs) == 0 &&
		r.Nameplate == nil &&
		r.Performance == nil &&
		len(r.Parts) == 0 &&
		len(r.Accessories) == 0 &&
		r.Drawings == nil
}

// Nameplate holds the transcribed identification plate. Rows that are not a
// header/value pair end up in Extras.
type Nameplate struct {
	Fields map[string]string
	Extras []string
}

// ExtrasKey is the key free-text nameplate rows are serialized under.
const ExtrasKey = "EXTRAS"

// MarshalJSON flattens the nameplate into a single object.
func (n Nameplate) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(n.Fields)+1)
	for k, v := range n.Fields {
		out[k] = v
	}
	if len(n.Extras) > 0 {
		out[ExtrasKey] = n.Extras
	}
	return json.Marshal(out)
}

// Performance is the performance tab content.
type Performance struct {
	Description            string                       `json:"description,omitempty"`
	Observation            string                       `json:"observation,omitempty"`
	GeneralCharacteristics map[string]string            `json:"general_characteristics,omitempty"`
	LoadMetric             string                       `json:"load_metric,omitempty"`
	LoadCharacteristics    map[string]map[string]string `json:"load_characteristics,omitempty"`
	PerformanceCurves      []string                     `json:"performance_curves,omitempty"`
	AssociatedURLs         []string                     `json:"associated_urls,omitempty"`
}

// DocumentURLs returns the downloadable documents in download order.
func (p *Performance) DocumentURLs() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.AssociatedURLs)+len(p.PerformanceCurves))
	out = append(out, p.AssociatedURLs...)
	return append(out, p.PerformanceCurves...)
}

// BOMLine is one bill-of-materials row.
type BOMLine struct {
	PartNumber  string `json:"part_number"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
}

// AccessoryLine is one accessories row.
type AccessoryLine struct {
	PartNumber  string `json:"part_number"`
	Description string `json:"description"`
	ListPrice   string `json:"list_price"`
}

// Drawings holds the descriptors decoded from the drawings tab.
type Drawings struct {
	Images []ImageDescriptor `json:"imgs,omitempty"`
	CADs   []CADDescriptor   `json:"cads,omitempty"`
}

// ImageDescriptor describes one rendered drawing. Number is never empty.
type ImageDescriptor struct {
	Number      string `json:"number"`
	Description string `json:"description,omitempty"`
	Kind        string `json:"kind,omitempty"`
	Material    string `json:"material,omitempty"`
	Revision    string `json:"revision,omitempty"`
	URL         string `json:"url,omitempty"`
}

// CADDescriptor describes one downloadable CAD file. URL is never empty.
type CADDescriptor struct {
	Name     string `json:"name,omitempty"`
	FileType string `json:"filetype,omitempty"`
	Value    string `json:"value,omitempty"`
	URL      string `json:"url"`
	CAD      string `json:"cad,omitempty"`
	Version  string `json:"version,omitempty"`
}

// PathList is a list of relative asset paths. A single entry serializes as a
// bare string.
type PathList []string

// MarshalJSON collapses one-element lists.
func (p PathList) MarshalJSON() ([]byte, error) {
	if len(p) == 1 {
		return json.Marshal(p[0])
	}
	return json.Marshal([]string(p))
}

// UnmarshalJSON accepts either a bare string or a list of strings.
func (p *PathList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*p = PathList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("path list: %w", err)
	}
	*p = many
	return nil
}

// AssetManifest lists the relative paths of every asset written for a product.
type AssetManifest struct {
	Image       string   `json:"image,omitempty"`
	Manual      string   `json:"manual,omitempty"`
	Performance PathList `json:"performance,omitempty"`
	Renders     PathList `json:"renders,omitempty"`
	CADs        PathList `json:"cads,omitempty"`
}

// IsEmpty reports whether no asset was retrieved.
func (m AssetManifest) IsEmpty() bool {
	return m.Image == "" && m.Manual == "" && len(m.Performance) == 0 && len(m.Renders) == 0 && len(m.CADs) == 0
}

// CanonicalProduct is the validated output shape.
type CanonicalProduct struct {
	ProductID   string            `json:"product_id"`
	Status      string            `json:"status"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Brand       string            `json:"brand,omitempty"`
	Category    string            `json:"category,omitempty"`
	PriceUSD    string            `json:"price_usd,omitempty"`
	Info        map[string]string `json:"info,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	BOM         []BOMLine         `json:"bom,omitempty"`
	Accessories []AccessoryLine   `json:"accessories,omitempty"`
	Nameplate   map[string]any    `json:"nameplate,omitempty"`
	Performance map[string]any    `json:"performance,omitempty"`
	Assets      *AssetManifest    `json:"assets,omitempty"`
}

// Outcome is what normalization hands to the sinks. Record is always set;
// Product is set only when Record passed schema validation.
type Outcome struct {
	Record     map[string]any
	Product    *CanonicalProduct
	Violations []string
}

// Validated reports whether the record passed schema validation.
func (o Outcome) Validated() bool {
	return o.Product != nil
}

// ProductID returns the identifier of the record, validated or not.
func (o Outcome) ProductID() string {
	if o.Product != nil {
		return o.Product.ProductID
	}
	id, _ := o.Record["product_id"].(string)
	return id
}

// Status returns the lifecycle status of the record, validated or not.
func (o Outcome) Status() string {
	if o.Product != nil {
		return o.Product.Status
	}
	status, _ := o.Record["status"].(string)
	return status
}

// Envelope is a normalized record plus the bookkeeping attached by the
// pipeline before it reaches a sink.
type Envelope struct {
	RunID       string
	Outcome     Outcome
	Digest      string
	HarvestedAt time.Time
}
