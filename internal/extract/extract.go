// Package extract turns a product detail page into a RawDetailRecord.
//
// The header block is always read. The tab list then selects which section
// extractors run; each extractor is independent and reports a typed
// SectionResult instead of failing the page.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/catalog-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// PageFetcher retrieves one detail page.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (collyfetcher.Page, error)
}

// Extractor reads detail pages. It holds no per-page state and can be reused
// across pages.
type Extractor struct {
	fetcher PageFetcher
	logger  *zap.Logger
}

// New builds an Extractor.
func New(fetcher PageFetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, logger: logger.Named("extract")}
}

// Extract fetches rawURL and parses it. Any fetch or parse failure yields an
// empty record.
func (e *Extractor) Extract(ctx context.Context, rawURL string) harvest.RawDetailRecord {
	page, err := e.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		e.logger.Warn("detail page fetch failed", zap.String("url", rawURL), zap.Error(err))
		return harvest.RawDetailRecord{}
	}
	rec, err := e.Parse(page.Body)
	if err != nil {
		e.logger.Warn("detail page parse failed", zap.String("url", rawURL), zap.Error(err))
		return harvest.RawDetailRecord{}
	}
	return rec
}

// Parse extracts a record from HTML.
func (e *Extractor) Parse(body []byte) (harvest.RawDetailRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.RawDetailRecord{}, fmt.Errorf("parse html: %w", err)
	}
	return e.ParseDocument(doc), nil
}

// ParseDocument extracts a record from an already parsed page.
func (e *Extractor) ParseDocument(doc *goquery.Document) harvest.RawDetailRecord {
	rec := e.header(doc)
	for _, tab := range Tabs(doc) {
		rec = e.runSection(doc, tab, rec)
	}
	return rec
}

func (e *Extractor) runSection(doc *goquery.Document, tab string, rec harvest.RawDetailRecord) harvest.RawDetailRecord {
	section := harvest.Section(tab)
	fn, found := Lookup(section)
	if !found {
		e.logger.Warn("no extractor for section", zap.String("section", tab))
		metrics.ObserveSection(tab, "unregistered")
		return rec
	}
	result := fn(doc)
	metrics.ObserveSection(tab, string(result.Status))
	for _, w := range result.Warnings {
		e.logger.Warn("section row skipped", zap.String("section", tab), zap.String("detail", w))
	}
	switch result.Status {
	case StatusOK:
		e.logger.Debug("section extracted", zap.String("section", tab))
	case StatusEmpty:
		e.logger.Info("section empty", zap.String("section", tab), zap.String("reason", result.Reason))
	case StatusMalformed:
		e.logger.Warn("section malformed", zap.String("section", tab), zap.String("reason", result.Reason))
	}
	return result.Apply(rec)
}

// Tabs returns the lower-cased tab names listed on the page, in order.
func Tabs(doc *goquery.Document) []string {
	var names []string
	doc.Find("div.c-tab li").Each(func(_ int, li *goquery.Selection) {
		if name := strings.ToLower(singleSpaced(li.Text())); name != "" {
			names = append(names, name)
		}
	})
	return names
}

func (e *Extractor) header(doc *goquery.Document) harvest.RawDetailRecord {
	var rec harvest.RawDetailRecord

	if title := doc.Find("div.page-title").First(); title.Length() > 0 {
		rec.ProductID = singleSpaced(title.Text())
	} else {
		e.logger.Warn("page title not found")
	}

	detail := doc.Find("#catalog-detail").First()
	if detail.Length() == 0 {
		e.logger.Warn("catalog detail block not found")
		return rec
	}

	if desc := detail.Find("div.product-description").First(); desc.Length() > 0 {
		rec.Description = singleSpaced(desc.Text())
	} else {
		e.logger.Info("product description not found")
	}

	info := map[string]string{}
	detail.Find("table.detail-table tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		if key := strings.ToLower(singleSpaced(th.Text())); key != "" {
			info[key] = joinedText(td, " ")
		}
	})
	if len(info) > 0 {
		rec.Info = info
	} else {
		e.logger.Info("detail table not found")
	}

	if src, found := detail.Find("img.product-image, .product-image img").First().Attr("src"); found && strings.TrimSpace(src) != "" {
		rec.ImgSrc = strings.TrimSpace(src)
	} else {
		e.logger.Info("product image not found")
	}

	if href := infoPacketHref(detail); href != "" {
		rec.PdfSrc = href
	} else {
		e.logger.Debug("information packet not found")
	}
	return rec
}

// infoPacketHref finds the information packet link by href or link text.
func infoPacketHref(detail *goquery.Selection) string {
	var href string
	detail.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		candidate := strings.TrimSpace(a.AttrOr("href", ""))
		text := strings.ToLower(singleSpaced(a.Text()))
		if strings.Contains(strings.ToLower(candidate), "infopacket") || strings.Contains(text, "info packet") || strings.Contains(text, "information packet") {
			href = candidate
			return false
		}
		return true
	})
	return href
}
