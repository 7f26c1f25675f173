// Package assets resolves the binary assets referenced by a raw detail record
// and stores them under a per-product directory.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/httpclient"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Asset kinds used in logs and metrics.
const (
	KindImage       = "image"
	KindManual      = "manual"
	KindPerformance = "performance"
	KindRender      = "render"
	KindCAD         = "cad"
)

const imageDisplayParams = "bc=white&as=1&w=1920&h=0"

var invalidPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

// Sanitize replaces characters that are invalid in file paths with "_".
// Names made only of dots become "_" so they cannot address a parent or the
// current directory.
func Sanitize(name string) string {
	name = invalidPathChars.ReplaceAllString(name, "_")
	if name != "" && strings.Trim(name, ".") == "" {
		return "_"
	}
	return name
}

// Downloader fetches one URL into memory.
type Downloader interface {
	Download(ctx context.Context, rawURL string, large bool) (httpclient.Payload, error)
}

// Retriever downloads assets and reports where they were written.
type Retriever struct {
	baseURL string
	client  Downloader
	store   harvest.BlobStore
	logger  *zap.Logger
}

// New builds a Retriever. baseURL is the catalog origin.
func New(baseURL string, client Downloader, store harvest.BlobStore, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		store:   store,
		logger:  logger.Named("assets"),
	}
}

type job struct {
	kind string
	url  string
	name string
}

// Retrieve downloads every asset rec references. Failed downloads are
// logged and left out of the manifest.
func (r *Retriever) Retrieve(ctx context.Context, rec harvest.RawDetailRecord) harvest.AssetManifest {
	var manifest harvest.AssetManifest
	if strings.TrimSpace(rec.ProductID) == "" {
		r.logger.Warn("record has no product id; assets skipped")
		return manifest
	}
	dir := path.Join("assets", Sanitize(rec.ProductID))
	logger := r.logger.With(zap.String("product_id", rec.ProductID))

	for _, j := range r.plan(rec) {
		if ctx.Err() != nil {
			logger.Warn("asset retrieval canceled", zap.Error(ctx.Err()))
			break
		}
		rel := path.Join(dir, j.name)
		if err := r.fetch(ctx, j, rel); err != nil {
			metrics.ObserveAsset(j.kind, metrics.OutcomeFailed, 0)
			logger.Warn("asset download failed", zap.String("kind", j.kind), zap.String("url", j.url), zap.Error(err))
			continue
		}
		logger.Debug("asset stored", zap.String("kind", j.kind), zap.String("path", rel))
		switch j.kind {
		case KindImage:
			manifest.Image = rel
		case KindManual:
			manifest.Manual = rel
		case KindPerformance:
			manifest.Performance = append(manifest.Performance, rel)
		case KindRender:
			manifest.Renders = append(manifest.Renders, rel)
		case KindCAD:
			manifest.CADs = append(manifest.CADs, rel)
		}
	}
	return manifest
}

// largeDownload reports whether a destination file gets the long document
// timeout.
func largeDownload(name string) bool {
	return strings.EqualFold(path.Ext(name), ".pdf")
}

func (r *Retriever) fetch(ctx context.Context, j job, rel string) error {
	payload, err := r.client.Download(ctx, j.url, largeDownload(j.name))
	if err != nil {
		return err
	}
	contentType := payload.ContentType
	if contentType == "" {
		contentType = contentTypeFor(j.name)
	}
	if _, err := r.store.PutObject(ctx, rel, contentType, bytes.NewReader(payload.Body)); err != nil {
		return fmt.Errorf("store %s: %w", rel, err)
	}
	metrics.ObserveAsset(j.kind, metrics.OutcomeOK, len(payload.Body))
	return nil
}

// plan lists the downloads rec calls for, in retrieval order, with their
// destination file names.
func (r *Retriever) plan(rec harvest.RawDetailRecord) []job {
	var jobs []job
	if rec.ImgSrc != "" {
		jobs = append(jobs, job{kind: KindImage, url: r.ImageURL(rec.ImgSrc), name: "img.jpg"})
	}
	if rec.PdfSrc != "" {
		jobs = append(jobs, job{kind: KindManual, url: r.resolve(rec.PdfSrc), name: "manual.pdf"})
	}
	for i, doc := range rec.Performance.DocumentURLs() {
		jobs = append(jobs, job{kind: KindPerformance, url: r.resolve(doc), name: fmt.Sprintf("performance_curve_%d.pdf", i)})
	}
	if rec.Drawings != nil {
		for i, img := range rec.Drawings.Images {
			jobs = append(jobs, job{kind: KindRender, url: r.RenderURL(rec.ProductID, img.Number), name: fmt.Sprintf("render_%d.pdf", i)})
		}
		used := map[string]int{}
		for i, cad := range rec.Drawings.CADs {
			jobs = append(jobs, job{kind: KindCAD, url: r.CADURL(cad.Value, cad.URL), name: cadFileName(cad, i, used)})
		}
	}
	return jobs
}

// ImageURL builds the display image URL for an img_src reference.
func (r *Retriever) ImageURL(imgSrc string) string {
	u := r.resolve(imgSrc)
	if strings.Contains(u, "?") {
		return u + "&" + imageDisplayParams
	}
	return u + "?" + imageDisplayParams
}

// RenderURL builds the drawing render URL for a product and drawing number.
func (r *Retriever) RenderURL(code, number string) string {
	return r.baseURL + "/api/products/" + url.PathEscape(code) + "/drawings/" + url.PathEscape(number)
}

// CADURL builds the CAD download URL. Both parameters are percent-encoded.
func (r *Retriever) CADURL(value, original string) string {
	return r.baseURL + "/api/products/download/?value=" + percentEncode(value) + "&url=" + percentEncode(original)
}

func (r *Retriever) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return r.baseURL + ref
}

// percentEncode escapes every reserved character, spaces as %20.
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// cadFileName is "{sanitized name}.{extension of value}". Repeated names get
// the descriptor index appended.
func cadFileName(cad harvest.CADDescriptor, index int, used map[string]int) string {
	base := strings.TrimSpace(Sanitize(cad.Name))
	if base == "" {
		base = fmt.Sprintf("cad_%d", index)
	}
	ext := "bin"
	if dot := strings.LastIndex(cad.Value, "."); dot >= 0 && dot < len(cad.Value)-1 {
		ext = Sanitize(cad.Value[dot+1:])
	}
	name := base + "." + ext
	if used[name] > 0 {
		name = fmt.Sprintf("%s_%d.%s", base, index, ext)
	}
	used[name]++
	return name
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".pdf":
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}
