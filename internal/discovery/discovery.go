// Package discovery enumerates catalog categories through a browser session
// and every product in each category through the paginated listing API.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// ErrNoCategoryKey is returned when a category URL carries no numeric
// fragment key.
var ErrNoCategoryKey = errors.New("no category key in url")

const fragmentPrefix = "category="

// CategoryBrowser resolves category names to navigated URLs.
type CategoryBrowser interface {
	CategoryNames(ctx context.Context) ([]string, error)
	ResolveCategory(ctx context.Context, name string) (string, error)
	Close() error
}

// Launcher acquires a CategoryBrowser. The caller owns the returned value
// and must close it.
type Launcher func(ctx context.Context) (CategoryBrowser, error)

// JSONGetter issues a GET and decodes the JSON response.
type JSONGetter interface {
	GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error
}

// Config controls pagination.
type Config struct {
	BaseURL                string
	CatalogPath            string
	PageSize               int
	MaxPages               int
	MaxConsecutiveFailures int
}

// Discoverer runs one Discovery pass.
type Discoverer struct {
	cfg    Config
	launch Launcher
	api    JSONGetter
	logger *zap.Logger
}

// New builds a Discoverer.
func New(cfg Config, launch Launcher, api JSONGetter, logger *zap.Logger) *Discoverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "/catalog"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 1000
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 10000
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Discoverer{cfg: cfg, launch: launch, api: api, logger: logger.Named("discovery")}
}

// Discover returns product URLs and their stubs, index aligned, in category
// then page then match order. A setup failure yields empty results.
func (d *Discoverer) Discover(ctx context.Context) ([]string, []harvest.ProductStub) {
	categories, err := d.Categories(ctx)
	if err != nil {
		d.logger.Error("category discovery failed", zap.Error(err))
		return nil, nil
	}

	var (
		urls  []string
		stubs []harvest.ProductStub
	)
	for _, category := range categories {
		if ctx.Err() != nil {
			d.logger.Warn("discovery canceled", zap.Error(ctx.Err()))
			break
		}
		catStubs := d.Products(ctx, category.FragmentID)
		for _, stub := range catStubs {
			urls = append(urls, d.ProductURL(stub.Code))
			stubs = append(stubs, stub)
		}
		d.logger.Info("category enumerated",
			zap.String("category", category.Name),
			zap.String("key", category.FragmentID),
			zap.Int("products", len(catStubs)),
		)
	}
	d.logger.Info("discovery finished", zap.Int("products", len(urls)))
	return urls, stubs
}

// Categories acquires a browser session and resolves every category. The
// session is released before Categories returns.
func (d *Discoverer) Categories(ctx context.Context) (categories []harvest.Category, err error) {
	session, err := d.launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire browser: %w", err)
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			d.logger.Warn("failed to release browser", zap.Error(closeErr))
		}
	}()

	names, err := session.CategoryNames(ctx)
	if err != nil {
		return nil, fmt.Errorf("read category names: %w", err)
	}
	d.logger.Info("categories listed", zap.Int("count", len(names)))

	for _, name := range names {
		resolved, err := session.ResolveCategory(ctx, name)
		if err != nil {
			d.logger.Warn("category skipped", zap.String("category", name), zap.Error(err))
			continue
		}
		key, err := CategoryKey(resolved)
		if err != nil {
			d.logger.Warn("category skipped", zap.String("category", name), zap.String("url", resolved), zap.Error(err))
			continue
		}
		d.logger.Info("category resolved", zap.String("category", name), zap.String("url", resolved))
		categories = append(categories, harvest.Category{Name: name, FragmentID: key})
	}
	return categories, nil
}

// Products paginates the listing API for one category key. An empty or
// absent match list ends pagination. Request or parse failures count as a
// missed page; MaxConsecutiveFailures of them in a row also end it.
func (d *Discoverer) Products(ctx context.Context, key string) []harvest.ProductStub {
	var (
		stubs    []harvest.ProductStub
		failures int
	)
	for page := 0; page < d.cfg.MaxPages; page++ {
		if ctx.Err() != nil {
			return stubs
		}
		matches, err := d.fetchPage(ctx, key, page)
		if err != nil {
			failures++
			metrics.ObserveAPIPage(metrics.OutcomeError)
			d.logger.Warn("listing page failed",
				zap.String("category", key),
				zap.Int("page", page),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= d.cfg.MaxConsecutiveFailures {
				d.logger.Error("giving up on category", zap.String("category", key), zap.Int("page", page))
				return stubs
			}
			continue
		}
		failures = 0
		if len(matches) == 0 {
			metrics.ObserveAPIPage(metrics.OutcomeEmpty)
			d.logger.Debug("pagination finished", zap.String("category", key), zap.Int("page", page))
			return stubs
		}
		metrics.ObserveAPIPage(metrics.OutcomeOK)
		for i, match := range matches {
			code, ok := match["code"].(string)
			if !ok || strings.TrimSpace(code) == "" {
				d.logger.Warn("match without code skipped", zap.String("category", key), zap.Int("page", page), zap.Int("index", i))
				continue
			}
			stubs = append(stubs, harvest.ProductStub{Code: code, RawMetadata: match})
		}
		d.logger.Debug("listing page fetched", zap.String("category", key), zap.Int("page", page), zap.Int("matches", len(matches)))
	}
	d.logger.Warn("page ceiling reached", zap.String("category", key), zap.Int("max_pages", d.cfg.MaxPages))
	return stubs
}

type listingResponse struct {
	Results *struct {
		Matches []map[string]any `json:"matches"`
	} `json:"results"`
}

func (d *Discoverer) fetchPage(ctx context.Context, key string, page int) ([]map[string]any, error) {
	query := url.Values{}
	query.Set("include", "results")
	query.Set("language", "en-US")
	query.Set("pageIndex", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(d.cfg.PageSize))
	query.Set("category", key)

	var resp listingResponse
	if err := d.api.GetJSON(ctx, d.cfg.BaseURL+"/api/products", query, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		return nil, nil
	}
	return resp.Results.Matches, nil
}

// ProductURL builds the detail page URL for code.
func (d *Discoverer) ProductURL(code string) string {
	return d.cfg.BaseURL + d.cfg.CatalogPath + "/" + url.PathEscape(code)
}

// CategoryKey extracts the numeric key from a "#category=N" fragment.
func CategoryKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse category url: %w", err)
	}
	fragment := u.Fragment
	idx := strings.Index(fragment, fragmentPrefix)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrNoCategoryKey, rawURL)
	}
	key := fragment[idx+len(fragmentPrefix):]
	if end := strings.IndexAny(key, "&;"); end >= 0 {
		key = key[:end]
	}
	if _, err := strconv.ParseUint(key, 10, 64); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoCategoryKey, rawURL)
	}
	return key, nil
}
