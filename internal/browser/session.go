// Package browser drives a headless Chrome instance to resolve catalog
// categories whose URLs only exist after client-side navigation.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrCategoryNotFound is returned when no category element matches a name.
var ErrCategoryNotFound = errors.New("category not found")

const locationPollInterval = 100 * time.Millisecond

// Config controls the browser session.
type Config struct {
	CatalogURL        string
	CategorySelector  string
	UserAgent         string
	NavigationTimeout time.Duration
	WaitTimeout       time.Duration
	ExecPath          string
}

// Session owns one headless browser. Every page it opens is a fresh tab.
type Session struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Launch starts the browser. A failure here is a setup failure.
func Launch(ctx context.Context, cfg Config, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run on a fresh context starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	logger.Debug("browser launched", zap.String("catalog_url", cfg.CatalogURL))

	return &Session{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// WithSession launches a session, runs fn, and closes the session on every
// exit path.
func WithSession(ctx context.Context, cfg Config, logger *zap.Logger, fn func(*Session) error) error {
	s, err := Launch(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	if s == nil || s.browserCancel == nil {
		return nil
	}
	err := chromedp.Cancel(s.browserCtx)
	s.browserCancel()
	s.allocCancel()
	s.browserCancel = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close browser: %w", err)
	}
	s.logger.Debug("browser closed")
	return nil
}

// CategoryNames loads the catalog root and returns every category's cleaned
// display name in document order.
func (s *Session) CategoryNames(ctx context.Context) ([]string, error) {
	tabCtx, cancel, err := s.newTab(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	texts, err := s.loadCategoryTexts(tabCtx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(texts))
	for _, text := range texts {
		names = append(names, CleanName(text))
	}
	return names, nil
}

// ResolveCategory opens a fresh tab, clicks the category whose cleaned name
// equals name, and returns the URL the page navigated to.
func (s *Session) ResolveCategory(ctx context.Context, name string) (string, error) {
	tabCtx, cancel, err := s.newTab(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	texts, err := s.loadCategoryTexts(tabCtx)
	if err != nil {
		return "", err
	}
	index := -1
	for i, text := range texts {
		if CleanName(text) == name {
			index = i
			break
		}
	}
	if index < 0 {
		return "", fmt.Errorf("%w: %q", ErrCategoryNotFound, name)
	}

	var nodes []*cdp.Node
	if err := chromedp.Run(tabCtx, chromedp.Nodes(s.cfg.CategorySelector, &nodes, chromedp.ByQueryAll)); err != nil {
		return "", fmt.Errorf("locate category %q: %w", name, err)
	}
	if index >= len(nodes) {
		return "", fmt.Errorf("%w: %q", ErrCategoryNotFound, name)
	}

	var before string
	if err := chromedp.Run(tabCtx, chromedp.Location(&before)); err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}

	clickCtx, clickCancel := context.WithTimeout(tabCtx, s.cfg.WaitTimeout)
	defer clickCancel()
	if err := chromedp.Run(clickCtx,
		chromedp.Click("a", chromedp.ByQuery, chromedp.FromNode(nodes[index])),
	); err != nil {
		return "", fmt.Errorf("click category %q: %w", name, err)
	}

	resolved, err := s.awaitNavigation(tabCtx, before)
	if err != nil {
		return "", fmt.Errorf("await navigation for %q: %w", name, err)
	}
	return resolved, nil
}

// newTab opens a tab bounded by the navigation and wait budgets. The tab's
// target is attached on the returned context so later per-step timeouts only
// bound their own commands.
func (s *Session) newTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	timeoutCtx, timeoutCancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout+s.cfg.WaitTimeout)
	stop := context.AfterFunc(ctx, timeoutCancel)
	cancel := func() {
		stop()
		timeoutCancel()
		tabCancel()
	}
	if err := chromedp.Run(timeoutCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open tab: %w", err)
	}
	return timeoutCtx, cancel, nil
}

func (s *Session) loadCategoryTexts(tabCtx context.Context) ([]string, error) {
	navCtx, navCancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		s.userAgentAction(),
		chromedp.Navigate(s.cfg.CatalogURL),
	); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", s.cfg.CatalogURL, err)
	}

	waitCtx, waitCancel := context.WithTimeout(tabCtx, s.cfg.WaitTimeout)
	defer waitCancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitReady(s.cfg.CategorySelector, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", s.cfg.CategorySelector, err)
	}

	var texts []string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(e => e.innerText)`, s.cfg.CategorySelector)
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(script, &texts)); err != nil {
		return nil, fmt.Errorf("read category names: %w", err)
	}
	return texts, nil
}

// awaitNavigation polls the tab location until it differs from before.
func (s *Session) awaitNavigation(tabCtx context.Context, before string) (string, error) {
	navCtx, cancel := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancel()

	ticker := time.NewTicker(locationPollInterval)
	defer ticker.Stop()
	for {
		var current string
		if err := chromedp.Run(navCtx, chromedp.Location(&current)); err != nil {
			return "", err
		}
		if current != before {
			return current, nil
		}
		select {
		case <-navCtx.Done():
			return "", navCtx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Session) userAgentAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if s.cfg.UserAgent == "" {
			return nil
		}
		if err := emulation.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// CleanName collapses line breaks in a category label into single spaces
// and trims the result.
func CleanName(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(strings.Join(strings.Split(text, "\n"), " "))
}

func withDefaults(cfg Config) Config {
	if cfg.CategorySelector == "" {
		cfg.CategorySelector = "li.subcategory"
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 30 * time.Second
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 10 * time.Second
	}
	return cfg
}
