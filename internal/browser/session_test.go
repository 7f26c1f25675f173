package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const catalogPage = `<!doctype html>
<html><body>
<ul>
  <li class="subcategory"><a href="#category=2">AC
  Motors</a></li>
  <li class="subcategory"><a href="#category=4">DC Motors</a></li>
  <li class="subcategory">Gearing</li>
</ul>
</body></html>`

func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("chrome not installed")
}

func TestCleanName(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"AC\nMotors":       "AC Motors",
		"  DC Motors \n":   "DC Motors",
		"Gear\r\nReducers": "Gear Reducers",
		"":                 "",
	}
	for in, want := range tests {
		require.Equal(t, want, CleanName(in), "input %q", in)
	}
}

func TestWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := withDefaults(Config{})
	require.Equal(t, "li.subcategory", cfg.CategorySelector)
	require.Equal(t, 30*time.Second, cfg.NavigationTimeout)
	require.Equal(t, 10*time.Second, cfg.WaitTimeout)

	cfg = withDefaults(Config{CategorySelector: "li.cat", WaitTimeout: time.Second})
	require.Equal(t, "li.cat", cfg.CategorySelector)
	require.Equal(t, time.Second, cfg.WaitTimeout)
}

func TestCloseNilSession(t *testing.T) {
	t.Parallel()

	var s *Session
	require.NoError(t, s.Close())
	require.NoError(t, (&Session{}).Close())
}

func TestSessionResolvesCategories(t *testing.T) {
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, catalogPage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := Config{CatalogURL: srv.URL + "/catalog", NavigationTimeout: 10 * time.Second, WaitTimeout: 5 * time.Second}
	err := WithSession(ctx, cfg, zap.NewNop(), func(s *Session) error {
		names, err := s.CategoryNames(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"AC Motors", "DC Motors", "Gearing"}, names)

		resolved, err := s.ResolveCategory(ctx, "DC Motors")
		require.NoError(t, err)
		require.True(t, strings.HasSuffix(resolved, "#category=4"), resolved)

		_, err = s.ResolveCategory(ctx, "Pumps")
		require.True(t, errors.Is(err, ErrCategoryNotFound))

		_, err = s.ResolveCategory(ctx, "Gearing")
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestTabOutlivesStepTimeouts(t *testing.T) {
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, catalogPage)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cfg := Config{CatalogURL: srv.URL + "/catalog", NavigationTimeout: 10 * time.Second, WaitTimeout: 5 * time.Second}
	s, err := Launch(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	tabCtx, tabCancel, err := s.newTab(ctx)
	require.NoError(t, err)
	defer tabCancel()

	_, err = s.loadCategoryTexts(tabCtx)
	require.NoError(t, err)

	// Commands after the navigation step must still reach the tab.
	stepCtx, stepCancel := context.WithTimeout(tabCtx, 2*time.Second)
	defer stepCancel()
	var location string
	require.NoError(t, chromedp.Run(stepCtx, chromedp.Location(&location)))
	require.True(t, strings.HasSuffix(location, "/catalog"), location)

	resolved, err := s.ResolveCategory(ctx, "AC Motors")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(resolved, "#category=2"), resolved)
}
