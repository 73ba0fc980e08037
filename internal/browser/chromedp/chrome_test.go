package chromedp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
)

// requireChrome skips tests that need a real Chrome binary.
func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"headless_shell", "headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("chrome not installed")
}

func TestPageOutlivesNewPage(t *testing.T) {
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html><body><input id="email"><button id="go">Go</button><p>%s</p></body></html>`, r.URL.Path)
	}))
	t.Cleanup(srv.Close)

	engine, err := Launch(context.Background(), browser.Options{Headless: true, NavigationTimeout: 15 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	// A short-lived ctx for NewPage must not bound the tab afterwards.
	openCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	page, err := engine.NewPage(openCtx)
	cancel()
	require.NoError(t, err)
	require.False(t, page.Closed())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	require.NoError(t, page.Navigate(ctx, srv.URL+"/signin"))
	loc, err := page.Location(ctx)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/signin", loc)

	require.NoError(t, page.Fill(ctx, "#email", "ops@example.com"))
	var value string
	require.NoError(t, page.Evaluate(ctx, `document.querySelector("#email").value`, &value))
	require.Equal(t, "ops@example.com", value)

	var sum int
	require.NoError(t, page.Evaluate(ctx, `Promise.resolve(40 + 2)`, &sum))
	require.Equal(t, 42, sum)

	require.NoError(t, page.Close())
	require.True(t, page.Closed())
	require.ErrorIs(t, page.Navigate(ctx, srv.URL), browser.ErrPageClosed)
}
