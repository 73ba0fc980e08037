// Package browser defines the page capability the session layer drives and
// the helpers shared by its drivers.
package browser

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrPageClosed is returned by operations on a page that has gone away.
	ErrPageClosed = errors.New("browser page closed")
	// ErrTimeout marks operations that exceeded their deadline.
	ErrTimeout = errors.New("browser operation timed out")
)

// Page is one remote browser tab.
type Page interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// Location reports the current URL.
	Location(ctx context.Context) (string, error)
	// Fill waits for selector and types value into it.
	Fill(ctx context.Context, selector, value string) error
	// Click waits for selector and clicks it.
	Click(ctx context.Context, selector string) error
	// Evaluate runs script in the page, awaiting a returned promise, and
	// decodes the JSON result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Closed reports whether the page can no longer be used.
	Closed() bool
	// Close releases the tab.
	Close() error
}

// Engine owns a running browser.
type Engine interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Options configures an engine launch.
type Options struct {
	Headless          bool
	UserDataDir       string
	ViewportWidth     int
	ViewportHeight    int
	UserAgent         string
	NavigationTimeout time.Duration
	// InstallDriver downloads driver binaries before launch (playwright only).
	InstallDriver bool
}

// Launcher starts an engine.
type Launcher func(ctx context.Context, opts Options) (Engine, error)

// DefaultNavigationTimeout applies when Options leaves it unset.
const DefaultNavigationTimeout = 180 * time.Second

// NavTimeout returns the configured navigation bound or the default.
func (o Options) NavTimeout() time.Duration {
	if o.NavigationTimeout > 0 {
		return o.NavigationTimeout
	}
	return DefaultNavigationTimeout
}

// Viewport returns the configured viewport, defaulting to 1280x720.
func (o Options) Viewport() (int, int) {
	w, h := o.ViewportWidth, o.ViewportHeight
	if w <= 0 {
		w = 1280
	}
	if h <= 0 {
		h = 720
	}
	return w, h
}
