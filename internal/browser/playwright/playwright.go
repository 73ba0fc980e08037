// Package playwright drives Chromium through playwright-go.
package playwright

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
)

// Engine owns the playwright driver and a persistent Chromium context.
type Engine struct {
	opts    browser.Options
	pw      *playwright.Playwright
	context playwright.BrowserContext
}

// Launch starts the playwright driver and a persistent Chromium profile.
func Launch(ctx context.Context, opts browser.Options) (browser.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch playwright: %w", err)
	}
	runOpts := &playwright.RunOptions{
		Verbose: false,
		Stdout:  io.Discard,
		Stderr:  io.Discard,
	}
	if opts.InstallDriver {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	w, h := opts.Viewport()
	launchOpts := playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		Viewport: &playwright.Size{Width: w, Height: h},
	}
	if opts.UserAgent != "" {
		launchOpts.UserAgent = playwright.String(opts.UserAgent)
	}
	bctx, err := pw.Chromium.LaunchPersistentContext(opts.UserDataDir, launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	bctx.SetDefaultNavigationTimeout(millis(opts.NavTimeout()))
	return &Engine{opts: opts, pw: pw, context: bctx}, nil
}

// NewPage opens a tab in the persistent context.
func (e *Engine) NewPage(ctx context.Context) (browser.Page, error) {
	var page playwright.Page
	err := withContext(ctx, func() error {
		var err error
		page, err = e.context.NewPage()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	page.SetDefaultTimeout(millis(e.opts.NavTimeout()))
	return &Page{page: page, navTimeout: e.opts.NavTimeout()}, nil
}

// Close closes the browser context and stops the driver.
func (e *Engine) Close() error {
	var errs []error
	if err := e.context.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser context: %w", err))
	}
	if err := e.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}

// Page adapts playwright.Page to browser.Page.
type Page struct {
	page       playwright.Page
	navTimeout time.Duration
}

// Navigate loads url and waits for the load event.
func (p *Page) Navigate(ctx context.Context, url string) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}
	return p.classify(withContext(ctx, func() error {
		_, err := p.page.Goto(url, playwright.PageGotoOptions{
			Timeout:   playwright.Float(millis(p.navTimeout)),
			WaitUntil: playwright.WaitUntilStateLoad,
		})
		return err
	}))
}

// Location reports the page URL.
func (p *Page) Location(context.Context) (string, error) {
	if p.Closed() {
		return "", browser.ErrPageClosed
	}
	return p.page.URL(), nil
}

// Fill waits for selector and fills it with value.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}
	return p.classify(withContext(ctx, func() error {
		return p.page.Fill(selector, value, playwright.PageFillOptions{
			Timeout: playwright.Float(millis(p.navTimeout)),
		})
	}))
}

// Click waits for selector and clicks it.
func (p *Page) Click(ctx context.Context, selector string) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}
	return p.classify(withContext(ctx, func() error {
		return p.page.Click(selector, playwright.PageClickOptions{
			Timeout: playwright.Float(millis(p.navTimeout)),
		})
	}))
}

// Evaluate runs script and decodes its awaited result into out.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}
	var result any
	err := withContext(ctx, func() error {
		var err error
		result, err = p.page.Evaluate(script)
		return err
	})
	if err != nil {
		return p.classify(err)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode evaluate result: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

// Closed reports whether the page was closed.
func (p *Page) Closed() bool {
	return p.page.IsClosed()
}

// Close closes the page.
func (p *Page) Close() error {
	if p.page.IsClosed() {
		return nil
	}
	if err := p.page.Close(); err != nil {
		return fmt.Errorf("close page: %w", err)
	}
	return nil
}

func (p *Page) classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), strings.Contains(err.Error(), "Timeout"):
		return fmt.Errorf("%w: %w", browser.ErrTimeout, err)
	case p.page.IsClosed() || strings.Contains(err.Error(), "Target closed"):
		return fmt.Errorf("%w: %w", browser.ErrPageClosed, err)
	}
	return fmt.Errorf("playwright: %w", err)
}

// withContext runs fn, returning early when ctx ends. Playwright calls carry
// their own timeouts; fn keeps running in the background after an early return.
func withContext(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
