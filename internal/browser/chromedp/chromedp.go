// Package chromedp drives Chrome through the DevTools protocol.
package chromedp

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
)

// Engine owns one Chrome process shared by every page it opens.
type Engine struct {
	opts          browser.Options
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// Launch starts Chrome with the given options. The browser lives until Close,
// independent of ctx.
func Launch(ctx context.Context, opts browser.Options) (browser.Engine, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// The first Run allocates the browser; it must not carry a deadline or
	// the process is killed when the deadline fires.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &Engine{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

func allocatorOptions(opts browser.Options) []chromedp.ExecAllocatorOption {
	w, h := opts.Viewport()
	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	allocOpts = append(allocOpts,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.WindowSize(w, h),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	return allocOpts
}

// NewPage opens a new tab sized to the configured viewport.
func (e *Engine) NewPage(ctx context.Context) (browser.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	p := &Page{ctx: tabCtx, cancel: tabCancel, navTimeout: e.opts.NavTimeout()}
	if err := attach(ctx, tabCtx, tabCancel); err != nil {
		return nil, err
	}
	chromedp.ListenTarget(tabCtx, p.watch)

	w, h := e.opts.Viewport()
	setup := chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(w), int64(h), 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
	if err := p.run(ctx, p.navTimeout, setup); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return p, nil
}

// attach creates the tab's target. The target's event loop runs on the
// context of the first Run, so that Run gets tabCtx itself with no deadline;
// ctx only aborts the attach by cancelling the tab.
func attach(ctx, tabCtx context.Context, tabCancel context.CancelFunc) error {
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx)
	if !stop() || err != nil {
		tabCancel()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("attach tab: %w", ctxErr)
		}
		return fmt.Errorf("attach tab: %w", err)
	}
	return nil
}

// Close shuts Chrome down.
func (e *Engine) Close() error {
	err := chromedp.Cancel(e.browserCtx)
	e.browserCancel()
	e.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

// Page is a single Chrome tab.
type Page struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	closed     atomic.Bool
}

func (p *Page) watch(ev any) {
	switch ev.(type) {
	case *inspector.EventDetached, *inspector.EventTargetCrashed:
		p.closed.Store(true)
	}
}

// Navigate loads url and waits for the body element.
func (p *Page) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, p.navTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Location reports the tab's current URL.
func (p *Page) Location(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, p.navTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Fill waits for selector to be visible and types value into it.
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.navTimeout,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// Click waits for selector to be visible and clicks it.
func (p *Page) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.navTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

// Evaluate runs script, awaiting a returned promise, and decodes into out.
// Only ctx bounds the call.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	return p.run(ctx, 0, chromedp.Evaluate(script, out, awaitPromise))
}

func awaitPromise(params *runtime.EvaluateParams) *runtime.EvaluateParams {
	return params.WithAwaitPromise(true)
}

// Closed reports whether the tab was closed or detached.
func (p *Page) Closed() bool {
	return p.closed.Load() || p.ctx.Err() != nil
}

// Close closes the tab.
func (p *Page) Close() error {
	p.closed.Store(true)
	p.cancel()
	return nil
}

// run executes actions against the tab. The tab context carries the CDP
// session, so the caller's ctx is joined in through AfterFunc.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if p.Closed() {
		return browser.ErrPageClosed
	}
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(runCtx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", browser.ErrTimeout, err)
	case ctx.Err() != nil:
		return fmt.Errorf("chromedp run: %w", ctx.Err())
	case p.Closed():
		return fmt.Errorf("%w: %w", browser.ErrPageClosed, err)
	}
	return fmt.Errorf("chromedp run: %w", err)
}
