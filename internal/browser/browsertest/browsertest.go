// Package browsertest provides in-memory browser pages and a scripted upstream
// site for tests of the session and job layers.
package browsertest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sync"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
)

// Page is a scriptable browser.Page.
type Page struct {
	// OnNavigate returns the location reached after loading url.
	OnNavigate func(url string) (string, error)
	// OnClick returns the location reached after clicking selector; an empty
	// location leaves the page where it is.
	OnClick func(selector string) (string, error)
	// OnEvaluate produces the value decoded into Evaluate's out argument.
	OnEvaluate func(ctx context.Context, script string) (any, error)

	mu          sync.Mutex
	location    string
	closed      bool
	fills       map[string]string
	clicks      []string
	navigations []string
	evaluations int
}

// NewPage returns a Page parked at about:blank.
func NewPage() *Page {
	return &Page{location: "about:blank", fills: map[string]string{}}
}

// Navigate implements browser.Page.
func (p *Page) Navigate(_ context.Context, target string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	p.navigations = append(p.navigations, target)
	hook := p.OnNavigate
	p.mu.Unlock()

	loc := target
	if hook != nil {
		var err error
		if loc, err = hook(target); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.location = loc
	p.mu.Unlock()
	return nil
}

// Location implements browser.Page.
func (p *Page) Location(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", browser.ErrPageClosed
	}
	return p.location, nil
}

// Fill implements browser.Page.
func (p *Page) Fill(_ context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return browser.ErrPageClosed
	}
	p.fills[selector] = value
	return nil
}

// Click implements browser.Page.
func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	p.clicks = append(p.clicks, selector)
	hook := p.OnClick
	p.mu.Unlock()
	if hook == nil {
		return nil
	}
	loc, err := hook(selector)
	if err != nil {
		return err
	}
	if loc != "" {
		p.mu.Lock()
		p.location = loc
		p.mu.Unlock()
	}
	return nil
}

// Evaluate implements browser.Page.
func (p *Page) Evaluate(ctx context.Context, script string, out any) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return browser.ErrPageClosed
	}
	p.evaluations++
	hook := p.OnEvaluate
	p.mu.Unlock()
	if hook == nil {
		return errors.New("browsertest: no evaluate hook")
	}
	v, err := hook(ctx, script)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("browsertest: encode result: %w", err)
	}
	return json.Unmarshal(raw, out)
}

// Closed implements browser.Page.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// Filled returns the value typed into selector.
func (p *Page) Filled(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fills[selector]
}

// Clicks returns the clicked selectors in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Navigations returns every requested URL in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Evaluations counts Evaluate calls.
func (p *Page) Evaluations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evaluations
}

// Engine is a browser.Engine handing out pages from NewPageFunc.
type Engine struct {
	NewPageFunc func() (*Page, error)

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

// NewPage implements browser.Engine.
func (e *Engine) NewPage(context.Context) (browser.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.New("browsertest: engine closed")
	}
	page := NewPage()
	if e.NewPageFunc != nil {
		var err error
		if page, err = e.NewPageFunc(); err != nil {
			return nil, err
		}
	}
	e.pages = append(e.pages, page)
	return page, nil
}

// Close implements browser.Engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// Pages returns every page opened so far.
func (e *Engine) Pages() []*Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Page(nil), e.pages...)
}

// IsClosed reports whether Close was called.
func (e *Engine) IsClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Launcher returns a browser.Launcher yielding e, counting launches in n when
// n is not nil.
func (e *Engine) Launcher(n *int) browser.Launcher {
	var mu sync.Mutex
	return func(context.Context, browser.Options) (browser.Engine, error) {
		if n != nil {
			mu.Lock()
			*n++
			mu.Unlock()
		}
		return e, nil
	}
}

var (
	fetchURLPattern  = regexp.MustCompile(`fetch\(("[^"]*")`)
	fetchBodyPattern = regexp.MustCompile(`JSON\.stringify\((.*)\),\n`)
)

// ParseFetchScript recovers the URL and JSON payload from a script built by
// browser.FetchScript.
func ParseFetchScript(script string) (string, map[string]any, error) {
	um := fetchURLPattern.FindStringSubmatch(script)
	bm := fetchBodyPattern.FindStringSubmatch(script)
	if um == nil || bm == nil {
		return "", nil, errors.New("browsertest: not a fetch script")
	}
	var target string
	if err := json.Unmarshal([]byte(um[1]), &target); err != nil {
		return "", nil, fmt.Errorf("browsertest: decode url: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(bm[1]), &payload); err != nil {
		return "", nil, fmt.Errorf("browsertest: decode payload: %w", err)
	}
	return target, payload, nil
}

// PathOf returns the path component of raw, or raw when it does not parse.
func PathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
