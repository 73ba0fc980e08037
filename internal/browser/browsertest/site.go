package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
)

// Handler answers one in-page API call with a status and a JSON-encodable body.
type Handler func(ctx context.Context, path string, payload map[string]any) (int, any)

// Call records an API call made through a page.
type Call struct {
	Path    string
	Payload map[string]any
}

// Site simulates the upstream application: sign-in redirects, a credential
// check on submit, and an API answered by Handler.
type Site struct {
	BaseURL  string
	Email    string
	Password string
	API      Handler

	mu       sync.Mutex
	loggedIn bool
	calls    []Call
}

// NewSite returns a logged-out Site.
func NewSite(baseURL, email, password string, api Handler) *Site {
	return &Site{BaseURL: strings.TrimRight(baseURL, "/"), Email: email, Password: password, API: api}
}

// Engine returns an Engine whose pages browse this site.
func (s *Site) Engine() *Engine {
	return &Engine{NewPageFunc: func() (*Page, error) { return s.NewPage(), nil }}
}

// NewPage returns a page wired to the site.
func (s *Site) NewPage() *Page {
	p := NewPage()
	p.OnNavigate = func(target string) (string, error) {
		path := PathOf(target)
		if !s.LoggedIn() && (path == "/optimize" || path == "/dashboard") {
			return s.BaseURL + "/signin", nil
		}
		return target, nil
	}
	p.OnClick = func(selector string) (string, error) {
		if selector != `button[type="submit"]` {
			return "", nil
		}
		if p.Filled("#email") != s.Email || p.Filled("#password") != s.Password {
			return "", nil
		}
		s.SetLoggedIn(true)
		return s.BaseURL + "/dashboard", nil
	}
	p.OnEvaluate = func(ctx context.Context, script string) (any, error) {
		target, payload, err := ParseFetchScript(script)
		if err != nil {
			return nil, err
		}
		path := PathOf(target)
		s.mu.Lock()
		s.calls = append(s.calls, Call{Path: path, Payload: payload})
		loggedIn := s.loggedIn
		s.mu.Unlock()
		if !loggedIn {
			return browser.FetchResult{OK: false, Status: 401, Body: `{"detail":"unauthorized"}`}, nil
		}
		if s.API == nil {
			return browser.FetchResult{OK: false, Status: 404, Body: "not found"}, nil
		}
		status, resp := s.API(ctx, path, payload)
		body, err := json.Marshal(resp)
		if err != nil {
			return nil, fmt.Errorf("browsertest: encode api response: %w", err)
		}
		return browser.FetchResult{OK: status >= 200 && status < 300, Status: status, Body: string(body)}, nil
	}
	return p
}

// LoggedIn reports whether a sign-in succeeded.
func (s *Site) LoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

// SetLoggedIn overrides the sign-in state, e.g. to simulate a persisted profile.
func (s *Site) SetLoggedIn(v bool) {
	s.mu.Lock()
	s.loggedIn = v
	s.mu.Unlock()
}

// Calls returns the API calls made so far.
func (s *Site) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}
