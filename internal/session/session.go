// Package session owns the single authenticated browser page shared by every
// job. Callers take exclusive use of it through a Lease.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
	"github.com/JakeFAU/video-optimizer-proxy/internal/metrics"
)

// State is the authentication state of the session.
type State string

// Authentication states.
const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
)

// Sign-in form selectors of the upstream application.
const (
	EmailSelector    = "#email"
	PasswordSelector = "#password"
	SubmitSelector   = `button[type="submit"]`
)

const (
	defaultSettleInterval = 250 * time.Millisecond
	shutdownReason        = "shutdown"
)

// Config wires a Manager.
type Config struct {
	BaseURL       string
	SignInPath    string
	WorkspacePath string
	DashboardPath string
	Email         string
	Password      string
	Browser       browser.Options
	Launcher      browser.Launcher
	Logger        *zap.Logger
	// SettleInterval is the poll period while waiting to leave the sign-in page.
	SettleInterval time.Duration
}

// Snapshot describes the session for readiness reporting.
type Snapshot struct {
	State      State  `json:"state"`
	Location   string `json:"location,omitempty"`
	BrowserUp  bool   `json:"browser_up"`
	Generation uint64 `json:"generation"`
}

// Manager owns at most one browser engine and one authenticated page.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	slot   chan struct{}

	mu         sync.Mutex
	engine     browser.Engine
	page       browser.Page
	state      State
	location   string
	generation uint64
}

// New constructs a Manager. The browser starts lazily on first use.
func New(cfg Config) (*Manager, error) {
	if cfg.Launcher == nil {
		return nil, errors.New("session: launcher is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("session: invalid base url %q", cfg.BaseURL)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.SettleInterval <= 0 {
		cfg.SettleInterval = defaultSettleInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		logger: logger,
		slot:   make(chan struct{}, 1),
		state:  StateUnauthenticated,
	}, nil
}

// EnsureBrowser starts the browser engine if it is not running.
func (m *Manager) EnsureBrowser(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ensureBrowserLocked(ctx)
}

func (m *Manager) ensureBrowserLocked(ctx context.Context) error {
	if m.engine != nil {
		return nil
	}
	engine, err := m.cfg.Launcher(ctx, m.cfg.Browser)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBrowserLaunch, err)
	}
	m.engine = engine
	m.logger.Info("browser started",
		zap.Bool("headless", m.cfg.Browser.Headless),
		zap.String("user_data_dir", m.cfg.Browser.UserDataDir),
	)
	return nil
}

// Acquire waits for exclusive use of the session and returns it authenticated
// and parked at the workspace. The caller must Release the lease.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case m.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("wait for session: %w", ctx.Err())
	}
	page, gen, err := m.ensureAuthenticated(ctx)
	if err != nil {
		<-m.slot
		return nil, err
	}
	return &Lease{m: m, page: page, generation: gen}, nil
}

func (m *Manager) ensureAuthenticated(ctx context.Context) (browser.Page, uint64, error) {
	m.mu.Lock()
	if err := m.ensureBrowserLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, 0, err
	}
	if m.page != nil && !m.page.Closed() && m.state == StateAuthenticated {
		page, gen := m.page, m.generation
		m.mu.Unlock()
		return page, gen, nil
	}
	if m.page != nil {
		m.logger.Info("discarding closed session page")
		m.closePageLocked()
	}
	engine := m.engine
	m.state = StateAuthenticating
	m.mu.Unlock()

	page, err := engine.NewPage(ctx)
	if err != nil {
		m.setState(StateUnauthenticated, "")
		return nil, 0, fmt.Errorf("open session page: %w", classify("open page", err))
	}
	loc, err := m.signIn(ctx, page)
	if err != nil {
		if cerr := page.Close(); cerr != nil {
			m.logger.Warn("close page after failed sign-in", zap.Error(cerr))
		}
		m.setState(StateUnauthenticated, "")
		return nil, 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.engine != engine {
		// Close ran while signing in; the page belongs to a stopped browser.
		if cerr := page.Close(); cerr != nil {
			m.logger.Warn("close page of stopped browser", zap.Error(cerr))
		}
		m.state = StateUnauthenticated
		m.location = ""
		return nil, 0, ErrSessionClosed
	}
	m.page = page
	m.state = StateAuthenticated
	m.location = loc
	m.generation++
	m.logger.Info("session authenticated", zap.String("location", loc), zap.Uint64("generation", m.generation))
	return page, m.generation, nil
}

// signIn walks the page to the workspace, submitting credentials when the
// application redirects to the sign-in page.
func (m *Manager) signIn(ctx context.Context, page browser.Page) (string, error) {
	workspace := m.cfg.BaseURL + m.cfg.WorkspacePath
	if err := page.Navigate(ctx, workspace); err != nil {
		return "", classify("navigate to workspace", err)
	}
	loc, err := page.Location(ctx)
	if err != nil {
		return "", classify("read location", err)
	}

	if m.at(loc, m.cfg.SignInPath) {
		if loc, err = m.submitCredentials(ctx, page); err != nil {
			return "", err
		}
	}

	switch {
	case m.at(loc, m.cfg.WorkspacePath):
		return loc, nil
	case m.at(loc, m.cfg.DashboardPath):
		if err := page.Navigate(ctx, workspace); err != nil {
			return "", classify("navigate to workspace", err)
		}
		if loc, err = page.Location(ctx); err != nil {
			return "", classify("read location", err)
		}
		if !m.at(loc, m.cfg.WorkspacePath) {
			return "", &UnexpectedLocationError{Location: loc}
		}
		return loc, nil
	default:
		return "", &UnexpectedLocationError{Location: loc}
	}
}

func (m *Manager) submitCredentials(ctx context.Context, page browser.Page) (loc string, err error) {
	defer func() { metrics.ObserveLogin(err) }()
	if m.cfg.Email == "" || m.cfg.Password == "" {
		return "", &AuthenticationError{Reason: "no upstream credentials configured"}
	}
	m.logger.Info("signing in to upstream", zap.String("email", m.cfg.Email))
	if err := page.Fill(ctx, EmailSelector, m.cfg.Email); err != nil {
		return "", &AuthenticationError{Reason: "fill email", Err: classify("fill email", err)}
	}
	if err := page.Fill(ctx, PasswordSelector, m.cfg.Password); err != nil {
		return "", &AuthenticationError{Reason: "fill password", Err: classify("fill password", err)}
	}
	if err := page.Click(ctx, SubmitSelector); err != nil {
		return "", &AuthenticationError{Reason: "submit sign-in form", Err: classify("submit", err)}
	}
	return m.waitToLeaveSignIn(ctx, page)
}

// waitToLeaveSignIn polls the location until the page navigates away from the
// sign-in path or the navigation timeout elapses.
func (m *Manager) waitToLeaveSignIn(ctx context.Context, page browser.Page) (string, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.Browser.NavTimeout())
	defer cancel()
	ticker := time.NewTicker(m.cfg.SettleInterval)
	defer ticker.Stop()
	for {
		loc, err := page.Location(waitCtx)
		if err != nil {
			return "", classify("read location", err)
		}
		if !m.at(loc, m.cfg.SignInPath) {
			return loc, nil
		}
		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return "", fmt.Errorf("sign-in: %w", ctx.Err())
			}
			return "", &AuthenticationError{Reason: "still on sign-in page", Err: waitCtx.Err()}
		}
	}
}

// at reports whether loc points at path (or below it) on any host.
func (m *Manager) at(loc, path string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	p := strings.TrimRight(u.Path, "/")
	path = strings.TrimRight(path, "/")
	return p == path || strings.HasPrefix(p, path+"/")
}

// Invalidate closes the current page so the next Acquire signs in again.
func (m *Manager) Invalidate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked(reason)
}

func (m *Manager) invalidateLocked(reason string) {
	if m.page == nil {
		return
	}
	m.logger.Warn("invalidating session", zap.String("reason", reason), zap.Uint64("generation", m.generation))
	if reason != shutdownReason {
		metrics.ObserveInvalidation()
	}
	m.closePageLocked()
}

func (m *Manager) closePageLocked() {
	if err := m.page.Close(); err != nil {
		m.logger.Warn("close session page", zap.Error(err))
	}
	m.page = nil
	m.state = StateUnauthenticated
	m.location = ""
}

// Close tears the session down and stops the browser. Errors are logged.
func (m *Manager) Close(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked(shutdownReason)
	if m.engine == nil {
		return nil
	}
	err := m.engine.Close()
	m.engine = nil
	if err != nil {
		m.logger.Warn("browser close failed", zap.Error(err))
		return fmt.Errorf("close browser: %w", err)
	}
	m.logger.Info("browser closed")
	return nil
}

// State reports the current session state.
func (m *Manager) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		State:      m.state,
		Location:   m.location,
		BrowserUp:  m.engine != nil,
		Generation: m.generation,
	}
}

func (m *Manager) setState(state State, location string) {
	m.mu.Lock()
	m.state = state
	m.location = location
	m.mu.Unlock()
}

// Lease grants exclusive use of the authenticated page until Release.
type Lease struct {
	m          *Manager
	page       browser.Page
	generation uint64
	once       sync.Once
}

// Page returns the leased page.
func (l *Lease) Page() browser.Page {
	return l.page
}

// PageOpen reports whether the leased page is still usable.
func (l *Lease) PageOpen() bool {
	return !l.page.Closed()
}

// Invalidate tears down the session if it is still the one this lease holds.
func (l *Lease) Invalidate(reason string) {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	if l.m.generation != l.generation || l.m.page != l.page {
		return
	}
	l.m.invalidateLocked(reason)
}

// Release returns the session. Calling it more than once has no effect.
func (l *Lease) Release() {
	l.once.Do(func() { <-l.m.slot })
}

// classify maps driver errors onto the session error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, browser.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}
