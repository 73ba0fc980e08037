package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/browser"
	"github.com/JakeFAU/video-optimizer-proxy/internal/browser/browsertest"
)

const baseURL = "https://app.example.com"

func newTestManager(t *testing.T, launcher browser.Launcher, mutate ...func(*Config)) *Manager {
	t.Helper()
	cfg := Config{
		BaseURL:        baseURL,
		SignInPath:     "/signin",
		WorkspacePath:  "/optimize",
		DashboardPath:  "/dashboard",
		Email:          "ops@example.com",
		Password:       "secret",
		Browser:        browser.Options{NavigationTimeout: 200 * time.Millisecond},
		Launcher:       launcher,
		Logger:         zap.NewNop(),
		SettleInterval: 5 * time.Millisecond,
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m, err := New(cfg)
	require.NoError(t, err)
	return m
}

func TestNewRequiresLauncher(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: baseURL})
	require.Error(t, err)
}

func TestAcquireSignsInAndParksAtWorkspace(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	engine := site.Engine()
	launches := 0
	m := newTestManager(t, engine.Launcher(&launches))

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	page := engine.Pages()[0]
	require.Equal(t, "ops@example.com", page.Filled(EmailSelector))
	require.Equal(t, "secret", page.Filled(PasswordSelector))
	require.Equal(t, []string{SubmitSelector}, page.Clicks())
	require.Equal(t, []string{baseURL + "/optimize", baseURL + "/optimize"}, page.Navigations())

	loc, err := lease.Page().Location(context.Background())
	require.NoError(t, err)
	require.Equal(t, baseURL+"/optimize", loc)

	snap := m.State()
	require.Equal(t, StateAuthenticated, snap.State)
	require.Equal(t, baseURL+"/optimize", snap.Location)
	require.True(t, snap.BrowserUp)
	require.Equal(t, uint64(1), snap.Generation)
	require.Equal(t, 1, launches)
}

func TestAcquireSkipsSignInWhenProfileIsLoggedIn(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	site.SetLoggedIn(true)
	engine := site.Engine()
	m := newTestManager(t, engine.Launcher(nil))

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()

	require.Empty(t, engine.Pages()[0].Clicks())
}

func TestAcquireReusesLivePage(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	engine := site.Engine()
	launches := 0
	m := newTestManager(t, engine.Launcher(&launches))

	for i := 0; i < 3; i++ {
		lease, err := m.Acquire(context.Background())
		require.NoError(t, err)
		lease.Release()
	}
	require.Len(t, engine.Pages(), 1)
	require.Equal(t, 1, launches)
}

func TestAcquireReplacesClosedPage(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	engine := site.Engine()
	m := newTestManager(t, engine.Launcher(nil))

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, lease.Page().Close())
	require.False(t, lease.PageOpen())
	lease.Release()

	lease, err = m.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()
	require.Len(t, engine.Pages(), 2)
	require.True(t, lease.PageOpen())
	require.Equal(t, uint64(2), m.State().Generation)
}

func TestInvalidateForcesReauthentication(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	engine := site.Engine()
	m := newTestManager(t, engine.Launcher(nil))

	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Invalidate("upstream failure")
	lease.Release()

	require.True(t, engine.Pages()[0].Closed())
	require.Equal(t, StateUnauthenticated, m.State().State)

	lease, err = m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()
	require.Len(t, engine.Pages(), 2)
}

func TestStaleLeaseInvalidateIsIgnored(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	engine := site.Engine()
	m := newTestManager(t, engine.Launcher(nil))

	stale, err := m.Acquire(context.Background())
	require.NoError(t, err)
	stale.Release()
	m.Invalidate("test")

	fresh, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer fresh.Release()

	stale.Invalidate("late failure")
	require.True(t, fresh.PageOpen())
	require.Equal(t, StateAuthenticated, m.State().State)
}

func TestAcquireUnexpectedLocation(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{NewPageFunc: func() (*browsertest.Page, error) {
		p := browsertest.NewPage()
		p.OnNavigate = func(string) (string, error) { return baseURL + "/billing", nil }
		return p, nil
	}}
	m := newTestManager(t, engine.Launcher(nil))

	_, err := m.Acquire(context.Background())
	var locErr *UnexpectedLocationError
	require.ErrorAs(t, err, &locErr)
	require.Equal(t, baseURL+"/billing", locErr.Location)
	require.True(t, engine.Pages()[0].Closed())
	require.Equal(t, StateUnauthenticated, m.State().State)
}

func TestAcquireRejectedCredentials(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "other", nil)
	m := newTestManager(t, site.Engine().Launcher(nil))

	_, err := m.Acquire(context.Background())
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.Contains(t, authErr.Error(), "still on sign-in page")
}

func TestAcquireWithoutCredentials(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	m := newTestManager(t, site.Engine().Launcher(nil), func(c *Config) {
		c.Email = ""
		c.Password = ""
	})

	_, err := m.Acquire(context.Background())
	var authErr *AuthenticationError
	require.ErrorAs(t, err, &authErr)
}

func TestAcquireNavigationTimeout(t *testing.T) {
	t.Parallel()

	engine := &browsertest.Engine{NewPageFunc: func() (*browsertest.Page, error) {
		p := browsertest.NewPage()
		p.OnNavigate = func(string) (string, error) {
			return "", browser.ErrTimeout
		}
		return p, nil
	}}
	m := newTestManager(t, engine.Launcher(nil))

	_, err := m.Acquire(context.Background())
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.ErrorIs(t, err, browser.ErrTimeout)
}

func TestAcquireLaunchFailure(t *testing.T) {
	t.Parallel()

	m := newTestManager(t, func(context.Context, browser.Options) (browser.Engine, error) {
		return nil, errors.New("no chrome binary")
	})

	_, err := m.Acquire(context.Background())
	require.ErrorIs(t, err, ErrBrowserLaunch)
	require.False(t, m.State().BrowserUp)

	// The slot must be free again after a failed acquire.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = m.Acquire(ctx)
	require.ErrorIs(t, err, ErrBrowserLaunch)
}

func TestAcquireSerializesLeases(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	m := newTestManager(t, site.Engine().Launcher(nil))

	first, err := m.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan *Lease, 1)
	go func() {
		lease, err := m.Acquire(context.Background())
		if err == nil {
			acquired <- lease
		}
	}()
	first.Release()
	first.Release()

	select {
	case lease := <-acquired:
		lease.Release()
	case <-time.After(time.Second):
		t.Fatal("second acquire did not proceed after release")
	}
}

func TestCloseStopsEngine(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(baseURL, "ops@example.com", "secret", nil)
	engine := site.Engine()
	m := newTestManager(t, engine.Launcher(nil))

	require.NoError(t, m.Close(context.Background()))

	require.NoError(t, m.EnsureBrowser(context.Background()))
	lease, err := m.Acquire(context.Background())
	require.NoError(t, err)
	lease.Release()

	require.NoError(t, m.Close(context.Background()))
	require.True(t, engine.IsClosed())
	require.True(t, engine.Pages()[0].Closed())
	snap := m.State()
	require.False(t, snap.BrowserUp)
	require.Equal(t, StateUnauthenticated, snap.State)
}

func TestAtMatchesPathPrefixes(t *testing.T) {
	t.Parallel()

	m := &Manager{}
	require.True(t, m.at("https://app.example.com/signin", "/signin"))
	require.True(t, m.at("https://app.example.com/signin/", "/signin"))
	require.True(t, m.at("https://app.example.com/signin/verify?x=1", "/signin"))
	require.False(t, m.at("https://app.example.com/signing", "/signin"))
	require.False(t, m.at("https://app.example.com/optimize", "/signin"))
	require.False(t, m.at("::bad", "/signin"))
}

func TestCloseDuringSignInDiscardsPage(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	resume := make(chan struct{})
	var signInPage *browsertest.Page
	engine := &browsertest.Engine{NewPageFunc: func() (*browsertest.Page, error) {
		p := browsertest.NewPage()
		p.OnNavigate = func(target string) (string, error) {
			close(entered)
			<-resume
			return target, nil
		}
		signInPage = p
		return p, nil
	}}
	m := newTestManager(t, engine.Launcher(nil))

	errs := make(chan error, 1)
	go func() {
		lease, err := m.Acquire(context.Background())
		if lease != nil {
			lease.Release()
		}
		errs <- err
	}()

	<-entered
	require.NoError(t, m.Close(context.Background()))
	close(resume)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(time.Second):
		t.Fatal("acquire did not return after close")
	}
	require.True(t, signInPage.Closed())
	snap := m.State()
	require.False(t, snap.BrowserUp)
	require.Equal(t, StateUnauthenticated, snap.State)
	require.Zero(t, snap.Generation)
}
