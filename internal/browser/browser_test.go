package browser

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOptionsDefaults(t *testing.T) {
	t.Parallel()

	var opts Options
	require.Equal(t, DefaultNavigationTimeout, opts.NavTimeout())
	w, h := opts.Viewport()
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)

	opts = Options{NavigationTimeout: time.Second, ViewportWidth: 800, ViewportHeight: 600}
	require.Equal(t, time.Second, opts.NavTimeout())
	w, h = opts.Viewport()
	require.Equal(t, 800, w)
	require.Equal(t, 600, h)
}

func TestFetchScriptEmbedsJSON(t *testing.T) {
	t.Parallel()

	script, err := FetchScript("https://app.example.com/api/x", map[string]any{
		"video_id": "abc",
		"quote":    `say "hi"`,
	})
	require.NoError(t, err)
	require.Contains(t, script, `fetch("https://app.example.com/api/x"`)
	require.Contains(t, script, `JSON.stringify({"quote":"say \"hi\"","video_id":"abc"})`)
	require.Contains(t, script, `credentials: "include"`)
	require.True(t, strings.HasPrefix(script, "(async () =>"))
}

func TestFetchScriptRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	_, err := FetchScript("https://app.example.com", map[string]any{"ch": make(chan int)})
	require.Error(t, err)
}
