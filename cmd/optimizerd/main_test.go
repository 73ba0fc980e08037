package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/video-optimizer-proxy/internal/config"
)

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	cmd := newRootCmd(func(context.Context, config.Config) error {
		t.Fatal("serve should not run")
		return nil
	})
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "optimizerd dev\n", out.String())
}

func TestServeLoadsConfigFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "optimizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8089\nbrowser:\n  engine: playwright\n"), 0o600))

	tests := []struct {
		name string
		args []string
	}{
		{name: "default action", args: []string{"--config", path}},
		{name: "serve subcommand", args: []string{"serve", "--config", path}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got config.Config
			cmd := newRootCmd(func(_ context.Context, cfg config.Config) error {
				got = cfg
				return nil
			})
			cmd.SetArgs(tt.args)
			require.NoError(t, cmd.ExecuteContext(context.Background()))
			require.Equal(t, 8089, got.Server.Port)
			require.Equal(t, "playwright", got.Browser.Engine)
		})
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("browser:\n  engine: netscape\n"), 0o600))

	cmd := newRootCmd(func(context.Context, config.Config) error { return nil })
	cmd.SetArgs([]string{"--config", path})
	cmd.SetErr(&bytes.Buffer{})
	require.ErrorContains(t, cmd.Execute(), "browser.engine")
}
