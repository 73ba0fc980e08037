// Command optimizerd serves the video optimizer proxy.
//
// The process keeps one headless browser signed in to the upstream
// application and exposes its optimization endpoints over plain HTTP:
//   - HTTP API: internal/api validates query parameters and maps job
//     outcomes to status codes.
//   - Jobs: internal/jobs derives a job id per request, coalesces identical
//     in-flight requests, records progress in the cache and runs the call
//     through the shared session.
//   - Session: internal/session launches the browser (chromedp or
//     playwright), signs in, and tears the page down after any failure.
//   - Side channels: results are archived (memory, local or GCS), completions
//     are published (memory, Pub/Sub or NATS) and job runs are audited
//     (memory or Postgres) via the progress hub.
//
// Configuration comes from an optional file plus OPTIMIZER_* environment
// variables; see internal/config.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/video-optimizer-proxy/internal/config"
	"github.com/JakeFAU/video-optimizer-proxy/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// runner is replaced in tests.
type runner func(ctx context.Context, cfg config.Config) error

func serve(ctx context.Context, cfg config.Config) error {
	app, err := server.Build(ctx, cfg, server.Options{Version: version})
	if err != nil {
		return err
	}
	return app.Run(ctx)
}

func newRootCmd(run runner) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "optimizerd",
		Short: "HTTP proxy that drives a signed-in browser session to optimize videos.",
		Long: `optimizerd keeps one authenticated headless browser session against the
upstream application and exposes video optimization, status and follow-up
operations as HTTP endpoints. Results are cached, archived and announced.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfgFile, run)
		},
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, cfgFile, run)
		},
	}
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
	cmd.AddCommand(serveCmd, versionCmd)
	return cmd
}

func runServe(cmd *cobra.Command, cfgFile string, run runner) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return run(cmd.Context(), cfg)
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "optimizerd %s\n", version)
}

func main() {
	if err := newRootCmd(serve).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "optimizerd: %v\n", err)
		os.Exit(1)
	}
}
