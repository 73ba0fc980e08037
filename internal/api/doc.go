// Package api hosts the HTTP server, middleware, and handlers of the
// optimizer proxy. Notable routes:
//   - GET /healthz and /readyz for probes; readyz reports the session state.
//   - GET /metrics for Prometheus scraping.
//   - GET /optimize and /status to run or inspect an optimization job.
//   - GET /youtube-titles-ranked, /youtube-tags, /youtube-description,
//     /youtube-description-chapters-tags and /youtube-generate-thumbnails
//     for follow-up operations on a processed video.
//   - GET /runs and /runs/{run_id} for the job run audit trail via the
//     store.RunRepository interface.
package api
