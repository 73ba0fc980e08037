// Package jobs runs video optimization jobs through the shared browser
// session. It coalesces identical submissions, records per-job progress in
// the cache and hands finished results to the archive and notification side
// channels.
package jobs
