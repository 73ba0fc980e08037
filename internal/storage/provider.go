// Package storage defines the archive contract for completed job results.
// Backends live in the memory, local and gcs subpackages.
package storage

import (
	"context"
	"io"
	"path"
)

// BlobStore writes an object and returns a URI that locates it.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// ResultPath is the object path for a job's archived result.
func ResultPath(prefix, jobID string) string {
	return path.Join(prefix, jobID+".json")
}
