package jobs

import (
	"github.com/JakeFAU/video-optimizer-proxy/internal/jobkey"
)

// Operation names an upstream call.
type Operation string

// Supported operations. OperationOptimize is the full job; the others refine
// parts of an already optimized video.
const (
	OperationOptimize                Operation = "optimize"
	OperationTitles                  Operation = "titles"
	OperationTags                    Operation = "tags"
	OperationDescription             Operation = "description"
	OperationDescriptionChaptersTags Operation = "description-chapters-tags"
	OperationThumbnails              Operation = "thumbnails"
)

var upstreamPaths = map[Operation]string{
	OperationOptimize:                "full-optimize",
	OperationTitles:                  "youtube-titles-ranked",
	OperationTags:                    "youtube-tags",
	OperationDescription:             "youtube-description",
	OperationDescriptionChaptersTags: "youtube-description-chapters-tags",
	OperationThumbnails:              "youtube-thumbnails",
}

// UpstreamPath returns the API path segment for o.
func (o Operation) UpstreamPath() (string, bool) {
	p, ok := upstreamPaths[o]
	return p, ok
}

// Status is the lifecycle state of a job's progress record.
type Status string

// Progress states. NotFound is only ever reported, never stored.
const (
	StatusStarted      Status = "started"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
	StatusDisconnected Status = "disconnected"
	StatusNotFound     Status = "notfound"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusComplete, StatusFailed, StatusDisconnected:
		return true
	default:
		return false
	}
}

// ProgressRecord is the cached per-job status served by /status.
type ProgressRecord struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Result is the upstream video record, passed through as opaque JSON.
// Results are shared between waiters and the cache and must not be mutated.
type Result map[string]any

// OptimizeRequest holds the /optimize parameters.
type OptimizeRequest struct {
	YouTubeURL        string
	AdditionalContext string
	Voices            []string
	OutputLanguage    string
}

// JobID derives the job identifier for videoID and the request's options.
func (r OptimizeRequest) JobID(videoID string) string {
	return jobkey.Derive(jobkey.Tuple{
		VideoID:  videoID,
		Context:  r.AdditionalContext,
		Voices:   r.Voices,
		Language: r.OutputLanguage,
	})
}

// upstreamBody is the payload of the full-optimize call.
func (r OptimizeRequest) upstreamBody() map[string]any {
	voices := r.Voices
	if voices == nil {
		voices = []string{}
	}
	return map[string]any{
		"youtube_url":        r.YouTubeURL,
		"additional_context": r.AdditionalContext,
		"voices_selection":   voices,
		"output_language":    r.OutputLanguage,
	}
}

// RefineRequest holds the parameters of a sub-operation.
type RefineRequest struct {
	SelectedTitle string
	VideoID       string
	// WithCaption only applies to thumbnails.
	WithCaption bool
}

const thumbnailsField = "youtube_optimized_thumbnails"

// stripThumbnails returns a copy of r without the thumbnails payload.
func stripThumbnails(r Result) Result {
	out := make(Result, len(r))
	for k, v := range r {
		if k == thumbnailsField {
			continue
		}
		out[k] = v
	}
	return out
}

// flattenThumbnails replaces the nested thumbnails payload with the list of
// thumbnail URLs it contains.
func flattenThumbnails(r Result) Result {
	out := stripThumbnails(r)
	urls := []string{}
	if outer, ok := r[thumbnailsField].(map[string]any); ok {
		items, _ := outer[thumbnailsField].([]any)
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if u, ok := m["thumbnail_url"].(string); ok {
				urls = append(urls, u)
			}
		}
	}
	out[thumbnailsField] = urls
	return out
}

// recordJobID derives the job id a refreshed record belongs to from the
// record's own fields. It returns false when the record has no youtube_id.
func recordJobID(r Result) (string, string, bool) {
	videoID, _ := r["youtube_id"].(string)
	if videoID == "" {
		return "", "", false
	}
	ctxText, _ := r["additional_context"].(string)
	lang, _ := r["output_language"].(string)
	var voices []string
	if raw, ok := r["voices"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				voices = append(voices, s)
			}
		}
	}
	return jobkey.Derive(jobkey.Tuple{
		VideoID:  videoID,
		Context:  ctxText,
		Voices:   voices,
		Language: lang,
	}), videoID, true
}
