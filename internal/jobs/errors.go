package jobs

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/JakeFAU/video-optimizer-proxy/internal/session"
)

// MsgInvalidVideoURL is reported when no YouTube video id can be extracted.
const MsgInvalidVideoURL = "Please enter correct youtube Video URL!"

// maxErrorBody caps how much of an upstream error page is kept on the error.
const maxErrorBody = 512

// InvalidInputError rejects a request before any work is done. It never
// touches the session or the progress record.
type InvalidInputError struct {
	Field   string
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}

// UpstreamError reports that the upstream API answered with a non-2xx status
// or a body that could not be decoded.
type UpstreamError struct {
	Path   string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("HTTP error! status: %d", e.Status)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsInvalidInput reports whether err rejects the caller's input.
func IsInvalidInput(err error) bool {
	var target *InvalidInputError
	return errors.As(err, &target)
}

// IsUpstream reports whether err came back from the upstream API.
func IsUpstream(err error) bool {
	var target *UpstreamError
	return errors.As(err, &target)
}

// IsSessionFailure reports whether err stems from the browser session rather
// than from the upstream API.
func IsSessionFailure(err error) bool {
	var (
		authErr *session.AuthenticationError
		locErr  *session.UnexpectedLocationError
		tmoErr  *session.TimeoutError
	)
	return errors.Is(err, session.ErrBrowserLaunch) ||
		errors.As(err, &authErr) ||
		errors.As(err, &locErr) ||
		errors.As(err, &tmoErr)
}

func truncateBody(body string) string {
	if len(body) <= maxErrorBody {
		return body
	}
	cut := maxErrorBody
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
