// Package youtube extracts video identifiers from loosely formatted YouTube links.
package youtube

import (
	"errors"
	"regexp"
	"strings"
)

// IDLength is the length of every YouTube video identifier.
const IDLength = 11

// ErrNoVideoID is returned when no 11 character identifier can be found.
var ErrNoVideoID = errors.New("youtube video id not found")

// Matches watch?v=, youtu.be/, embed/, /v/ and /u/<x>/ shapes. Group 7 holds
// the candidate id, which must still be IDLength characters long.
var videoIDPattern = regexp.MustCompile(`^.*((youtu.be/)|(v/)|(/u/\w/)|(embed/)|(watch\?))\??v?=?([^#&?]*).*`)

// ExtractVideoID returns the video identifier embedded in raw.
func ExtractVideoID(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrNoVideoID
	}
	m := videoIDPattern.FindStringSubmatch(raw)
	if len(m) < 8 || len(m[7]) != IDLength {
		return "", ErrNoVideoID
	}
	return m[7], nil
}
