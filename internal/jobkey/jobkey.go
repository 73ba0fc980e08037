// Package jobkey derives stable job identifiers and the cache keys built on them.
package jobkey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

const (
	progressPrefix = "progress:"
	resultPrefix   = "result:"
)

// Tuple is the canonical input of a job. Voice order is significant.
type Tuple struct {
	VideoID  string
	Context  string
	Voices   []string
	Language string
}

// Derive hashes t into a lower-case hex SHA-256 identifier. Every field is
// length prefixed so adjacent values cannot bleed into one another.
func Derive(t Tuple) string {
	var b strings.Builder
	writeField(&b, t.VideoID)
	writeField(&b, t.Context)
	b.WriteString(strconv.Itoa(len(t.Voices)))
	b.WriteByte('#')
	for _, v := range t.Voices {
		writeField(&b, v)
	}
	writeField(&b, t.Language)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
	b.WriteByte(';')
}

// ProgressKey is the cache key holding the progress record of jobID.
func ProgressKey(jobID string) string {
	return progressPrefix + jobID
}

// ResultKey is the cache key holding the result record of jobID.
func ResultKey(jobID string) string {
	return resultPrefix + jobID
}
