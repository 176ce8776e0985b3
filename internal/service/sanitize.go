package service

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxCleanPasses bounds how many layers of entity encoding Clean unwraps.
const maxCleanPasses = 4

// TextSanitizer reduces user-entered question and answer text to plain text.
//
// Stored text is rendered by whatever client reads the feed, so markup is
// stripped before it is written rather than trusted to every reader.
type TextSanitizer struct {
	policy *bluemonday.Policy
}

func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean strips all tags and trims whitespace. bluemonday escapes what it
// keeps, so entities are decoded again: "2 < 3" stays "2 < 3".
//
// Decoding can turn "&lt;b&gt;" into a tag, so stripping repeats until the
// decoded text no longer changes. Input still changing after maxCleanPasses
// is returned in its escaped form.
func (s *TextSanitizer) Clean(text string) string {
	out := text
	for range maxCleanPasses {
		next := html.UnescapeString(s.policy.Sanitize(out))
		if next == out {
			return strings.TrimSpace(out)
		}
		out = next
	}
	return strings.TrimSpace(s.policy.Sanitize(out))
}
