package sanitize

import (
	"strings"

	"github.com/google/uuid"
)

// Fence delimiters. Untrusted text is wrapped as <<<token>>>text<<<token>>>
// where token is random per LLM call, so injected text cannot forge a
// closing delimiter it has never seen.
const (
	fenceOpen  = "<<<"
	fenceClose = ">>>"

	// Homoglyph substitutes for literal delimiters inside fenced content.
	homoglyphOpen  = "‹‹‹"
	homoglyphClose = "›››"
)

// NewFenceToken returns a random 128-bit token in canonical hex form.
func NewFenceToken() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")
}

// Fence wraps untrusted text in a pair of token delimiters after
// substituting any literal delimiter sequences inside the text.
func Fence(text, token string) string {
	text = strings.ReplaceAll(text, fenceOpen, homoglyphOpen)
	text = strings.ReplaceAll(text, fenceClose, homoglyphClose)
	delim := fenceOpen + token + fenceClose
	return delim + text + delim
}

// Unfence strips the token delimiters from fenced text. Content that
// contained no homoglyph-substituted delimiters round-trips unchanged.
func Unfence(fenced, token string) string {
	delim := fenceOpen + token + fenceClose
	fenced = strings.TrimPrefix(fenced, delim)
	return strings.TrimSuffix(fenced, delim)
}
