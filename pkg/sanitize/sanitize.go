// Package sanitize scrubs known secret values from text and fences untrusted
// content before it reaches persistence or an LLM prompt.
package sanitize

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// Redacted replaces every stripped secret occurrence.
const Redacted = "«REDACTED»"

// Sanitize returns text with every known secret value replaced by the
// redaction marker. For each secret it strips the literal value, its base64
// encoding, and its URL-encoded form, so secrets cannot leak through common
// shell round-trips. Idempotent: sanitizing already-sanitized text is a no-op.
func Sanitize(text string, secrets map[string]string) string {
	if text == "" || len(secrets) == 0 {
		return text
	}
	for _, v := range secrets {
		text = scrub(text, v)
	}
	return text
}

// Values sanitizes with a plain list of secret values instead of a named map.
func Values(text string, values []string) string {
	if text == "" {
		return text
	}
	for _, v := range values {
		text = scrub(text, v)
	}
	return text
}

func scrub(text, secret string) string {
	if secret == "" {
		return text
	}
	text = strings.ReplaceAll(text, secret, Redacted)
	if enc := base64.StdEncoding.EncodeToString([]byte(secret)); enc != secret {
		text = strings.ReplaceAll(text, enc, Redacted)
	}
	if enc := url.QueryEscape(secret); enc != secret {
		text = strings.ReplaceAll(text, enc, Redacted)
	}
	return text
}
