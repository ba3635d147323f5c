// Package webhook delivers msg task outputs to session-registered URLs with
// HMAC signing, SSRF-safe URL validation, payload capping, and a short retry
// schedule.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kisohq/kiso/pkg/config"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Kiso-Signature"

// ErrInvalidURL means the target URL failed validation and must never be
// contacted.
var ErrInvalidURL = errors.New("invalid webhook url")

// Payload is the JSON body POSTed to the session's webhook.
type Payload struct {
	Session string `json:"session"`
	TaskID  int64  `json:"task_id"`
	Type    string `json:"type"`
	Content string `json:"content"`
	Final   bool   `json:"final"`
}

// Deliverer posts payloads with retries. Safe for concurrent use.
type Deliverer struct {
	cfg    *config.Provider
	client *http.Client

	// backoff holds the delays before each retry; tests shrink it.
	backoff []time.Duration
}

// NewDeliverer builds a deliverer over the live config.
func NewDeliverer(cfg *config.Provider) *Deliverer {
	return &Deliverer{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		backoff: []time.Duration{time.Second, 3 * time.Second, 9 * time.Second},
	}
}

// Deliver validates the URL, signs and posts the payload, and retries on the
// 1s/3s/9s schedule. A total failure is logged and returned; callers continue
// regardless, the message stays available via polling.
func (d *Deliverer) Deliver(ctx context.Context, target string, p Payload) error {
	wh := d.cfg.Current().Webhook
	if err := ValidateURL(target, wh); err != nil {
		return err
	}

	p.Content = truncate(p.Content, wh.MaxPayload, p)
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var signature string
	if wh.SecretEnv != "" {
		if secret := os.Getenv(wh.SecretEnv); secret != "" {
			mac := hmac.New(sha256.New, []byte(secret))
			mac.Write(body)
			signature = "sha256=" + hex.EncodeToString(mac.Sum(nil))
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = d.post(ctx, target, body, signature)
		if lastErr == nil {
			return nil
		}
		if attempt >= len(d.backoff) {
			break
		}
		slog.Warn("Webhook delivery failed, retrying",
			"session", p.Session, "attempt", attempt+1, "error", lastErr)
		select {
		case <-time.After(d.backoff[attempt]):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	slog.Error("Webhook delivery failed permanently",
		"session", p.Session, "task_id", p.TaskID, "error", lastErr)
	return lastErr
}

func (d *Deliverer) post(ctx context.Context, target string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	}
	return nil
}

// ValidateURL rejects targets that must never be contacted: non-http(s)
// schemes, plain http when TLS is required, and private or loopback hosts —
// unless the host is explicitly allow-listed (the localhost dev path).
func ValidateURL(raw string, wh config.WebhookConfig) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	if allowListed(u, wh.AllowList) {
		return nil
	}
	if wh.RequireTLS() && u.Scheme != "https" {
		return fmt.Errorf("%w: https required", ErrInvalidURL)
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: private host %q", ErrInvalidURL, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: private address %q", ErrInvalidURL, host)
		}
	}
	return nil
}

func allowListed(u *url.URL, allowList []string) bool {
	for _, entry := range allowList {
		if entry == "" {
			continue
		}
		if strings.EqualFold(entry, u.Host) || strings.EqualFold(entry, u.Hostname()) {
			return true
		}
		if strings.HasPrefix(u.String(), entry) {
			return true
		}
	}
	return false
}

// truncate cuts content so the marshaled payload stays under maxPayload.
func truncate(content string, maxPayload int, p Payload) string {
	if maxPayload <= 0 {
		return content
	}
	p.Content = ""
	empty, err := json.Marshal(p)
	if err != nil {
		return content
	}
	// Rough bound: JSON escaping can grow content, so leave headroom.
	budget := maxPayload - len(empty) - 64
	if budget < 0 {
		budget = 0
	}
	if len(content) <= budget {
		return content
	}
	const marker = "\n… [truncated]"
	if budget <= len(marker) {
		return cutValid(content, budget)
	}
	return cutValid(content, budget-len(marker)) + marker
}

// cutValid cuts at a byte budget without splitting a UTF-8 sequence.
func cutValid(s string, n int) string {
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}
