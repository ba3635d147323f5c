package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kisohq/kiso/pkg/config"
)

func boolPtr(v bool) *bool { return &v }

func testDeliverer(t *testing.T, wh config.WebhookConfig) *Deliverer {
	t.Helper()
	d := NewDeliverer(config.NewProvider(&config.Config{Webhook: wh}))
	d.backoff = []time.Duration{time.Millisecond, time.Millisecond, time.Millisecond}
	return d
}

func allowAll(host string) config.WebhookConfig {
	return config.WebhookConfig{
		RequireHTTPS: boolPtr(false),
		AllowList:    []string{host},
		MaxPayload:   1 << 20,
	}
}

func TestDeliver_SignsPayload(t *testing.T) {
	t.Setenv("TEST_WH_SECRET", "topsecret")

	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	wh := allowAll(srv.Listener.Addr().String())
	wh.SecretEnv = "TEST_WH_SECRET"
	d := testDeliverer(t, wh)

	err := d.Deliver(context.Background(), srv.URL, Payload{
		Session: "s1", TaskID: 7, Type: "msg", Content: "done", Final: true,
	})
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	var p Payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Equal(t, "s1", p.Session)
	assert.True(t, p.Final)
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	d := testDeliverer(t, allowAll(srv.Listener.Addr().String()))
	err := d.Deliver(context.Background(), srv.URL, Payload{Session: "s1", Type: "msg"})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDeliver_TotalFailure(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := testDeliverer(t, allowAll(srv.Listener.Addr().String()))
	err := d.Deliver(context.Background(), srv.URL, Payload{Session: "s1", Type: "msg"})
	require.Error(t, err)
	assert.Equal(t, 4, calls) // initial attempt plus three retries
}

func TestDeliver_TruncatesContent(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	wh := allowAll(srv.Listener.Addr().String())
	wh.MaxPayload = 512
	d := testDeliverer(t, wh)

	err := d.Deliver(context.Background(), srv.URL, Payload{
		Session: "s1", Type: "msg", Content: strings.Repeat("x", 4096),
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(gotBody), 512)

	var p Payload
	require.NoError(t, json.Unmarshal(gotBody, &p))
	assert.Contains(t, p.Content, "[truncated]")
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wh      config.WebhookConfig
		wantErr bool
	}{
		{name: "public https", url: "https://hooks.example.com/x", wh: config.WebhookConfig{}},
		{name: "http rejected when tls required", url: "http://hooks.example.com/x", wh: config.WebhookConfig{}, wantErr: true},
		{name: "http ok when tls optional", url: "http://hooks.example.com/x", wh: config.WebhookConfig{RequireHTTPS: boolPtr(false)}},
		{name: "bad scheme", url: "ftp://example.com/x", wh: config.WebhookConfig{}, wantErr: true},
		{name: "localhost rejected", url: "https://localhost:9000/x", wh: config.WebhookConfig{}, wantErr: true},
		{name: "loopback ip rejected", url: "https://127.0.0.1/x", wh: config.WebhookConfig{}, wantErr: true},
		{name: "private ip rejected", url: "https://10.1.2.3/x", wh: config.WebhookConfig{}, wantErr: true},
		{name: "allow list admits localhost http", url: "http://localhost:9000/x",
			wh: config.WebhookConfig{AllowList: []string{"localhost:9000"}}},
		{name: "allow list by hostname", url: "https://192.168.0.10/x",
			wh: config.WebhookConfig{AllowList: []string{"192.168.0.10"}}},
		{name: "missing host", url: "https:///x", wh: config.WebhookConfig{}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateURL(tc.url, tc.wh)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidURL)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
