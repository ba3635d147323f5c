package config

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Provider holds the live configuration behind an atomic pointer so that
// /admin/reload-env can swap it without racing readers. Workers re-read the
// current config at message boundaries.
type Provider struct {
	current atomic.Pointer[Config]
}

// NewProvider creates a Provider seeded with an already-validated config.
func NewProvider(cfg *Config) *Provider {
	p := &Provider{}
	p.current.Store(cfg)
	return p
}

// Current returns the live configuration snapshot.
func (p *Provider) Current() *Config {
	return p.current.Load()
}

// Reload re-loads and validates configuration from the original directory and
// swaps it in atomically. On failure the previous configuration stays active.
func (p *Provider) Reload(ctx context.Context) (*Config, error) {
	old := p.Current()
	cfg, err := Initialize(ctx, old.ConfigDir())
	if err != nil {
		slog.Error("Configuration reload failed, keeping previous config", "error", err)
		return nil, err
	}
	p.current.Store(cfg)
	slog.Info("Configuration reloaded")
	return cfg, nil
}
