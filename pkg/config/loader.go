package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"
)

const configFileName = "config.toml"

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read config.toml from configDir
//  2. Expand environment variables ({{.VAR}} templates)
//  3. Parse TOML into the Config struct
//  4. Merge built-in defaults for unset sections
//  5. Validate everything
func Initialize(_ context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"roles", stats.Roles,
		"providers", stats.Providers,
		"users", stats.Users,
		"tokens", stats.Tokens)

	return cfg, nil
}

func load(configDir string) (*Config, error) {
	path := filepath.Join(configDir, configFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(configFileName, fmt.Errorf("%w: %s", ErrConfigNotFound, path))
		}
		return nil, NewLoadError(configFileName, err)
	}

	data = ExpandEnv(data)

	cfg := &Config{
		Models:    make(map[string]string),
		Providers: make(map[string]ProviderConfig),
		Users:     make(map[string]UserConfig),
		Aliases:   make(map[string]map[string]string),
		Tokens:    make(map[string]TokenConfig),
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, NewLoadError(configFileName, fmt.Errorf("%w: %v", ErrInvalidTOML, err))
	}
	cfg.configDir = configDir

	// Merge built-in defaults; user-provided non-zero values win.
	limits := DefaultLimits()
	if err := mergo.Merge(&cfg.Limits, *limits); err != nil {
		return nil, fmt.Errorf("failed to merge limit defaults: %w", err)
	}
	if err := mergo.Merge(&cfg.Server, DefaultServer()); err != nil {
		return nil, fmt.Errorf("failed to merge server defaults: %w", err)
	}
	if err := mergo.Merge(&cfg.Webhook, DefaultWebhook()); err != nil {
		return nil, fmt.Errorf("failed to merge webhook defaults: %w", err)
	}
	if err := mergo.Merge(&cfg.Search, DefaultSearch()); err != nil {
		return nil, fmt.Errorf("failed to merge search defaults: %w", err)
	}

	cfg.Server.DataDir = expandHome(cfg.Server.DataDir)

	return cfg, nil
}

func validate(cfg *Config) error {
	v := NewValidator(cfg)
	return v.ValidateAll()
}

func defaultDataDir() string {
	return expandHome("~/.kiso")
}

func expandHome(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
