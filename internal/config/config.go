package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Store    StoreConfig    `toml:"store"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Policy   PolicyConfig   `toml:"policy"`
	Telegram TelegramConfig `toml:"telegram"`
	Live     LiveConfig     `toml:"live"`
	Observer ObserverConfig `toml:"observer"`
}

type StoreConfig struct {
	Dir             string `toml:"dir"`
	CredentialsPath string `toml:"credentials_path"`
}

type RuntimeConfig struct {
	ExecBinary string `toml:"exec_binary"`
}

type PolicyConfig struct {
	WorkspaceRoot string `toml:"workspace_root"`
}

type TelegramConfig struct {
	Token string `toml:"token"`
}

type LiveConfig struct {
	Port       int    `toml:"port"`
	PublicBase string `toml:"public_base"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	stateDir := filepath.Join(home, ".relay", "store")
	return Config{
		Store: StoreConfig{
			Dir:             stateDir,
			CredentialsPath: filepath.Join(stateDir, "credentials.json"),
		},
		Policy: PolicyConfig{WorkspaceRoot: filepath.Join(home, "relay-workspace")},
		Live:   LiveConfig{Port: 4173},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "relay.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("RELAY_STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv("RELAY_CREDENTIALS_PATH"); v != "" {
		cfg.Store.CredentialsPath = v
	}
	if v := os.Getenv("RELAY_EXEC_BINARY"); v != "" {
		cfg.Runtime.ExecBinary = v
	}
	if v := os.Getenv("RELAY_WORKSPACE_ROOT"); v != "" {
		cfg.Policy.WorkspaceRoot = v
	}
	if v := os.Getenv("RELAY_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("RELAY_LIVE_PUBLIC_BASE"); v != "" {
		cfg.Live.PublicBase = v
	}
	if v := os.Getenv("RELAY_LIVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Live.Port = port
		}
	}
	if os.Getenv("RELAY_OBSERVER_ENABLED") == "true" || os.Getenv("RELAY_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Store.CredentialsPath == "" {
		cfg.Store.CredentialsPath = filepath.Join(cfg.Store.Dir, "credentials.json")
	}
	if cfg.Live.Port <= 0 {
		cfg.Live.Port = 4173
	}

	return cfg
}
