package router

import (
	"relay"
)

// Mode selects how a provider's model is chosen.
type Mode string

const (
	ModeAuto  Mode = "auto"
	ModeFixed Mode = "fixed"
)

// autoProvider is the DefaultProvider value that enables auto-routing.
const autoProvider = "auto"

// ProviderPref is the per-provider routing preference.
type ProviderPref struct {
	Mode         Mode   `json:"mode"`
	FixedModelID string `json:"fixedModelId,omitempty"`
}

// Override pins routing to one provider until cleared.
type Override struct {
	Enabled      bool   `json:"enabled"`
	Provider     string `json:"provider,omitempty"`
	Mode         Mode   `json:"mode,omitempty"`
	FixedModelID string `json:"fixedModelId,omitempty"`
}

// LastUsed records the provider/model pair that served the last prompt.
type LastUsed struct {
	Provider string `json:"provider,omitempty"`
	ModelID  string `json:"modelId,omitempty"`
}

// Config is the persistent router configuration.
type Config struct {
	DefaultProvider  string                  `json:"defaultProvider"`
	Providers        map[string]ProviderPref `json:"providers,omitempty"`
	SelectedOverride Override                `json:"selectedOverride"`
	LastUsed         LastUsed                `json:"lastUsed"`
}

// Default returns the auto-routing configuration.
func Default() Config {
	return Config{DefaultProvider: autoProvider}
}

// Normalize rewrites a config into canonical form. Unknown providers
// collapse to auto, legacy provider aliases are mapped to current ids, and
// fixed mode without a model falls back to auto. Idempotent.
func Normalize(cfg Config) Config {
	out := Config{DefaultProvider: autoProvider}

	if cfg.DefaultProvider != "" && cfg.DefaultProvider != autoProvider {
		if id, ok := relay.ParseProvider(cfg.DefaultProvider); ok {
			out.DefaultProvider = string(id)
		}
	}

	for name, pref := range cfg.Providers {
		id, ok := relay.ParseProvider(name)
		if !ok {
			continue
		}
		norm := ProviderPref{Mode: ModeAuto}
		if pref.Mode == ModeFixed && pref.FixedModelID != "" {
			norm = ProviderPref{Mode: ModeFixed, FixedModelID: pref.FixedModelID}
		}
		if norm.Mode == ModeAuto && norm.FixedModelID == "" {
			// auto prefs carry no information; drop them so the map stays
			// minimal and normalization stays idempotent
			continue
		}
		if out.Providers == nil {
			out.Providers = make(map[string]ProviderPref)
		}
		out.Providers[string(id)] = norm
	}

	if cfg.SelectedOverride.Enabled {
		if id, ok := relay.ParseProvider(cfg.SelectedOverride.Provider); ok {
			ov := Override{Enabled: true, Provider: string(id), Mode: ModeAuto}
			if cfg.SelectedOverride.Mode == ModeFixed && cfg.SelectedOverride.FixedModelID != "" {
				ov.Mode = ModeFixed
				ov.FixedModelID = cfg.SelectedOverride.FixedModelID
			}
			out.SelectedOverride = ov
		}
	}

	if id, ok := relay.ParseProvider(cfg.LastUsed.Provider); ok {
		out.LastUsed = LastUsed{Provider: string(id), ModelID: cfg.LastUsed.ModelID}
	}

	return out
}

// fixedModelFor returns the model id a candidate must use, empty for auto.
func (c Config) fixedModelFor(id relay.ProviderID) string {
	if c.SelectedOverride.Enabled && c.SelectedOverride.Provider == string(id) &&
		c.SelectedOverride.Mode == ModeFixed {
		return c.SelectedOverride.FixedModelID
	}
	if pref, ok := c.Providers[string(id)]; ok && pref.Mode == ModeFixed {
		return pref.FixedModelID
	}
	return ""
}
