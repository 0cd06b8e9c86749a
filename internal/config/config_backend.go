package config

// BackendConfig configures the Backend implementations available to the
// orchestrator's Local/Cloud/Mesh/Speculative variants. Only the Cloud
// variant's credentials are config-driven; Local/Mesh/Speculative are
// constructed in code against already-running collaborators.
type BackendConfig struct {
	DefaultProvider string                           `yaml:"default_provider"`
	Providers       map[string]BackendProviderConfig `yaml:"providers"`
}

// BackendProviderConfig is one named Cloud backend's credentials.
type BackendProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]BackendProviderConfig{}
	}
	if p, ok := cfg.Providers["anthropic"]; ok && p.DefaultModel == "" {
		p.DefaultModel = "claude-sonnet-4-5"
		cfg.Providers["anthropic"] = p
	}
}
