package config

import "time"

// RelayConfig configures the domain-whitelisted HTTP relay that lets
// peers without internet access route requests through a connected peer.
type RelayConfig struct {
	// AllowedHosts is the fixed allow-list of hosts RelayRequest.URL may
	// target. Matching is exact-host (no wildcard/subdomain expansion).
	AllowedHosts []string `yaml:"allowed_hosts"`

	// RateLimitPerWindow is the maximum number of requests a single
	// client-id may make within RateLimitWindow.
	RateLimitPerWindow int `yaml:"rate_limit_per_window"`

	// RateLimitWindow is the sliding window duration for the limit above.
	RateLimitWindow time.Duration `yaml:"rate_limit_window"`

	// ConnectTimeout bounds establishing the outbound connection.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// TotalTimeout bounds the entire relayed request/response cycle.
	TotalTimeout time.Duration `yaml:"total_timeout"`
}

func applyRelayDefaults(cfg *RelayConfig) {
	if len(cfg.AllowedHosts) == 0 {
		cfg.AllowedHosts = []string{
			"api.anthropic.com",
			"api.openai.com",
		}
	}
	if cfg.RateLimitPerWindow == 0 {
		cfg.RateLimitPerWindow = 30
	}
	if cfg.RateLimitWindow == 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.TotalTimeout == 0 {
		cfg.TotalTimeout = 60 * time.Second
	}
}
