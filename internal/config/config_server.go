package config

// ServerConfig configures the process-wide listen address and the
// Prometheus metrics port, independent of the mesh TCP listener in
// MeshConfig (the mesh listener speaks its own newline-framed wire
// protocol, not HTTP).
type ServerConfig struct {
	Host        string `yaml:"host"`
	MetricsPort int    `yaml:"metrics_port"`
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9090
	}
}
