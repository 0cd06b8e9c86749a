// Package config loads and validates the eliocore configuration file: the
// mesh listener, Bonjour service identity, relay allow-list, orchestrator
// defaults, and the backend(s) available to the agent loop.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level eliocore configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Mesh         MeshConfig         `yaml:"mesh"`
	Relay        RelayConfig        `yaml:"relay"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Backend      BackendConfig      `yaml:"backend"`
	Device       DeviceConfig       `yaml:"device"`
	Logging      LoggingConfig      `yaml:"logging"`
	Tracing      TracingConfig      `yaml:"tracing"`
}

// OrchestratorConfig mirrors the agent-loop's configuration knobs that are
// safe to source from a config file (callbacks and injected dependencies
// are wired in code, not YAML).
type OrchestratorConfig struct {
	MaxIterations    int  `yaml:"max_iterations"`
	MaxToolResultLen int  `yaml:"max_tool_result_len"`
	UseJapanese      bool `yaml:"use_japanese"`
}

// DeviceConfig locates the sqlite-backed device-identity store: per-device
// UUID, pairing code, and daily stats.
type DeviceConfig struct {
	// IdentityPath is the sqlite database file path.
	IdentityPath string `yaml:"identity_path"`

	// PairingCodeTTL controls how long a rotated pairing code remains
	// advertised before a fresh rotation is expected; zero means no
	// automatic rotation.
	PairingCodeTTL time.Duration `yaml:"pairing_code_ttl"`

	// StatsRolloverCron is the cron expression (robfig/cron/v3 syntax)
	// that triggers the daily request/earn stats rollover.
	StatsRolloverCron string `yaml:"stats_rollover_cron"`
}

// Load reads path (YAML or JSON5, with $include resolution via LoadRaw),
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile is a narrower entry point than Load: no $include resolution, a
// single YAML document read directly from path. Kept for callers (tests,
// small embedded deployments) that don't need the include machinery.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyMeshDefaults(&cfg.Mesh)
	applyRelayDefaults(&cfg.Relay)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyBackendDefaults(&cfg.Backend)
	applyDeviceDefaults(&cfg.Device)
	applyLoggingDefaults(&cfg.Logging)
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 10
	}
	if cfg.MaxToolResultLen == 0 {
		cfg.MaxToolResultLen = 8192
	}
}

func applyDeviceDefaults(cfg *DeviceConfig) {
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = "eliocore-device.sqlite"
	}
	if cfg.PairingCodeTTL == 0 {
		cfg.PairingCodeTTL = 30 * 24 * time.Hour
	}
	if cfg.StatsRolloverCron == "" {
		cfg.StatsRolloverCron = "0 0 * * *"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("ELIOCORE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("ELIOCORE_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Mesh.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ELIOCORE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		if cfg.Backend.Providers == nil {
			cfg.Backend.Providers = map[string]BackendProviderConfig{}
		}
		p := cfg.Backend.Providers["anthropic"]
		p.APIKey = value
		cfg.Backend.Providers["anthropic"] = p
	}
}

// ValidationError reports one or more config problems found during
// validation.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	if cfg.Mesh.MaxHops <= 0 {
		issues = append(issues, "mesh.max_hops must be positive")
	}
	if cfg.Mesh.Port <= 0 || cfg.Mesh.Port > 65535 {
		issues = append(issues, "mesh.port must be a valid TCP port")
	}
	if cfg.Relay.RateLimitPerWindow <= 0 {
		issues = append(issues, "relay.rate_limit_per_window must be positive")
	}
	if cfg.Orchestrator.MaxIterations <= 0 {
		issues = append(issues, "orchestrator.max_iterations must be positive")
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", cfg.Logging.Format))
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(payload)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}
