package config

import "time"

// MeshConfig configures the Bonjour-discovered peer fabric:
// the advertised service identity, the TCP listener peers connect to, and
// the forwarding limits enforced by the router.
type MeshConfig struct {
	// ServiceInstanceName is the Bonjour instance name advertised alongside
	// ServiceType; defaults to the device's display name if empty.
	ServiceInstanceName string `yaml:"service_instance_name"`

	// ServiceType is the Bonjour service type, e.g. "_eliochat._tcp".
	ServiceType string `yaml:"service_type"`

	// Domain is the Bonjour browsing domain, e.g. "local.".
	Domain string `yaml:"domain"`

	// Port is the TCP port the mesh listener binds and advertises.
	Port int `yaml:"port"`

	// MaxHops bounds forwarding depth for an originated MeshForwardRequest.
	MaxHops int `yaml:"max_hops"`

	// ForwardTimeout bounds how long a client waits for a MeshForwardResponse
	// before the pending-request entry is evicted.
	ForwardTimeout time.Duration `yaml:"forward_timeout"`

	// StalePeerTimeout is how long a peer may go unseen before the
	// directory evicts it.
	StalePeerTimeout time.Duration `yaml:"stale_peer_timeout"`

	// MaxFrameBytes bounds a single newline-framed envelope; oversized
	// frames are rejected rather than buffered without limit.
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	// CapabilityHeartbeat is how often this device re-broadcasts its
	// current capability (battery, charging state, free memory) to every
	// connected peer via TopologyUpdate, keeping capability-score inputs
	// fresh between full PeerDiscovery handshakes.
	CapabilityHeartbeat time.Duration `yaml:"capability_heartbeat"`
}

func applyMeshDefaults(cfg *MeshConfig) {
	if cfg.ServiceType == "" {
		cfg.ServiceType = "_eliochat._tcp"
	}
	if cfg.Domain == "" {
		cfg.Domain = "local."
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.MaxHops == 0 {
		cfg.MaxHops = 5
	}
	if cfg.ForwardTimeout == 0 {
		cfg.ForwardTimeout = 60 * time.Second
	}
	if cfg.StalePeerTimeout == 0 {
		cfg.StalePeerTimeout = 5 * time.Minute
	}
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = 1 << 20 // 1 MiB
	}
	if cfg.CapabilityHeartbeat == 0 {
		cfg.CapabilityHeartbeat = 2 * time.Minute
	}
}
