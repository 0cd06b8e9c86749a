// Package nodes holds the mesh peer directory: the devices discovered over
// the mesh transport, their advertised inference capability, and how
// recently each was seen.
//
// # Architecture
//
// Peers are ephemeral entities rebuilt from discovery and forward traffic,
// not owner-provisioned records. A PeerDirectory tracks every peer this
// device currently knows about:
//
//	┌─────────────────────────────────────────────────────────────────┐
//	│                       Peer Directory                             │
//	│  ┌─────────────────────────────────────────────────────────────┐│
//	│  │   Discovery    ->   Peer Record    ->   Route Table          ││
//	│  │  (Bonjour)         (capability,         (destination ->     ││
//	│  │                     hop-count,           next-hop)          ││
//	│  │                     last-seen)                               ││
//	│  └─────────────────────────────────────────────────────────────┘│
//	└─────────────────────────────────────────────────────────────────┘
//
// # Capability scoring
//
// Each peer advertises whether it can run inference locally, its free
// memory, and its power state. BestPeer ranks candidates by the
// deterministic score formula: a device with a local model and charging
// scores far above a battery-constrained phone several hops away.
package nodes

import (
	"time"
)

// PeerID uniquely identifies a peer device. Device-ids are globally unique
// and persist across restarts on the owning device.
type PeerID string

// PeerStatus represents the current reachability of a peer.
type PeerStatus string

const (
	// StatusOnline means the peer was seen within the staleness threshold.
	StatusOnline PeerStatus = "online"

	// StatusStale means the peer's last-seen timestamp has aged past the
	// directory's eviction threshold; it is kept briefly for diagnostics
	// before Prune removes it.
	StatusStale PeerStatus = "stale"
)

// Capability describes what a peer can currently offer the mesh. Score is a
// deterministic function of these fields (see Score).
type Capability struct {
	// HasLocalLLM reports whether the peer can serve inference directly.
	HasLocalLLM bool

	// ModelName is the peer's loaded model, when known.
	ModelName string

	// FreeMemoryGB is the peer's available memory in gigabytes.
	FreeMemoryGB float64

	// BatteryLevel is 0-100, meaningful only when non-nil (some peers,
	// e.g. servers, have no battery).
	BatteryLevel *float64

	// IsCharging reports whether the peer is on mains power.
	IsCharging bool

	// CPUCores is the peer's core count, when known.
	CPUCores int
}

// Score computes the capability score used by the mesh router's peer
// selection: 100 for a local LLM, 10 per free GB of memory, and a
// power term that favors a charging device over battery level alone.
func (c Capability) Score() float64 {
	var score float64
	if c.HasLocalLLM {
		score += 100
	}
	score += 10 * c.FreeMemoryGB
	if c.IsCharging {
		score += 50
	} else if c.BatteryLevel != nil {
		score += 0.5 * *c.BatteryLevel
	}
	return score
}

// Peer represents a device known to this node's mesh directory.
type Peer struct {
	// ID is the peer's stable device identifier.
	ID PeerID `json:"id"`

	// DisplayName is the human-readable device name.
	DisplayName string `json:"display_name"`

	// Endpoint is the address used to reach this peer directly (host:port
	// or a transport-specific string), empty if only reachable indirectly.
	Endpoint string `json:"endpoint,omitempty"`

	// Capability is the peer's most recently advertised capability.
	Capability Capability `json:"capability"`

	// HopCount is the distance to this peer in mesh hops, 0 for a
	// directly-connected peer.
	HopCount int `json:"hop_count"`

	// LastSeen is when this peer was last heard from, directly or via a
	// TopologyUpdate relayed by another peer.
	LastSeen time.Time `json:"last_seen"`

	// ConnectionHandle opaquely identifies the live connection backing
	// this peer, when one is held open; empty for peers known only
	// transitively.
	ConnectionHandle string `json:"connection_handle,omitempty"`
}

// Status reports online/stale based on staleTimeout measured against now.
func (p *Peer) Status(now time.Time, staleTimeout time.Duration) PeerStatus {
	if now.Sub(p.LastSeen) > staleTimeout {
		return StatusStale
	}
	return StatusOnline
}

// RouteEntry is one row of a route table rebuilt from the peer set: how to
// reach destination, and through which neighbor. The table is rebuilt
// wholesale from the peer set and never mutated mid-traversal.
type RouteEntry struct {
	DestinationID PeerID    `json:"destination_id"`
	NextHopID     PeerID    `json:"next_hop_id"`
	HopCount      int       `json:"hop_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}
