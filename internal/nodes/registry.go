package nodes

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrPeerNotFound indicates the peer doesn't exist in the directory or its
// backing store.
var ErrPeerNotFound = errors.New("peer not found")

// Store provides persistence for the peer address book, so a device's known
// peers survive a restart even though their live connection state does not.
type Store interface {
	SavePeer(ctx context.Context, peer *Peer) error
	GetPeer(ctx context.Context, id PeerID) (*Peer, error)
	ListPeers(ctx context.Context) ([]*Peer, error)
	DeletePeer(ctx context.Context, id PeerID) error
}

// DirectoryConfig configures a Directory's staleness policy.
type DirectoryConfig struct {
	// StaleTimeout is how long since last-seen before a peer is considered
	// stale and eligible for eviction.
	StaleTimeout time.Duration
}

// DefaultDirectoryConfig returns sensible defaults.
func DefaultDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{StaleTimeout: 5 * time.Minute}
}

// Directory is the mutex-protected in-memory peer table:
// peer-id -> (capability, hop-count, last-seen, connection-handle). It is
// optionally backed by a Store for persistence of the address book across
// restarts; live connection state is never persisted.
type Directory struct {
	mu     sync.RWMutex
	store  Store
	config DirectoryConfig
	logger *slog.Logger

	peers map[PeerID]*Peer
}

// NewDirectory creates a peer directory, optionally backed by store (nil is
// valid: an address-book-free, purely in-memory directory).
func NewDirectory(store Store, config DirectoryConfig, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	if config.StaleTimeout <= 0 {
		config.StaleTimeout = DefaultDirectoryConfig().StaleTimeout
	}
	return &Directory{
		store:  store,
		config: config,
		logger: logger.With("component", "nodes.directory"),
		peers:  make(map[PeerID]*Peer),
	}
}

// Upsert records or refreshes a peer's entry, setting LastSeen to now. It is
// the directory-side half of a PeerDiscovery exchange or a forwarded
// TopologyUpdate.
func (d *Directory) Upsert(ctx context.Context, peer Peer) {
	peer.LastSeen = time.Now()

	d.mu.Lock()
	d.peers[peer.ID] = &peer
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.SavePeer(ctx, &peer); err != nil {
			d.logger.Warn("failed to persist peer", "peer_id", peer.ID, "error", err)
		}
	}
}

// Get returns a live peer entry by id.
func (d *Directory) Get(id PeerID) (Peer, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.peers[id]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// List returns every peer currently in the directory, in no particular
// order.
func (d *Directory) List() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Peer, 0, len(d.peers))
	for _, p := range d.peers {
		out = append(out, *p)
	}
	return out
}

// Remove drops a peer from the directory (e.g. on connection loss).
func (d *Directory) Remove(id PeerID) {
	d.mu.Lock()
	delete(d.peers, id)
	d.mu.Unlock()
}

// EvictStale removes every peer whose last-seen exceeds the configured
// staleness threshold as of now, returning their ids.
func (d *Directory) EvictStale(now time.Time) []PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()

	var evicted []PeerID
	for id, p := range d.peers {
		if now.Sub(p.LastSeen) > d.config.StaleTimeout {
			evicted = append(evicted, id)
			delete(d.peers, id)
		}
	}
	if len(evicted) > 0 {
		d.logger.Debug("evicted stale peers", "count", len(evicted))
	}
	return evicted
}

// BestPeer ranks candidates not in exclude by capability score, breaking
// ties by lowest hop-count and then by most-recent last-seen.
// Returns false if no eligible peer remains.
func (d *Directory) BestPeer(exclude map[PeerID]bool) (Peer, bool) {
	d.mu.RLock()
	candidates := make([]*Peer, 0, len(d.peers))
	for id, p := range d.peers {
		if exclude != nil && exclude[id] {
			continue
		}
		candidates = append(candidates, p)
	}
	d.mu.RUnlock()

	if len(candidates) == 0 {
		return Peer{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].Capability.Score(), candidates[j].Capability.Score()
		if si != sj {
			return si > sj
		}
		if candidates[i].HopCount != candidates[j].HopCount {
			return candidates[i].HopCount < candidates[j].HopCount
		}
		return candidates[i].LastSeen.After(candidates[j].LastSeen)
	})

	return *candidates[0], true
}

// RouteTable rebuilds a route table wholesale from the current peer set —
// never mutated mid-traversal. In this
// single-directory view every known peer is its own next hop; a
// multi-directory deployment composing several Directories would populate
// NextHopID from the owning neighbor instead.
func (d *Directory) RouteTable() []RouteEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]RouteEntry, 0, len(d.peers))
	for id, p := range d.peers {
		entries = append(entries, RouteEntry{
			DestinationID: id,
			NextHopID:     id,
			HopCount:      p.HopCount,
			UpdatedAt:     p.LastSeen,
		})
	}
	return entries
}

// LoadFromStore populates the in-memory directory from the backing store,
// for use at startup to restore the address book.
func (d *Directory) LoadFromStore(ctx context.Context) error {
	if d.store == nil {
		return nil
	}
	peers, err := d.store.ListPeers(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	for _, p := range peers {
		d.peers[p.ID] = p
	}
	d.mu.Unlock()
	return nil
}
