package nodes

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for testing and
// deployments that don't need the peer address book to survive a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	peers map[PeerID]*Peer
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{peers: make(map[PeerID]*Peer)}
}

// SavePeer creates or updates a peer entry.
func (s *MemoryStore) SavePeer(ctx context.Context, peer *Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	peerCopy := *peer
	s.peers[peer.ID] = &peerCopy
	return nil
}

// GetPeer retrieves a peer by id.
func (s *MemoryStore) GetPeer(ctx context.Context, id PeerID) (*Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.peers[id]
	if !ok {
		return nil, ErrPeerNotFound
	}
	peerCopy := *p
	return &peerCopy, nil
}

// ListPeers returns every known peer.
func (s *MemoryStore) ListPeers(ctx context.Context) ([]*Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peerCopy := *p
		out = append(out, &peerCopy)
	}
	return out, nil
}

// DeletePeer removes a peer entry.
func (s *MemoryStore) DeletePeer(ctx context.Context, id PeerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.peers, id)
	return nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
