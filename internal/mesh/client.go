package mesh

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eliochat/eliocore/internal/agent"
	"github.com/eliochat/eliocore/internal/nodes"
)

// ErrNoPeersAvailable indicates BestPeer found no eligible candidate.
var ErrNoPeersAvailable = errors.New("mesh: no peers available")

// Sender transmits a framed envelope to a specific peer's live connection.
// Implementations own the underlying transport (a TCP connection accepted
// by the mesh listener, in the reference deployment).
type Sender interface {
	SendForward(ctx context.Context, peer nodes.Peer, req ForwardRequest) error
}

// pendingEntry is one in-flight request awaiting a ForwardResponse,
// correlated solely by RequestID: routing is stateless in intermediate
// nodes, so a channel-based promise keyed by request id is how the
// originator resolves whichever hop's response arrives first.
type pendingEntry struct {
	resultCh chan ForwardResponse
}

// ClientConfig configures a Client's peer selection and timeout policy.
type ClientConfig struct {
	SelfID         nodes.PeerID
	MaxHops        int
	ForwardTimeout time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.MaxHops <= 0 {
		c.MaxHops = 5
	}
	if c.ForwardTimeout <= 0 {
		c.ForwardTimeout = 60 * time.Second
	}
}

// Client originates mesh-forwarded inference requests: it selects the best
// peer by an adjusted capability score, sends a ForwardRequest, and awaits
// a matching ForwardResponse or times out.
type Client struct {
	config    ClientConfig
	directory *nodes.Directory
	sender    Sender
	logger    *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEntry
}

// NewClient creates a mesh Client.
func NewClient(config ClientConfig, directory *nodes.Directory, sender Sender, logger *slog.Logger) *Client {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    config,
		directory: directory,
		sender:    sender,
		logger:    logger.With("component", "mesh.client"),
		pending:   make(map[string]*pendingEntry),
	}
}

// clientScore adjusts a peer's base capability score with client-side
// terms: a penalty for hop distance and a freshness bonus, favoring a
// peer that is both capable and close/recently seen.
func clientScore(p nodes.Peer, now time.Time) float64 {
	score := p.Capability.Score() - 10*float64(p.HopCount)
	age := now.Sub(p.LastSeen)
	switch {
	case age < 60*time.Second:
		score += 20
	case age < 300*time.Second:
		score += 10
	}
	return score
}

// BestPeer selects the highest client-adjusted-score peer, excluding self.
func (c *Client) BestPeer() (nodes.Peer, bool) {
	now := time.Now()
	var best nodes.Peer
	var bestScore float64
	found := false
	for _, p := range c.directory.List() {
		if p.ID == c.config.SelfID {
			continue
		}
		s := clientScore(p, now)
		if !found || s > bestScore {
			best, bestScore, found = p, s, true
		}
	}
	return best, found
}

// Invoke originates a MeshForwardRequest to the best available peer,
// registers a pending-request promise, and awaits the response or a
// 60-second timeout. On timeout the pending entry is removed and a
// NETWORK_ERROR is returned; a late-arriving response is discarded
// silently by Deliver.
func (c *Client) Invoke(ctx context.Context, payload InferenceRequest) (ForwardResponse, error) {
	peer, ok := c.BestPeer()
	if !ok {
		return ForwardResponse{}, ErrNoPeersAvailable
	}

	requestID := payload.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
		payload.RequestID = requestID
	}

	req := ForwardRequest{
		RequestID:       requestID,
		Origin:          c.config.SelfID,
		Payload:         payload,
		Visited:         []nodes.PeerID{c.config.SelfID},
		MaxHops:         c.config.MaxHops,
		OriginTimestamp: time.Now(),
	}

	return c.SendAndAwait(ctx, peer, req)
}

// SendAndAwait sends an already-constructed ForwardRequest to a specific
// peer and awaits its ForwardResponse, correlated by RequestID. Used both
// by Invoke (originating client, peer chosen by BestPeer) and by a Router
// acting as a Forwarder when relaying a request it did not originate: an
// intermediate node's forward to its chosen next hop is itself a pending
// request awaiting that hop's reply.
func (c *Client) SendAndAwait(ctx context.Context, peer nodes.Peer, req ForwardRequest) (ForwardResponse, error) {
	entry := &pendingEntry{resultCh: make(chan ForwardResponse, 1)}
	c.mu.Lock()
	c.pending[req.RequestID] = entry
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}

	if err := c.sender.SendForward(ctx, peer, req); err != nil {
		cleanup()
		return ForwardResponse{}, agent.NetworkError(err.Error())
	}

	timer := time.NewTimer(c.config.ForwardTimeout)
	defer timer.Stop()

	select {
	case resp := <-entry.resultCh:
		cleanup()
		if resp.Error != "" {
			return resp, agent.ServerError("mesh", resp.Error)
		}
		return resp, nil
	case <-timer.C:
		cleanup()
		return ForwardResponse{}, agent.NetworkError("mesh forward timed out awaiting response")
	case <-ctx.Done():
		cleanup()
		return ForwardResponse{}, agent.Wrap(agent.KindCancelled, ctx.Err())
	}
}

// Forward adapts Client to the Router's Forwarder interface: an
// intermediate node forwarding to its chosen next hop.
func (c *Client) Forward(ctx context.Context, peer nodes.Peer, req ForwardRequest) (ForwardResponse, error) {
	return c.SendAndAwait(ctx, peer, req)
}

// Deliver resolves the pending request matching resp.RequestID, if any. A
// response with no matching pending entry (already timed out, or a
// duplicate) is discarded silently.
func (c *Client) Deliver(resp ForwardResponse) {
	c.mu.Lock()
	entry, ok := c.pending[resp.RequestID]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("discarding unmatched mesh response", "request_id", resp.RequestID)
		return
	}
	select {
	case entry.resultCh <- resp:
	default:
	}
}

// PendingCount reports how many requests are currently awaiting a response,
// for diagnostics.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
