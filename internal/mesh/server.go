package mesh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eliochat/eliocore/internal/nodes"
)

// RelayHandler answers a RelayRequest. Implemented by internal/relay.
type RelayHandler interface {
	Handle(ctx context.Context, req RelayRequestMsg) RelayResponseMsg
}

// SpecVerifyHandler answers a SpecVerifyRequest. Implemented by
// internal/mesh/speculative.
type SpecVerifyHandler interface {
	Verify(ctx context.Context, req SpecVerifyRequestMsg) SpecVerifyResponseMsg
}

// SocialHandler receives the opaque peer-to-peer social envelopes
// (DirectMessage/FriendRequest/FriendAcceptance) the router itself has
// no business interpreting.
type SocialHandler interface {
	DirectMessage(DirectMessageMsg)
	FriendRequest(FriendRequestMsg)
	FriendAcceptance(FriendAcceptanceMsg)
}

// conn wraps one peer's live connection: a single-writer-protected encoder
// plus the reader for its inbound envelope stream. The peer table is
// never held across I/O, so conn has no lock shared with Server.connections
// beyond the map itself.
type conn struct {
	netConn net.Conn
	reader  *Reader
	writeMu sync.Mutex
}

func newConn(nc net.Conn, maxFrameBytes int) *conn {
	return &conn{netConn: nc, reader: NewReader(nc, maxFrameBytes)}
}

func (c *conn) send(typ Type, payload any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return Encode(c.netConn, typ, payload)
}

// ServerConfig configures the mesh connection server.
type ServerConfig struct {
	SelfID          nodes.PeerID
	SelfDisplayName string
	MaxFrameBytes   int
}

// Server accepts peer connections, performs the PeerDiscovery handshake
// required before any inference may be forwarded through a connection,
// and dispatches inbound envelopes to the Router, Client, and optional
// Relay/SpecVerify/Social handlers. It owns the connection table the
// Router and Client address peers through by id, breaking the reference
// cycle between them: Router and Client hold no pointer to Server, only
// to this table via the Sender/Forwarder interfaces.
type Server struct {
	config    ServerConfig
	directory *nodes.Directory
	router    *Router
	client    *Client
	relay     RelayHandler
	spec      SpecVerifyHandler
	social    SocialHandler
	logger    *slog.Logger

	mu    sync.RWMutex
	conns map[nodes.PeerID]*conn
}

// NewServer creates a mesh Server. relay, spec, and social may be nil;
// unhandled envelope types of that kind are logged and dropped.
func NewServer(config ServerConfig, directory *nodes.Directory, router *Router, client *Client, relay RelayHandler, spec SpecVerifyHandler, social SocialHandler, logger *slog.Logger) *Server {
	if config.MaxFrameBytes <= 0 {
		config.MaxFrameBytes = DefaultMaxFrameBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		directory: directory,
		router:    router,
		client:    client,
		relay:     relay,
		spec:      spec,
		social:    social,
		logger:    logger.With("component", "mesh.server"),
		conns:     make(map[nodes.PeerID]*conn),
	}
}

// localDiscovery builds this device's outgoing PeerDiscovery payload.
func (s *Server) localDiscovery(capability nodes.Capability) PeerDiscoveryMsg {
	known := s.directory.List()
	connected := make([]nodes.PeerID, 0, len(known))
	for _, p := range known {
		connected = append(connected, p.ID)
	}
	return PeerDiscoveryMsg{
		DeviceID:        s.config.SelfID,
		DisplayName:     s.config.SelfDisplayName,
		Capability:      capability,
		ConnectedPeers:  connected,
		ProtocolVersion: 1,
	}
}

// HandleConn drives one accepted or dialed connection to completion: the
// PeerDiscovery handshake, then the dispatch loop, until the connection
// closes or ctx is cancelled.
func (s *Server) HandleConn(ctx context.Context, nc net.Conn, capability nodes.Capability) error {
	c := newConn(nc, s.config.MaxFrameBytes)
	defer nc.Close()

	if err := c.send(TypePeerDiscovery, s.localDiscovery(capability)); err != nil {
		return fmt.Errorf("mesh: send discovery: %w", err)
	}

	env, err := c.reader.ReadEnvelope()
	if err != nil {
		return fmt.Errorf("mesh: await discovery: %w", err)
	}
	if env.Type != TypePeerDiscovery {
		return fmt.Errorf("mesh: expected peer_discovery, got %s", env.Type)
	}
	var disco PeerDiscoveryMsg
	if err := DecodePayload(env, &disco); err != nil {
		return fmt.Errorf("mesh: decode discovery: %w", err)
	}

	peerID := disco.DeviceID
	s.directory.Upsert(ctx, nodes.Peer{
		ID:               peerID,
		DisplayName:      disco.DisplayName,
		Capability:       disco.Capability,
		HopCount:         0,
		ConnectionHandle: string(peerID),
	})

	s.mu.Lock()
	if existing, ok := s.conns[peerID]; ok {
		existing.netConn.Close()
	}
	s.conns[peerID] = c
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.conns[peerID] == c {
			delete(s.conns, peerID)
		}
		s.mu.Unlock()
		s.directory.Remove(peerID)
	}()

	s.logger.Info("peer connected", "peer_id", peerID, "display_name", disco.DisplayName)

	for {
		env, err := c.reader.ReadEnvelope()
		if err != nil {
			if err == io.EOF {
				s.logger.Info("peer disconnected", "peer_id", peerID)
				return nil
			}
			return fmt.Errorf("mesh: read envelope from %s: %w", peerID, err)
		}
		s.dispatch(ctx, c, peerID, env)
	}
}

func (s *Server) dispatch(ctx context.Context, c *conn, from nodes.PeerID, env Envelope) {
	switch env.Type {
	case TypeMeshForwardRequest:
		var req ForwardRequest
		if err := DecodePayload(env, &req); err != nil {
			s.logger.Warn("bad forward request", "from", from, "error", err)
			return
		}
		resp := s.router.HandleForward(ctx, req)
		if err := c.send(TypeMeshForwardResponse, resp); err != nil {
			s.logger.Warn("failed to send forward response", "from", from, "error", err)
		}

	case TypeMeshForwardResponse:
		var resp ForwardResponse
		if err := DecodePayload(env, &resp); err != nil {
			s.logger.Warn("bad forward response", "from", from, "error", err)
			return
		}
		s.client.Deliver(resp)

	case TypeRelayRequest:
		if s.relay == nil {
			return
		}
		var req RelayRequestMsg
		if err := DecodePayload(env, &req); err != nil {
			s.logger.Warn("bad relay request", "from", from, "error", err)
			return
		}
		resp := s.relay.Handle(ctx, req)
		if err := c.send(TypeRelayResponse, resp); err != nil {
			s.logger.Warn("failed to send relay response", "from", from, "error", err)
		}

	case TypeSpecVerifyRequest:
		if s.spec == nil {
			return
		}
		var req SpecVerifyRequestMsg
		if err := DecodePayload(env, &req); err != nil {
			s.logger.Warn("bad spec verify request", "from", from, "error", err)
			return
		}
		resp := s.spec.Verify(ctx, req)
		if err := c.send(TypeSpecVerifyResponse, resp); err != nil {
			s.logger.Warn("failed to send spec verify response", "from", from, "error", err)
		}

	case TypeTopologyUpdate:
		var update TopologyUpdateMsg
		if err := DecodePayload(env, &update); err != nil {
			return
		}
		if peer, ok := s.directory.Get(update.DeviceID); ok {
			peer.Capability = update.Capability
			s.directory.Upsert(ctx, peer)
		}

	case TypeDirectMessage:
		if s.social == nil {
			return
		}
		var msg DirectMessageMsg
		if err := DecodePayload(env, &msg); err == nil {
			s.social.DirectMessage(msg)
		}

	case TypeFriendRequest:
		if s.social == nil {
			return
		}
		var msg FriendRequestMsg
		if err := DecodePayload(env, &msg); err == nil {
			s.social.FriendRequest(msg)
		}

	case TypeFriendAcceptance:
		if s.social == nil {
			return
		}
		var msg FriendAcceptanceMsg
		if err := DecodePayload(env, &msg); err == nil {
			s.social.FriendAcceptance(msg)
		}

	default:
		s.logger.Debug("unhandled envelope type", "type", env.Type, "from", from)
	}
}

// SendForward implements Sender over the connection registry, used by
// Client to transmit a MeshForwardRequest to a specific peer.
func (s *Server) SendForward(ctx context.Context, peer nodes.Peer, req ForwardRequest) error {
	s.mu.RLock()
	c, ok := s.conns[peer.ID]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("mesh: no live connection to peer %s", peer.ID)
	}
	return c.send(TypeMeshForwardRequest, req)
}

// BroadcastCapability sends a TopologyUpdate carrying this device's current
// capability to every connected peer, refreshing their view of it (e.g.
// battery/charging state) without a full PeerDiscovery re-handshake. Dead
// connections are logged and skipped; BroadcastCapability never blocks on a
// single slow peer longer than one envelope write.
func (s *Server) BroadcastCapability(capability nodes.Capability) {
	update := TopologyUpdateMsg{
		DeviceID:   s.config.SelfID,
		Capability: capability,
		Timestamp:  time.Now(),
	}

	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		if err := c.send(TypeTopologyUpdate, update); err != nil {
			s.logger.Debug("capability broadcast failed", "error", err)
		}
	}
}

// Listen runs a TCP accept loop on addr, handing each connection to
// HandleConn. Blocks until ctx is cancelled or the listener errors.
func (s *Server) Listen(ctx context.Context, addr string, capability nodes.Capability) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("mesh: listen %s: %w", addr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("mesh: accept: %w", err)
			}
		}
		go func() {
			if err := s.HandleConn(ctx, nc, capability); err != nil {
				s.logger.Warn("connection closed with error", "error", err)
			}
		}()
	}
}
