// Package mesh implements the loop-free multi-hop inference fabric:
// newline-framed JSON envelopes carrying inference requests across a
// Bonjour-discovered peer network, a client-side capability-scored
// forwarder with a pending-request promise table, and the server-side
// router that answers a MeshForwardRequest arriving over the wire.
//
// # Wire format
//
// Every envelope is a single JSON object followed by one 0x0A byte:
//
//	{"type": "mesh_forward_request", "payload": {...}}\n
//
// Readers must buffer a complete line before dispatching; writers must
// never emit a newline inside payload (json.Marshal never does).
package mesh

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/eliochat/eliocore/internal/nodes"
)

// Type enumerates the wire envelope's "type" discriminator.
type Type string

const (
	TypeInferenceRequest     Type = "inference_request"
	TypeRelayRequest         Type = "relay_request"
	TypeRelayResponse        Type = "relay_response"
	TypeMeshForwardRequest   Type = "mesh_forward_request"
	TypeMeshForwardResponse  Type = "mesh_forward_response"
	TypePeerDiscovery        Type = "peer_discovery"
	TypeTopologyUpdate       Type = "topology_update"
	TypeSpecVerifyRequest    Type = "spec_verify_request"
	TypeSpecVerifyResponse   Type = "spec_verify_response"
	TypeDirectMessage        Type = "direct_message"
	TypeFriendRequest        Type = "friend_request"
	TypeFriendAcceptance     Type = "friend_acceptance"
)

// Envelope is the newline-framed wire wrapper: {type, payload}. Payload
// is carried as raw JSON so a reader can dispatch on Type before deciding
// which concrete struct to unmarshal into.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// DefaultMaxFrameBytes bounds a single envelope; larger frames are
// rejected rather than buffered without limit.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// InferenceRequest is the payload a client sends to originate an inference,
// either directly to a backend or wrapped in a MeshForwardRequest.
type InferenceRequest struct {
	RequestID string            `json:"request_id"`
	Messages  []json.RawMessage `json:"messages"`
	System    string            `json:"system,omitempty"`
	Settings  map[string]any    `json:"settings,omitempty"`
}

// ForwardRequest is the MeshForwardRequest payload.
// Invariant: on forwarding, the forwarder's id is appended to Visited
// before relay; Visited always contains the origin.
type ForwardRequest struct {
	RequestID       string            `json:"request_id"`
	Origin          nodes.PeerID      `json:"origin"`
	Payload         InferenceRequest  `json:"payload"`
	Visited         []nodes.PeerID    `json:"visited_nodes"`
	MaxHops         int               `json:"max_hops"`
	OriginTimestamp time.Time         `json:"origin_timestamp"`
}

// Contains reports whether id already appears in the visited set.
func (r ForwardRequest) Contains(id nodes.PeerID) bool {
	for _, v := range r.Visited {
		if v == id {
			return true
		}
	}
	return false
}

// ForwardResponse is the MeshForwardResponse payload returned to the
// originator (or to the next hop back toward it).
type ForwardResponse struct {
	RequestID           string         `json:"request_id"`
	Response            string         `json:"response,omitempty"`
	RoutePath            []nodes.PeerID `json:"route_path,omitempty"`
	HopCount             int            `json:"hop_count"`
	ProcessingDeviceName string         `json:"processing_device_name,omitempty"`
	Error                string         `json:"error,omitempty"`
}

// PeerDiscoveryMsg is exchanged when a connection is established: both
// sides announce their device-id, name, capability, and connected-peer
// list so each directory can learn the other transitively.
type PeerDiscoveryMsg struct {
	DeviceID         nodes.PeerID       `json:"device_id"`
	DisplayName      string             `json:"display_name"`
	Capability       nodes.Capability   `json:"capability"`
	ConnectedPeers   []nodes.PeerID     `json:"connected_peers"`
	ProtocolVersion  int                `json:"protocol_version"`
}

// TopologyUpdateMsg propagates a capability/liveness refresh to peers
// without a full re-handshake.
type TopologyUpdateMsg struct {
	DeviceID   nodes.PeerID     `json:"device_id"`
	Capability nodes.Capability `json:"capability"`
	Timestamp  time.Time        `json:"timestamp"`
}

// RelayRequestMsg is the payload forwarded to the relay handler.
type RelayRequestMsg struct {
	ID       string            `json:"id"`
	URL      string            `json:"url"`
	Method   string            `json:"method"`
	Headers  map[string]string `json:"headers,omitempty"`
	Body     []byte            `json:"body,omitempty"`
	ClientID string            `json:"client_id"`
}

// RelayResponseMsg is the relay's reply.
type RelayResponseMsg struct {
	ID         string            `json:"id"`
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       []byte            `json:"body,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// SpecVerifyRequestMsg and SpecVerifyResponseMsg implement speculative
// decoding verification.
type SpecVerifyRequestMsg struct {
	RequestID   string         `json:"request_id"`
	DraftTokens []string       `json:"draft_tokens"`
	Settings    map[string]any `json:"settings,omitempty"`
}

type SpecVerifyResponseMsg struct {
	RequestID      string   `json:"request_id"`
	AcceptedTokens []string `json:"accepted_tokens"`
	RejectedIndex  *int     `json:"rejected_index,omitempty"`
	FallbackToken  string   `json:"fallback_token,omitempty"`
}

// DirectMessageMsg, FriendRequestMsg, and FriendAcceptanceMsg are the
// peer-to-peer social envelopes. Their content is opaque to the router:
// it only needs to frame and forward them.
type DirectMessageMsg struct {
	From      nodes.PeerID `json:"from"`
	To        nodes.PeerID `json:"to"`
	Body      string       `json:"body"`
	Timestamp time.Time    `json:"timestamp"`
}

type FriendRequestMsg struct {
	From        nodes.PeerID `json:"from"`
	To          nodes.PeerID `json:"to"`
	DisplayName string       `json:"display_name"`
	// Signature is a pluggable authentication hook: the scheme itself is
	// left to the concrete signer (see internal/device.Signer), and this
	// field carries whatever bytes it produced over From+To+DisplayName.
	Signature []byte `json:"signature,omitempty"`
}

type FriendAcceptanceMsg struct {
	From nodes.PeerID `json:"from"`
	To   nodes.PeerID `json:"to"`
}

// Encode writes v as an envelope of the given type, newline-terminated, to w.
func Encode(w io.Writer, typ Type, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("mesh: encode payload: %w", err)
	}
	env := Envelope{Type: typ, Payload: payload}
	line, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("mesh: encode envelope: %w", err)
	}
	if _, err := w.Write(line); err != nil {
		return err
	}
	_, err = w.Write([]byte{'\n'})
	return err
}

// Reader reads newline-framed envelopes from an underlying stream,
// enforcing MaxFrameBytes as a bounded-size policy.
type Reader struct {
	br            *bufio.Reader
	maxFrameBytes int
}

// NewReader wraps r with a bounded-size framer. maxFrameBytes <= 0 uses
// DefaultMaxFrameBytes.
func NewReader(r io.Reader, maxFrameBytes int) *Reader {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Reader{br: bufio.NewReaderSize(r, 4096), maxFrameBytes: maxFrameBytes}
}

// ErrFrameTooLarge indicates a single envelope exceeded the configured cap.
var ErrFrameTooLarge = fmt.Errorf("mesh: frame exceeds max frame size")

// ReadEnvelope reads one newline-terminated envelope and decodes it.
func (r *Reader) ReadEnvelope() (Envelope, error) {
	var line []byte
	for {
		chunk, err := r.br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > r.maxFrameBytes {
			return Envelope{}, ErrFrameTooLarge
		}
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(chunk) > 0 {
			break
		}
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Envelope{}, fmt.Errorf("mesh: decode envelope: %w", err)
	}
	return env, nil
}

// DecodePayload unmarshals an envelope's payload into dst.
func DecodePayload(env Envelope, dst any) error {
	return json.Unmarshal(env.Payload, dst)
}
