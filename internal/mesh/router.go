package mesh

import (
	"context"
	"log/slog"
	"time"

	"github.com/eliochat/eliocore/internal/agent"
	"github.com/eliochat/eliocore/internal/infra"
	"github.com/eliochat/eliocore/internal/nodes"
)

// LocalInferer is the subset of agent.Backend the router needs to attempt a
// local-first answer to a forwarded request. It is satisfied directly by
// agent.Backend.
type LocalInferer interface {
	IsReady() bool
	Generate(ctx context.Context, history []agent.Message, systemPrompt string, sink agent.TokenSink) (string, error)
}

// Forwarder sends a ForwardRequest to a neighbor peer and returns its
// reply. Intermediate nodes are stateless: the router never remembers a
// forward once it has relayed or answered it.
type Forwarder interface {
	Forward(ctx context.Context, peer nodes.Peer, req ForwardRequest) (ForwardResponse, error)
}

// EarningsRecorder is notified when this device successfully served a
// forwarded inference locally, for the persisted daily stats.
type EarningsRecorder interface {
	RecordServedRequest(ctx context.Context, requestID string)
}

// MetricsRecorder receives instrumentation from a Router's forwarding
// decisions. Satisfied by *observability.Metrics.
type MetricsRecorder interface {
	RecordMeshForward(outcome string)
	RecordMeshHopCount(hopCount int)
}

// RouterConfig configures a Router.
type RouterConfig struct {
	SelfID               nodes.PeerID
	SelfDisplayName      string
	ForwardTimeout       time.Duration
	ForwardFailThreshold int
	ForwardOpenTimeout   time.Duration
}

func (c *RouterConfig) applyDefaults() {
	if c.ForwardTimeout <= 0 {
		c.ForwardTimeout = 60 * time.Second
	}
	if c.ForwardFailThreshold <= 0 {
		c.ForwardFailThreshold = 3
	}
	if c.ForwardOpenTimeout <= 0 {
		c.ForwardOpenTimeout = 30 * time.Second
	}
}

// Router implements the server side of mesh forwarding: on a
// MeshForwardRequest, it checks for loops and hop exhaustion, attempts
// local inference if a model
// is ready, and otherwise forwards to the best remaining peer. A circuit
// breaker per destination peer (adapted from internal/infra's general
// resilience primitives) skips a peer that has recently failed to forward,
// without that skip being a protocol-visible feature: it only narrows
// BestPeer's candidate set for this call.
type Router struct {
	config    RouterConfig
	directory *nodes.Directory
	local     LocalInferer
	forwarder Forwarder
	earnings  EarningsRecorder
	breakers  *infra.CircuitBreakerRegistry
	metrics   MetricsRecorder
	logger    *slog.Logger
}

// SetMetrics attaches a MetricsRecorder; nil disables instrumentation. Not
// safe to call concurrently with HandleForward.
func (r *Router) SetMetrics(m MetricsRecorder) {
	r.metrics = m
}

func (r *Router) recordForward(outcome string, hopCount int) {
	if r.metrics == nil {
		return
	}
	r.metrics.RecordMeshForward(outcome)
	r.metrics.RecordMeshHopCount(hopCount)
}

// NewRouter creates a Router. local and earnings may be nil (no local LLM /
// no stats tracking).
func NewRouter(config RouterConfig, directory *nodes.Directory, local LocalInferer, forwarder Forwarder, earnings EarningsRecorder, logger *slog.Logger) *Router {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		config:    config,
		directory: directory,
		local:     local,
		forwarder: forwarder,
		earnings:  earnings,
		breakers: infra.NewCircuitBreakerRegistry(infra.CircuitBreakerConfig{
			FailureThreshold: config.ForwardFailThreshold,
			SuccessThreshold: 1,
			Timeout:          config.ForwardOpenTimeout,
		}),
		logger: logger.With("component", "mesh.router"),
	}
}

// HandleForward answers a MeshForwardRequest with a four-step algorithm:
// loop detection, hop-limit check, local-inference attempt, then forward to
// the best remaining peer.
func (r *Router) HandleForward(ctx context.Context, req ForwardRequest) ForwardResponse {
	if req.Contains(r.config.SelfID) {
		r.logger.Warn("loop detected", "request_id", req.RequestID, "visited", req.Visited)
		r.recordForward("loop_detected", len(req.Visited))
		return ForwardResponse{
			RequestID: req.RequestID,
			Error:     "Loop detected",
			RoutePath: append(append([]nodes.PeerID{}, req.Visited...), r.config.SelfID),
			HopCount:  len(req.Visited),
		}
	}

	if req.MaxHops > 0 && len(req.Visited) >= req.MaxHops {
		r.logger.Warn("max hops exceeded", "request_id", req.RequestID, "max_hops", req.MaxHops)
		r.recordForward("max_hops", len(req.Visited)-1)
		return ForwardResponse{
			RequestID: req.RequestID,
			Error:     "Max hops exceeded",
			RoutePath: req.Visited,
			HopCount:  len(req.Visited) - 1,
		}
	}

	visited := append(append([]nodes.PeerID{}, req.Visited...), r.config.SelfID)

	if r.local != nil && r.local.IsReady() {
		response, err := r.runLocal(ctx, req)
		if err == nil {
			if r.earnings != nil {
				r.earnings.RecordServedRequest(ctx, req.RequestID)
			}
			r.recordForward("answered_locally", len(visited)-1)
			return ForwardResponse{
				RequestID:            req.RequestID,
				Response:             response,
				RoutePath:            visited,
				HopCount:             len(visited) - 1,
				ProcessingDeviceName: r.config.SelfDisplayName,
			}
		}
		r.logger.Warn("local inference failed, falling through to forward", "request_id", req.RequestID, "error", err)
	}

	exclude := make(map[nodes.PeerID]bool, len(visited))
	for _, id := range visited {
		exclude[id] = true
	}
	// Skip peers whose forwarding circuit is currently open.
	for _, p := range r.directory.List() {
		if exclude[p.ID] {
			continue
		}
		if r.breakers.Get(string(p.ID)).State() == infra.CircuitOpen {
			exclude[p.ID] = true
		}
	}

	peer, ok := r.directory.BestPeer(exclude)
	if !ok {
		r.recordForward("no_peers", len(visited)-1)
		return ForwardResponse{
			RequestID: req.RequestID,
			Error:     "No peers available",
			RoutePath: visited,
			HopCount:  len(visited) - 1,
		}
	}

	next := req
	next.Visited = visited

	breaker := r.breakers.Get(string(peer.ID))
	resp, err := infra.ExecuteWithResult(breaker, ctx, func(ctx context.Context) (ForwardResponse, error) {
		return r.forwarder.Forward(ctx, peer, next)
	})
	if err != nil {
		r.logger.Warn("forward failed", "request_id", req.RequestID, "peer_id", peer.ID, "error", err)
		r.recordForward("forward_failed", len(visited)-1)
		return ForwardResponse{
			RequestID: req.RequestID,
			Error:     "Forward failed: " + err.Error(),
			RoutePath: visited,
			HopCount:  len(visited) - 1,
		}
	}
	r.recordForward("forwarded", resp.HopCount)
	return resp
}

// runLocal invokes the local backend with a bounded timeout, collecting the
// full response text. The router does not stream tokens back across hops:
// mesh responses are whole-value.
func (r *Router) runLocal(ctx context.Context, req ForwardRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.ForwardTimeout)
	defer cancel()

	history := make([]agent.Message, 0, len(req.Payload.Messages))
	for _, raw := range req.Payload.Messages {
		history = append(history, agent.Message{Role: agent.RoleUser, Content: string(raw)})
	}

	var out string
	sink := func(token string) bool {
		out += token
		return ctx.Err() == nil
	}
	text, err := r.local.Generate(ctx, history, req.Payload.System, sink)
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	return out, nil
}
