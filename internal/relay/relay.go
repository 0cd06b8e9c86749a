// Package relay implements a domain-whitelisted HTTP relay: it
// lets a peer without direct internet access route an HTTP request through
// a connected peer that has it, subject to a fixed host allow-list and a
// per-client sliding-window rate limit.
package relay

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/eliochat/eliocore/internal/infra"
	"github.com/eliochat/eliocore/internal/mesh"
	"github.com/eliochat/eliocore/internal/ratelimit"
)

// Config configures the relay handler.
type Config struct {
	// AllowedHosts is the fixed allow-list a RelayRequest's URL host must
	// exactly match; no wildcard or subdomain expansion is performed.
	AllowedHosts []string

	// RateLimit bounds requests per client-id per window.
	RateLimit ratelimit.SlidingWindowConfig

	// ConnectTimeout bounds establishing the outbound TCP connection.
	ConnectTimeout time.Duration

	// TotalTimeout bounds the entire relayed request/response cycle.
	TotalTimeout time.Duration

	// MaxConcurrent bounds the number of outbound relayed requests in
	// flight at once across all clients, independent of the per-client
	// rate limit. Default 32.
	MaxConcurrent int64
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 60 * time.Second
	}
	if c.RateLimit.MaxRequests <= 0 || c.RateLimit.Window <= 0 {
		c.RateLimit = ratelimit.DefaultSlidingWindowConfig()
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 32
	}
}

// MetricsRecorder receives instrumentation from a Handler's relay requests.
// Satisfied by *observability.Metrics.
type MetricsRecorder interface {
	RecordRelayRequest(outcome string, durationSeconds float64)
}

// Handler answers RelayRequest envelopes, implementing mesh.RelayHandler.
// Hosts are matched against a fixed exact-match allow-list rather than a
// private-IP resolution check, since relay access is scoped to a known
// set of destinations, not general SSRF defense.
type Handler struct {
	config   Config
	allowed  map[string]bool
	limiter  *ratelimit.SlidingWindow
	inflight *infra.Semaphore
	coalesce infra.Group[string, mesh.RelayResponseMsg]
	client   *http.Client
	metrics  MetricsRecorder
	logger   *slog.Logger
}

// SetMetrics attaches a MetricsRecorder; nil disables instrumentation.
func (h *Handler) SetMetrics(m MetricsRecorder) {
	h.metrics = m
}

// NewHandler creates a relay Handler.
func NewHandler(config Config, logger *slog.Logger) *Handler {
	config.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(config.AllowedHosts))
	for _, h := range config.AllowedHosts {
		allowed[strings.ToLower(h)] = true
	}

	dialer := &net.Dialer{Timeout: config.ConnectTimeout}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   config.ConnectTimeout,
		ResponseHeaderTimeout: config.TotalTimeout,
	}

	return &Handler{
		config:   config,
		allowed:  allowed,
		limiter:  ratelimit.NewSlidingWindow(config.RateLimit),
		inflight: infra.NewSemaphore(config.MaxConcurrent),
		client: &http.Client{
			Transport: transport,
			Timeout:   config.TotalTimeout,
		},
		logger: logger.With("component", "relay"),
	}
}

// isAllowedHost reports whether host exactly matches an allow-listed entry,
// case-insensitively, ignoring a trailing port if host includes one.
func (h *Handler) isAllowedHost(rawHost string) bool {
	host := strings.ToLower(rawHost)
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}
	return h.allowed[host]
}

// Handle validates, rate-limits, and executes a relayed HTTP request,
// mapping failures onto status codes: disallowed host -> 403, rate-limited
// -> 429, transport failure -> 502.
func (h *Handler) Handle(ctx context.Context, req mesh.RelayRequestMsg) mesh.RelayResponseMsg {
	start := time.Now()

	parsed, err := url.Parse(req.URL)
	if err != nil || parsed.Host == "" {
		h.recordRelay("domain_rejected", start)
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusForbidden, Error: "Domain not allowed"}
	}
	if !h.isAllowedHost(parsed.Host) {
		h.logger.Warn("relay request rejected: host not allowed", "client_id", req.ClientID, "host", parsed.Host)
		h.recordRelay("domain_rejected", start)
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusForbidden, Error: "Domain not allowed"}
	}

	if !h.limiter.Allow(req.ClientID) {
		h.logger.Warn("relay request rate-limited", "client_id", req.ClientID)
		h.recordRelay("rate_limited", start)
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusTooManyRequests, Error: "Rate limit exceeded"}
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	// GET requests carry no body and are idempotent, so concurrent
	// relay requests for the same client+URL are coalesced into one
	// outbound call via the shared singleflight group; every other
	// method executes independently.
	var resp mesh.RelayResponseMsg
	if method == http.MethodGet {
		key := req.ClientID + "\x00" + req.URL
		var r mesh.RelayResponseMsg
		r, _, _ = h.coalesce.Do(key, func() (mesh.RelayResponseMsg, error) {
			return h.execute(ctx, req, method), nil
		})
		r.ID = req.ID
		resp = r
	} else {
		resp = h.execute(ctx, req, method)
	}

	outcome := "ok"
	if resp.StatusCode >= http.StatusBadRequest {
		outcome = "transport_error"
	}
	h.recordRelay(outcome, start)
	return resp
}

func (h *Handler) recordRelay(outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordRelayRequest(outcome, time.Since(start).Seconds())
}

// execute performs the outbound HTTP call behind the concurrency
// semaphore, distinct from the per-client rate limit above.
func (h *Handler) execute(ctx context.Context, req mesh.RelayRequestMsg, method string) mesh.RelayResponseMsg {
	if err := h.inflight.Acquire(ctx, 1); err != nil {
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusBadGateway, Error: "Relay busy: " + err.Error()}
	}
	defer h.inflight.Release(1)

	ctx, cancel := context.WithTimeout(ctx, h.config.TotalTimeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusBadGateway, Error: "Invalid request: " + err.Error()}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		h.logger.Warn("relay transport failure", "client_id", req.ClientID, "url", req.URL, "error", err)
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusBadGateway, Error: "Transport failure: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return mesh.RelayResponseMsg{ID: req.ID, StatusCode: http.StatusBadGateway, Error: "Failed reading response: " + err.Error()}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return mesh.RelayResponseMsg{
		ID:         req.ID,
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}
}
