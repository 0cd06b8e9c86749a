package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/eliochat/eliocore/internal/mesh"
	"github.com/eliochat/eliocore/internal/ratelimit"
)

func TestHandle_AllowedHostPasses(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	h := NewHandler(Config{AllowedHosts: []string{u.Host}}, nil)

	resp := h.Handle(context.Background(), mesh.RelayRequestMsg{ID: "r1", URL: upstream.URL, Method: "GET", ClientID: "client-a"})

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; error=%q", resp.StatusCode, resp.Error)
	}
	if string(resp.Body) != "ok" {
		t.Fatalf("body = %q, want ok", resp.Body)
	}
}

// S7: RelayRequest to a disallowed host returns status=403.
func TestHandle_DisallowedHostReturns403(t *testing.T) {
	h := NewHandler(Config{AllowedHosts: []string{"api.openai.com"}}, nil)

	resp := h.Handle(context.Background(), mesh.RelayRequestMsg{
		ID:       "r2",
		URL:      "https://evil.example.com/x",
		Method:   "GET",
		ClientID: "client-a",
	})

	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
	if resp.Error != "Domain not allowed" {
		t.Fatalf("error = %q, want 'Domain not allowed'", resp.Error)
	}
}

func TestHandle_RateLimitReturns429(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	u, _ := url.Parse(upstream.URL)
	h := NewHandler(Config{
		AllowedHosts: []string{u.Host},
		RateLimit:    ratelimit.SlidingWindowConfig{MaxRequests: 1, Window: time.Minute},
	}, nil)

	first := h.Handle(context.Background(), mesh.RelayRequestMsg{ID: "r3", URL: upstream.URL, ClientID: "client-b"})
	if first.StatusCode != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.StatusCode)
	}

	second := h.Handle(context.Background(), mesh.RelayRequestMsg{ID: "r4", URL: upstream.URL, ClientID: "client-b"})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.StatusCode)
	}
}

func TestHandle_TransportFailureReturns502(t *testing.T) {
	h := NewHandler(Config{AllowedHosts: []string{"127.0.0.1:1"}}, nil)

	resp := h.Handle(context.Background(), mesh.RelayRequestMsg{
		ID:       "r5",
		URL:      "http://127.0.0.1:1/",
		ClientID: "client-c",
	})

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", resp.StatusCode)
	}
}

func TestIsAllowedHost_IgnoresPort(t *testing.T) {
	h := NewHandler(Config{AllowedHosts: []string{"api.anthropic.com"}}, nil)
	if !h.isAllowedHost("api.anthropic.com:443") {
		t.Fatal("expected host:port to match allow-listed bare host")
	}
	if h.isAllowedHost("evil.example.com") {
		t.Fatal("expected non-allow-listed host to be rejected")
	}
}
