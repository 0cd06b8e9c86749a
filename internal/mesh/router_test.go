package mesh

import (
	"context"
	"testing"

	"github.com/eliochat/eliocore/internal/agent"
	"github.com/eliochat/eliocore/internal/nodes"
)

// fakeLocal implements LocalInferer for tests exercising the
// local-inference-first path.
type fakeLocal struct {
	ready bool
	text  string
	err   error
}

func (f *fakeLocal) IsReady() bool { return f.ready }
func (f *fakeLocal) Generate(_ context.Context, _ []agent.Message, _ string, _ agent.TokenSink) (string, error) {
	return f.text, f.err
}

// fakeForwarder records the last forwarded request and returns a canned
// response, simulating a neighbor's reply without a real connection.
type fakeForwarder struct {
	resp ForwardResponse
	err  error
	got  ForwardRequest
}

func (f *fakeForwarder) Forward(_ context.Context, _ nodes.Peer, req ForwardRequest) (ForwardResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestRouter_LoopDetection(t *testing.T) {
	// S6: three-node ring A->B->C->A. A originates with visited=[A]; by the
	// time the request comes back around to A via C, visited=[A,B,C].
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	router := NewRouter(RouterConfig{SelfID: "A", SelfDisplayName: "node-a"}, directory, nil, &fakeForwarder{}, nil, nil)

	req := ForwardRequest{
		RequestID: "req-1",
		Origin:    "A",
		Visited:   []nodes.PeerID{"A", "B", "C"},
		MaxHops:   5,
	}

	resp := router.HandleForward(context.Background(), req)

	if resp.Error != "Loop detected" {
		t.Fatalf("expected Loop detected, got %q", resp.Error)
	}
	wantPath := []nodes.PeerID{"A", "B", "C", "A"}
	if len(resp.RoutePath) != len(wantPath) {
		t.Fatalf("route path length = %d, want %d", len(resp.RoutePath), len(wantPath))
	}
	for i, id := range wantPath {
		if resp.RoutePath[i] != id {
			t.Fatalf("route path[%d] = %s, want %s", i, resp.RoutePath[i], id)
		}
	}
	if resp.HopCount != 3 {
		t.Fatalf("hop count = %d, want 3", resp.HopCount)
	}
}

func TestRouter_MaxHopsExceeded(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	router := NewRouter(RouterConfig{SelfID: "D"}, directory, nil, &fakeForwarder{}, nil, nil)

	req := ForwardRequest{
		RequestID: "req-2",
		Visited:   []nodes.PeerID{"A", "B", "C"},
		MaxHops:   3,
	}

	resp := router.HandleForward(context.Background(), req)
	if resp.Error != "Max hops exceeded" {
		t.Fatalf("expected Max hops exceeded, got %q", resp.Error)
	}
}

func TestRouter_ForwardsToBestPeer(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	directory.Upsert(context.Background(), nodes.Peer{
		ID:         "E",
		Capability: nodes.Capability{HasLocalLLM: true, FreeMemoryGB: 8, IsCharging: true},
	})

	forwarder := &fakeForwarder{resp: ForwardResponse{RequestID: "req-3", Response: "hello from E"}}
	router := NewRouter(RouterConfig{SelfID: "D"}, directory, nil, forwarder, nil, nil)

	req := ForwardRequest{RequestID: "req-3", Visited: []nodes.PeerID{"D"}, MaxHops: 5}
	resp := router.HandleForward(context.Background(), req)

	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Response != "hello from E" {
		t.Fatalf("response = %q, want forwarded peer's reply", resp.Response)
	}
	if len(forwarder.got.Visited) != 2 || forwarder.got.Visited[1] != "D" {
		t.Fatalf("forwarded request visited = %v, want self appended", forwarder.got.Visited)
	}
}

func TestRouter_AnswersLocallyWhenReady(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	local := &fakeLocal{ready: true, text: "local answer"}
	var earningsRecorded bool
	earnings := recorderFunc(func(string) { earningsRecorded = true })

	router := NewRouter(RouterConfig{SelfID: "A", SelfDisplayName: "node-a"}, directory, local, &fakeForwarder{}, earnings, nil)

	req := ForwardRequest{RequestID: "req-5", Visited: []nodes.PeerID{"origin"}, MaxHops: 5}
	resp := router.HandleForward(context.Background(), req)

	if resp.Response != "local answer" {
		t.Fatalf("response = %q, want local answer", resp.Response)
	}
	if resp.ProcessingDeviceName != "node-a" {
		t.Fatalf("processing device name = %q", resp.ProcessingDeviceName)
	}
	if resp.HopCount != 1 {
		t.Fatalf("hop count = %d, want 1", resp.HopCount)
	}
	if !earningsRecorded {
		t.Fatal("expected earnings to be recorded for a locally-served request")
	}
}

type recorderFunc func(requestID string)

func (f recorderFunc) RecordServedRequest(_ context.Context, requestID string) { f(requestID) }

func TestRouter_NoPeersAvailable(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	router := NewRouter(RouterConfig{SelfID: "solo"}, directory, nil, &fakeForwarder{}, nil, nil)

	resp := router.HandleForward(context.Background(), ForwardRequest{RequestID: "req-4", Visited: []nodes.PeerID{"solo"}, MaxHops: 5})
	if resp.Error != "No peers available" {
		t.Fatalf("expected No peers available, got %q", resp.Error)
	}
}
