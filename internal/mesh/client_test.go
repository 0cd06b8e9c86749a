package mesh

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eliochat/eliocore/internal/nodes"
)

type fakeSender struct {
	sent chan ForwardRequest
	err  error
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan ForwardRequest, 4)}
}

func (s *fakeSender) SendForward(_ context.Context, _ nodes.Peer, req ForwardRequest) error {
	if s.err != nil {
		return s.err
	}
	s.sent <- req
	return nil
}

func TestClient_InvokeResolvesOnDeliver(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	directory.Upsert(context.Background(), nodes.Peer{ID: "peer-1", Capability: nodes.Capability{HasLocalLLM: true, FreeMemoryGB: 4}})

	sender := newFakeSender()
	client := NewClient(ClientConfig{SelfID: "self", ForwardTimeout: time.Second}, directory, sender, nil)

	resultCh := make(chan ForwardResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Invoke(context.Background(), InferenceRequest{RequestID: "req-1"})
		resultCh <- resp
		errCh <- err
	}()

	sent := <-sender.sent
	if sent.RequestID != "req-1" {
		t.Fatalf("sent request id = %q", sent.RequestID)
	}

	client.Deliver(ForwardResponse{RequestID: "req-1", Response: "answer"})

	resp := <-resultCh
	if err := <-errCh; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Response != "answer" {
		t.Fatalf("response = %q, want answer", resp.Response)
	}
	if client.PendingCount() != 0 {
		t.Fatalf("expected pending table to be empty after delivery")
	}
}

func TestClient_InvokeTimesOut(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	directory.Upsert(context.Background(), nodes.Peer{ID: "peer-1", Capability: nodes.Capability{HasLocalLLM: true}})

	sender := newFakeSender()
	client := NewClient(ClientConfig{SelfID: "self", ForwardTimeout: 20 * time.Millisecond}, directory, sender, nil)

	_, err := client.Invoke(context.Background(), InferenceRequest{RequestID: "req-timeout"})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if client.PendingCount() != 0 {
		t.Fatal("expected pending entry to be cleaned up after timeout")
	}
}

func TestClient_LateResponseDiscardedSilently(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	directory.Upsert(context.Background(), nodes.Peer{ID: "peer-1", Capability: nodes.Capability{HasLocalLLM: true}})

	sender := newFakeSender()
	client := NewClient(ClientConfig{SelfID: "self", ForwardTimeout: 10 * time.Millisecond}, directory, sender, nil)

	_, err := client.Invoke(context.Background(), InferenceRequest{RequestID: "req-late"})
	if err == nil {
		t.Fatal("expected timeout")
	}

	// A response arriving after the pending entry was evicted must not panic
	// or block.
	client.Deliver(ForwardResponse{RequestID: "req-late", Response: "too late"})
}

func TestClient_NoPeersAvailable(t *testing.T) {
	directory := nodes.NewDirectory(nil, nodes.DefaultDirectoryConfig(), nil)
	client := NewClient(ClientConfig{SelfID: "self"}, directory, newFakeSender(), nil)

	_, err := client.Invoke(context.Background(), InferenceRequest{RequestID: "req-none"})
	if !errors.Is(err, ErrNoPeersAvailable) {
		t.Fatalf("expected ErrNoPeersAvailable, got %v", err)
	}
}

func TestClientScore_PrefersCloserFresherPeer(t *testing.T) {
	now := time.Now()
	near := nodes.Peer{Capability: nodes.Capability{HasLocalLLM: true, FreeMemoryGB: 4}, HopCount: 0, LastSeen: now}
	far := nodes.Peer{Capability: nodes.Capability{HasLocalLLM: true, FreeMemoryGB: 4}, HopCount: 3, LastSeen: now.Add(-10 * time.Minute)}

	if clientScore(near, now) <= clientScore(far, now) {
		t.Fatal("expected a closer, fresher peer to score higher")
	}
}

func TestCapabilityScore_MonotonicInMemoryAndLLM(t *testing.T) {
	base := nodes.Capability{FreeMemoryGB: 1}
	withLLM := base
	withLLM.HasLocalLLM = true
	if withLLM.Score() <= base.Score() {
		t.Fatal("score must not decrease when HasLocalLLM is set")
	}

	moreMem := base
	moreMem.FreeMemoryGB = 5
	if moreMem.Score() <= base.Score() {
		t.Fatal("score must not decrease with more free memory")
	}
}
