package speculative

import (
	"context"
	"errors"
	"testing"

	"github.com/eliochat/eliocore/internal/mesh"
)

// sequenceTarget returns tokens from a fixed greedy sequence, one per call,
// ignoring the preceding-tokens argument's exact content (tests only need
// the call count to determine position).
type sequenceTarget struct {
	tokens []string
	calls  int
	errAt  int
}

func (s *sequenceTarget) GreedyNext(_ context.Context, _ []string, _ map[string]any) (string, error) {
	i := s.calls
	s.calls++
	if s.errAt > 0 && i == s.errAt {
		return "", errors.New("generation failed")
	}
	if i >= len(s.tokens) {
		return "", nil
	}
	return s.tokens[i], nil
}

func TestVerify_AllDraftTokensAccepted(t *testing.T) {
	target := &sequenceTarget{tokens: []string{"the", "cat", "sat"}}
	v := NewVerifier(target)

	resp := v.Verify(context.Background(), mesh.SpecVerifyRequestMsg{
		RequestID:   "r1",
		DraftTokens: []string{"the", "cat", "sat"},
	})

	if len(resp.AcceptedTokens) != 3 {
		t.Fatalf("accepted = %v, want all 3 tokens", resp.AcceptedTokens)
	}
	if resp.RejectedIndex != nil {
		t.Fatalf("expected no rejection, got index %v", *resp.RejectedIndex)
	}
}

func TestVerify_LongestMatchingPrefix(t *testing.T) {
	target := &sequenceTarget{tokens: []string{"the", "cat", "ran"}}
	v := NewVerifier(target)

	resp := v.Verify(context.Background(), mesh.SpecVerifyRequestMsg{
		RequestID:   "r2",
		DraftTokens: []string{"the", "cat", "sat", "down"},
	})

	if len(resp.AcceptedTokens) != 2 || resp.AcceptedTokens[0] != "the" || resp.AcceptedTokens[1] != "cat" {
		t.Fatalf("accepted = %v, want [the cat]", resp.AcceptedTokens)
	}
	if resp.RejectedIndex == nil || *resp.RejectedIndex != 2 {
		t.Fatalf("rejected index = %v, want 2", resp.RejectedIndex)
	}
	if resp.FallbackToken != "ran" {
		t.Fatalf("fallback = %q, want ran", resp.FallbackToken)
	}
}

func TestVerify_MismatchAtFirstToken(t *testing.T) {
	target := &sequenceTarget{tokens: []string{"a"}}
	v := NewVerifier(target)

	resp := v.Verify(context.Background(), mesh.SpecVerifyRequestMsg{
		RequestID:   "r3",
		DraftTokens: []string{"b"},
	})

	if len(resp.AcceptedTokens) != 0 {
		t.Fatalf("expected empty accepted set, got %v", resp.AcceptedTokens)
	}
	if resp.FallbackToken != "a" {
		t.Fatalf("fallback = %q, want a", resp.FallbackToken)
	}
}

func TestFirstTokenOnly_AcceptsAtMostOneToken(t *testing.T) {
	target := &sequenceTarget{tokens: []string{"the"}}
	v := NewVerifier(target)

	resp := v.FirstTokenOnly(context.Background(), mesh.SpecVerifyRequestMsg{
		RequestID:   "r4",
		DraftTokens: []string{"the", "cat", "sat"},
	})

	if len(resp.AcceptedTokens) != 1 || resp.AcceptedTokens[0] != "the" {
		t.Fatalf("accepted = %v, want exactly [the]", resp.AcceptedTokens)
	}
}
