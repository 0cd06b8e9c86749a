// Package speculative implements a draft-and-verify protocol: a responder
// holding the target (slower, more capable) model checks a proposer's draft
// tokens against its own greedy continuation and accepts the longest
// matching prefix, falling back to its own token at the first mismatch.
//
// This implements the stronger greedy-prefix acceptance semantics rather
// than a simpler first-token-only comparison (kept alongside as
// FirstTokenOnly for callers that want the cheaper check).
package speculative

import (
	"context"

	"github.com/eliochat/eliocore/internal/mesh"
)

// TargetModel produces the target model's greedy (argmax) continuation
// token given the tokens generated so far. A real implementation wraps a
// local or cloud model in greedy-decoding mode; this package is
// model-agnostic.
type TargetModel interface {
	GreedyNext(ctx context.Context, precedingTokens []string, settings map[string]any) (string, error)
}

// MetricsRecorder receives instrumentation from a Verifier. Satisfied by
// *observability.Metrics.
type MetricsRecorder interface {
	RecordSpecVerifyAccepted(accepted int)
}

// Verifier answers SpecVerifyRequest envelopes.
type Verifier struct {
	target  TargetModel
	metrics MetricsRecorder
}

// NewVerifier creates a Verifier over target.
func NewVerifier(target TargetModel) *Verifier {
	return &Verifier{target: target}
}

// SetMetrics attaches a MetricsRecorder; nil disables instrumentation.
func (v *Verifier) SetMetrics(m MetricsRecorder) {
	v.metrics = m
}

// Verify accepts the longest prefix of req.DraftTokens that matches the
// target model's greedy continuation at each position. On the first
// mismatch, it returns the accepted prefix so far plus the target's own
// token as the fallback; the index recorded is the position of the first
// rejected draft token. A mismatch at position 0 yields an empty accepted
// set, same as the simpler first-token-only policy.
func (v *Verifier) Verify(ctx context.Context, req mesh.SpecVerifyRequestMsg) mesh.SpecVerifyResponseMsg {
	accepted := make([]string, 0, len(req.DraftTokens))

	for i, draft := range req.DraftTokens {
		targetTok, err := v.target.GreedyNext(ctx, accepted, req.Settings)
		if err != nil {
			idx := i
			v.recordAccepted(len(accepted))
			return mesh.SpecVerifyResponseMsg{
				RequestID:      req.RequestID,
				AcceptedTokens: accepted,
				RejectedIndex:  &idx,
			}
		}
		if targetTok != draft {
			idx := i
			v.recordAccepted(len(accepted))
			return mesh.SpecVerifyResponseMsg{
				RequestID:      req.RequestID,
				AcceptedTokens: accepted,
				RejectedIndex:  &idx,
				FallbackToken:  targetTok,
			}
		}
		accepted = append(accepted, draft)
	}

	v.recordAccepted(len(accepted))
	return mesh.SpecVerifyResponseMsg{
		RequestID:      req.RequestID,
		AcceptedTokens: accepted,
	}
}

func (v *Verifier) recordAccepted(count int) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordSpecVerifyAccepted(count)
}

// FirstTokenOnly implements a simpler acceptance policy: it compares only
// the first draft token against the target's greedy output, accepting at
// most one token. Kept as a documented, selectable alternative rather than
// the default.
func (v *Verifier) FirstTokenOnly(ctx context.Context, req mesh.SpecVerifyRequestMsg) mesh.SpecVerifyResponseMsg {
	if len(req.DraftTokens) == 0 {
		return mesh.SpecVerifyResponseMsg{RequestID: req.RequestID}
	}

	targetTok, err := v.target.GreedyNext(ctx, nil, req.Settings)
	if err != nil || targetTok != req.DraftTokens[0] {
		idx := 0
		resp := mesh.SpecVerifyResponseMsg{RequestID: req.RequestID, RejectedIndex: &idx}
		if err == nil {
			resp.FallbackToken = targetTok
		}
		return resp
	}

	return mesh.SpecVerifyResponseMsg{
		RequestID:      req.RequestID,
		AcceptedTokens: []string{req.DraftTokens[0]},
	}
}
