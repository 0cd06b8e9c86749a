package device

import (
	"strings"

	"github.com/eliochat/eliocore/internal/pairing"
)

// approvalChannel is the single pairing.Store channel this device uses.
// pairing.Store was built to track multiple named channels (one per
// messaging surface); a device has exactly one mesh identity, so all
// approvals live under one fixed channel key.
const approvalChannel = "mesh"

// Approver tracks which remote peers have presented this device's
// current pairing code and been granted standing permission to send
// friend requests without re-presenting it: a peer that has paired once
// should not need to re-enter the code on every reconnect.
//
// It is a thin adapter over pairing.Store, which already implements
// exactly this request/allowlist lifecycle for channel-based pairing;
// GeneratePairingCode and Store.PairingCode own the single advertised
// code itself, since pairing.Store's own per-request code generation
// doesn't fit a device that advertises one shared code to every peer.
type Approver struct {
	store *pairing.Store
}

// NewApprover wraps a pairing.Store rooted at dataDir.
func NewApprover(dataDir string) *Approver {
	return &Approver{store: pairing.NewStore(dataDir)}
}

// RequestApproval records that peerID has presented the device's
// pairing code and is awaiting approval. displayName is stashed as
// request metadata for a human-facing approval prompt.
func (a *Approver) RequestApproval(peerID, displayName string) error {
	_, _, err := a.store.UpsertRequest(approvalChannel, peerID, map[string]string{
		"display_name": displayName,
	})
	return err
}

// Approve grants peerID standing permission to send friend requests to
// this device. code must match the pending request's own tracking code
// (returned by PendingRequests), not the device's advertised 4-digit
// code.
func (a *Approver) Approve(code string) (peerID string, err error) {
	peerID, _, err = a.store.ApproveCode(approvalChannel, code)
	return peerID, err
}

// IsApproved reports whether peerID has been granted standing
// permission; consulted before a FriendRequestMsg is auto-accepted.
func (a *Approver) IsApproved(peerID string) (bool, error) {
	return a.store.IsAllowed(approvalChannel, strings.TrimSpace(peerID))
}

// PendingRequests lists peers awaiting approval.
func (a *Approver) PendingRequests() ([]*pairing.Request, error) {
	return a.store.ListRequests(approvalChannel)
}

// Revoke removes peerID's standing approval.
func (a *Approver) Revoke(peerID string) error {
	return a.store.RemoveFromAllowlist(approvalChannel, strings.TrimSpace(peerID))
}
