package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/eliochat/eliocore/internal/nodes"
)

// ErrInvalidSignature is returned by Verify when a friend-request
// signature fails to parse or its claims don't match the expected peers.
var ErrInvalidSignature = errors.New("device: invalid friend-request signature")

// friendClaims binds a friend request to its (From, To, DisplayName)
// triple so a verifier can confirm the signature was produced for this
// exact request, not replayed from a different one.
type friendClaims struct {
	From        string `json:"from"`
	To          string `json:"to"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}

// Signer produces and verifies the pluggable authentication signature
// named in FriendRequestMsg's doc comment: an HMAC-signed, short-lived
// token rather than a hand-rolled signature scheme.
type Signer struct {
	secret []byte
	expiry time.Duration
}

// NewSigner builds a Signer from a per-device secret (derived from the
// persisted device UUID or a configured shared key) and a token validity
// window.
func NewSigner(secret string, expiry time.Duration) *Signer {
	if expiry <= 0 {
		expiry = 5 * time.Minute
	}
	return &Signer{secret: []byte(secret), expiry: expiry}
}

// Sign produces a signature over (from, to, displayName) for embedding in
// FriendRequestMsg.Signature.
func (s *Signer) Sign(from, to nodes.PeerID, displayName string) ([]byte, error) {
	if len(s.secret) == 0 {
		return nil, errors.New("device: signer has no secret configured")
	}
	claims := friendClaims{
		From:        string(from),
		To:          string(to),
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("device: sign friend request: %w", err)
	}
	return []byte(signed), nil
}

// Verify checks sig against the expected (from, to, displayName) triple,
// returning ErrInvalidSignature on any mismatch, expiry, or malformed
// token.
func (s *Signer) Verify(sig []byte, from, to nodes.PeerID, displayName string) error {
	if len(s.secret) == 0 {
		return errors.New("device: signer has no secret configured")
	}

	parsed, err := jwt.ParseWithClaims(string(sig), &friendClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return ErrInvalidSignature
	}

	claims, ok := parsed.Claims.(*friendClaims)
	if !ok || !parsed.Valid {
		return ErrInvalidSignature
	}
	if claims.From != string(from) || claims.To != string(to) || claims.DisplayName != displayName {
		return ErrInvalidSignature
	}
	return nil
}
