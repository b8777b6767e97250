package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Signer produces and verifies decision signatures. An approver's client signs
// the tuple (request, approver, decision) so the recorded decision can be
// attributed beyond the bearer token that delivered it.
type Signer struct {
	key []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{key: []byte(secret)}
}

// SignDecision returns the hex-encoded HMAC-SHA256 over the decision tuple
func (s *Signer) SignDecision(requestID, approverID uuid.UUID, decision string) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s|%s|%s", requestID, approverID, decision)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyDecision reports whether signature matches the decision tuple
func (s *Signer) VerifyDecision(requestID, approverID uuid.UUID, decision, signature string) bool {
	expected := s.SignDecision(requestID, approverID, decision)
	return hmac.Equal([]byte(expected), []byte(signature))
}
