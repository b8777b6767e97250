package security

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestVerifyDecisionRoundTrip(t *testing.T) {
	signer := NewSigner("secret")
	requestID := uuid.New()
	approverID := uuid.New()

	sig := signer.SignDecision(requestID, approverID, "approved")
	assert.True(t, signer.VerifyDecision(requestID, approverID, "approved", sig))
}

func TestVerifyDecisionRejectsTamper(t *testing.T) {
	signer := NewSigner("secret")
	requestID := uuid.New()
	approverID := uuid.New()
	sig := signer.SignDecision(requestID, approverID, "approved")

	assert.False(t, signer.VerifyDecision(requestID, approverID, "rejected", sig))
	assert.False(t, signer.VerifyDecision(uuid.New(), approverID, "approved", sig))
	assert.False(t, NewSigner("other").VerifyDecision(requestID, approverID, "approved", sig))
}
