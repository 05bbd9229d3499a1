package memory

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/code-payments/flipchat-billing/iap"
)

// MemoryVerifier is an in-memory verifier that checks an ed25519 signature
// over the purchase payload. The signature is base64 encoded, the same way
// the platform delivers its own signatures.
type MemoryVerifier struct {
	publicKey ed25519.PublicKey
}

// NewMemoryVerifier creates a new MemoryVerifier from a given public key.
func NewMemoryVerifier(pubKey ed25519.PublicKey) iap.Verifier {
	return &MemoryVerifier{publicKey: pubKey}
}

func (m *MemoryVerifier) VerifyPurchase(_ context.Context, payload, signature string) (bool, error) {
	if len(m.publicKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size %d", len(m.publicKey))
	}
	if payload == "" || signature == "" {
		return false, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		// A malformed signature is just an invalid one.
		return false, nil
	}

	return ed25519.Verify(m.publicKey, []byte(payload), decoded), nil
}

func GenerateKeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	return ed25519.GenerateKey(rand.Reader)
}

// Sign returns the base64 encoded signature of payload.
func Sign(owner ed25519.PrivateKey, payload string) string {
	signature := ed25519.Sign(owner, []byte(payload))
	return base64.StdEncoding.EncodeToString(signature)
}
