package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/flipchat-billing/iap/tests"
)

func TestMemoryVerifier(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("error generating key pair: %v", err)
	}

	verifier := NewMemoryVerifier(pub)
	payloadGenerator := func() string {
		return `{"productId":"premium","purchaseToken":"token"}`
	}
	signer := func(payload string) string {
		return Sign(priv, payload)
	}

	teardown := func() {}

	tests.RunGenericVerifierTests(t,
		verifier, payloadGenerator, signer, teardown)
}


func TestMemoryVerifier_InvalidPublicKey(t *testing.T) {
	_, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	payload := `{"productId":"premium","purchaseToken":"token"}`
	signature := Sign(priv, payload)

	for _, key := range [][]byte{nil, make([]byte, 16)} {
		ok, err := NewMemoryVerifier(key).VerifyPurchase(context.Background(), payload, signature)
		assert.Error(t, err)
		assert.False(t, ok)
	}
}
