package tests

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/code-payments/flipchat-billing/iap"
)

type PayloadGenerator func() string
type Signer func(payload string) string

func RunGenericVerifierTests(t *testing.T, v iap.Verifier, payloadGen PayloadGenerator, signer Signer, teardown func()) {
	for _, testFunc := range []func(t *testing.T, v iap.Verifier, payloadGen PayloadGenerator, signer Signer){
		testValidSignature,
		testInvalidSignature,
		testTamperedPayload,
		testEmptyInputs,
	} {
		testFunc(t, v, payloadGen, signer)
		teardown()
	}
}

func testValidSignature(t *testing.T, v iap.Verifier, payloadGen PayloadGenerator, signer Signer) {
	ctx := context.Background()

	payload := payloadGen()
	signature := signer(payload)

	valid, err := v.VerifyPurchase(ctx, payload, signature)
	require.NoError(t, err)
	require.True(t, valid, "expected signature to be valid")
}

func testInvalidSignature(t *testing.T, v iap.Verifier, payloadGen PayloadGenerator, _ Signer) {
	ctx := context.Background()

	// Just use the word "invalid" as an invalid signature.
	valid, _ := v.VerifyPurchase(ctx, payloadGen(), "invalid")
	require.False(t, valid, "expected signature to be invalid")
}

func testTamperedPayload(t *testing.T, v iap.Verifier, payloadGen PayloadGenerator, signer Signer) {
	ctx := context.Background()

	payload := payloadGen()
	signature := signer(payload)

	valid, _ := v.VerifyPurchase(ctx, payload+" ", signature)
	require.False(t, valid, "expected tampered payload to be invalid")
}

func testEmptyInputs(t *testing.T, v iap.Verifier, payloadGen PayloadGenerator, signer Signer) {
	ctx := context.Background()

	payload := payloadGen()

	valid, _ := v.VerifyPurchase(ctx, "", signer(payload))
	require.False(t, valid)

	valid, _ = v.VerifyPurchase(ctx, payload, "")
	require.False(t, valid)
}
