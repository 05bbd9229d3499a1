package iap

import "context"

type Verifier interface {

	// VerifyPurchase takes the signed payload of a purchase (for Android the
	// purchase JSON, for memory any message) together with its signature and
	// determines if the payload was signed by the key the verifier was built
	// with.
	//
	// An error means verification could not be carried out at all. Callers
	// treat it the same as an invalid signature.
	VerifyPurchase(ctx context.Context, payload, signature string) (bool, error)
}
