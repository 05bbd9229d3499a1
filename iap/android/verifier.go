package android

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"sync"

	"github.com/pkg/errors"

	"github.com/code-payments/flipchat-billing/iap"
)

// SignatureVerifier checks purchase signatures on the device side, against
// the app specific public key from the Play Console.
//
// Play signs the purchase JSON with SHA1withRSA. The key is the base64
// encoded X.509 SubjectPublicKeyInfo.
type SignatureVerifier struct {
	encodedKey string

	once sync.Once
	key  *rsa.PublicKey
	err  error
}

func NewSignatureVerifier(base64PublicKey string) iap.Verifier {
	return &SignatureVerifier{
		encodedKey: base64PublicKey,
	}
}

func (v *SignatureVerifier) VerifyPurchase(_ context.Context, payload, signature string) (bool, error) {
	if payload == "" || signature == "" || v.encodedKey == "" {
		return false, nil
	}

	key, err := v.publicKey()
	if err != nil {
		return false, err
	}

	decoded, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		// Not returning an error here, a malformed signature is an invalid
		// signature.
		return false, nil
	}

	digest := sha1.Sum([]byte(payload))
	return rsa.VerifyPKCS1v15(key, crypto.SHA1, digest[:], decoded) == nil, nil
}

func (v *SignatureVerifier) publicKey() (*rsa.PublicKey, error) {
	v.once.Do(func() {
		v.key, v.err = decodePublicKey(v.encodedKey)
	})
	return v.key, v.err
}

func decodePublicKey(encoded string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode public key")
	}

	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse public key")
	}

	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}
	return key, nil
}
