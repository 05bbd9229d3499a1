package iap

import (
	"crypto/sha256"

	"github.com/mr-tron/base58"
)

const tokenKeyPrefix = "b58:"

// TokenKey is the identifier under which a purchase token is persisted.
// Stores keep the base58 encoded digest rather than the token itself.
func TokenKey(token string) string {
	digest := sha256.Sum256([]byte(token))
	return tokenKeyPrefix + base58.Encode(digest[:])
}
