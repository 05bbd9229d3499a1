package iap

import (
	"context"
	"errors"
)

var (
	ErrEmptyToken = errors.New("purchase token is empty")
)

// TokenStore is the set of purchase tokens already scheduled for consumption.
//
// The set is append-only: tokens are never removed.
type TokenStore interface {
	// MarkConsumed adds the token to the set. It returns false if the token
	// was already present.
	MarkConsumed(ctx context.Context, token string) (bool, error)

	// IsConsumed reports whether the token is in the set.
	IsConsumed(ctx context.Context, token string) (bool, error)
}
