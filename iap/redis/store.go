package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/code-payments/flipchat-billing/iap"
)

const (
	keyPrefix = "billing:consumed:"
)

type store struct {
	client redis.UniversalClient
}

// NewInRedis returns a TokenStore keeping one key per consumed token. Keys
// never expire.
func NewInRedis(client redis.UniversalClient) iap.TokenStore {
	return &store{
		client: client,
	}
}

func (s *store) reset() {
	ctx := context.Background()

	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			panic(err)
		}
	}
	if err := iter.Err(); err != nil {
		panic(err)
	}
}

func (s *store) MarkConsumed(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, iap.ErrEmptyToken
	}

	added, err := s.client.SetNX(ctx, toKey(token), time.Now().Unix(), 0).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to mark token consumed")
	}
	return added, nil
}

func (s *store) IsConsumed(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Exists(ctx, toKey(token)).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to check consumed token")
	}
	return n > 0, nil
}

func toKey(token string) string {
	return keyPrefix + iap.TokenKey(token)
}
