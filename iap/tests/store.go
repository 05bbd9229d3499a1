package tests

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/flipchat-billing/iap"
)

func RunStoreTests(t *testing.T, s iap.TokenStore, teardown func()) {
	for _, tf := range []func(t *testing.T, s iap.TokenStore){
		testTokenStore_HappyPath,
		testTokenStore_EmptyToken,
		testTokenStore_ConcurrentMark,
	} {
		tf(t, s)
		teardown()
	}
}

func testTokenStore_HappyPath(t *testing.T, store iap.TokenStore) {
	ctx := context.Background()

	consumed, err := store.IsConsumed(ctx, "token1")
	require.NoError(t, err)
	require.False(t, consumed)

	added, err := store.MarkConsumed(ctx, "token1")
	require.NoError(t, err)
	require.True(t, added)

	consumed, err = store.IsConsumed(ctx, "token1")
	require.NoError(t, err)
	require.True(t, consumed)

	added, err = store.MarkConsumed(ctx, "token1")
	require.NoError(t, err)
	require.False(t, added)

	consumed, err = store.IsConsumed(ctx, "token2")
	require.NoError(t, err)
	require.False(t, consumed)
}

func testTokenStore_EmptyToken(t *testing.T, store iap.TokenStore) {
	_, err := store.MarkConsumed(context.Background(), "")
	require.ErrorIs(t, err, iap.ErrEmptyToken)
}

func testTokenStore_ConcurrentMark(t *testing.T, store iap.TokenStore) {
	ctx := context.Background()

	const workers = 8

	var wg sync.WaitGroup
	results := make(chan bool, workers*4)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				added, err := store.MarkConsumed(ctx, fmt.Sprintf("token-%d", j))
				assert.NoError(t, err)
				results <- added
			}
		}()
	}
	wg.Wait()
	close(results)

	var added int
	for res := range results {
		if res {
			added++
		}
	}
	require.Equal(t, 4, added)
}
