//go:build integration

package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kycvault/internal/record/idempotency"
	"kycvault/pkg/testutil/containers"
)

func TestRedisStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	rc := containers.GetManager().GetRedis(t)
	ctx := context.Background()
	require.NoError(t, rc.FlushAll(ctx))

	store := idempotency.NewRedis(rc.Client)

	_, ok, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Put(ctx, "req-1", []byte(`{"stored":true}`), time.Minute))
	v, ok, err := store.Get(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"stored":true}`, string(v))

	ttl, err := rc.Client.TTL(ctx, "kyc:idempotency:req-1").Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}
