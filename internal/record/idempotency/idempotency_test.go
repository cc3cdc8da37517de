package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	_, ok, err := m.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "req-1", []byte(`{"stored":true}`), time.Hour))

	v, ok, err := m.Get(ctx, "req-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"stored":true}`, string(v))

	now = now.Add(time.Hour)
	_, ok, err = m.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.False(t, ok, "entries expire after the ttl")

	require.NoError(t, m.Put(ctx, "req-2", []byte("x"), 0))
	assert.Len(t, m.entries, 1, "expired entries are swept on put")
}
