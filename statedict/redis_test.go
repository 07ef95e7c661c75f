package statedict

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// needs a reachable redis, e.g. FUZZGYM_REDIS_ADDR=localhost:6379
func TestRedisStoreSharesIds(t *testing.T) {
	addr := os.Getenv("FUZZGYM_REDIS_ADDR")
	if addr == "" {
		t.Skip("FUZZGYM_REDIS_ADDR not set")
	}
	key := "fuzzgym:test:" + uuid.New().String()

	a := NewRedisStore(addr, key, nil)
	b := NewRedisStore(addr, key, nil)
	t.Cleanup(func() {
		a.client.Del(context.Background(), key)
		a.Close()
		b.Close()
	})

	first := New(a, 1, nil)
	second := New(b, 1, nil)

	id, err := first.Resolve("sigA")
	require.NoError(t, err)
	again, err := second.Resolve("sigA")
	require.NoError(t, err)
	assert.Equal(t, id, again)

	next, err := second.Resolve("sigB")
	require.NoError(t, err)
	assert.Equal(t, 2, next)
}
