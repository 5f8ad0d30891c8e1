package agent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestProxyPoolNilSafety(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool(nil, 3, time.Minute, zap.NewNop())
	require.Nil(t, pool)

	_, ok := pool.Next()
	require.False(t, ok)
	require.Zero(t, pool.Usable())
	pool.MarkSuccess("http://a:1")
	pool.MarkFailure("http://a:1")
}

func TestProxyPoolRoundRobin(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool([]string{"http://a:1", "http://b:2"}, 3, 0, zap.NewNop())

	first, ok := pool.Next()
	require.True(t, ok)
	second, ok := pool.Next()
	require.True(t, ok)
	require.NotEqual(t, first, second)

	third, ok := pool.Next()
	require.True(t, ok)
	require.Equal(t, first, third)
}

func TestProxyPoolRetiresAfterFailureBudget(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool([]string{"http://a:1", "http://b:2"}, 2, 0, zap.NewNop())

	pool.MarkFailure("http://a:1")
	require.Equal(t, 2, pool.Usable(), "one failure only cools down")

	pool.MarkFailure("http://a:1")
	require.Equal(t, 1, pool.Usable(), "budget exhausted retires the proxy")

	for i := 0; i < 4; i++ {
		url, ok := pool.Next()
		require.True(t, ok)
		require.Equal(t, "http://b:2", url)
	}
}

func TestProxyPoolCooldownSkipsProxy(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool([]string{"http://a:1", "http://b:2"}, 5, time.Hour, zap.NewNop())
	pool.MarkFailure("http://a:1")

	for i := 0; i < 3; i++ {
		url, ok := pool.Next()
		require.True(t, ok)
		require.Equal(t, "http://b:2", url)
	}
}

func TestProxyPoolMarkSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	pool := NewProxyPool([]string{"http://a:1"}, 2, 0, zap.NewNop())
	pool.MarkFailure("http://a:1")
	pool.MarkSuccess("http://a:1")
	pool.MarkFailure("http://a:1")
	require.Equal(t, 1, pool.Usable(), "success resets the failure budget")
}
