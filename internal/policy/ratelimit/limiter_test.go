package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterWaitDelaysSecondCall(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://test.com/other"))
	require.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestLimiterSeparatesHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 1, Burst: 1})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	require.Less(t, time.Since(start), 100*time.Millisecond)
	require.Equal(t, 2, l.Hosts())
}

func TestLimiterHonorsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RPS: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://slow.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://slow.com"))
}

func TestLimiterUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for range 5 {
		require.NoError(t, l.Wait(context.Background(), "::bad url::"))
	}
	require.Equal(t, 1, l.Hosts())
}
