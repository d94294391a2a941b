package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type summary struct {
	Count int    `json:"count"`
	Total string `json:"total"`
}

func newTestCache(t *testing.T) (*Versioned, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVersioned(client, "payslip-summary", time.Minute), mr
}

func TestFetchJSONCachesUntilBump(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return summary{Count: calls, Total: "100.00"}, nil
	}

	key, err := c.BuildKey(ctx, "2025", "03")
	require.NoError(t, err)
	require.Equal(t, "payslip-summary:2025:03:v1", key)

	var got summary
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 1, calls)
	require.Equal(t, 1, got.Count)

	require.NoError(t, c.Bump(ctx))
	key, err = c.BuildKey(ctx, "2025", "03")
	require.NoError(t, err)
	require.Equal(t, "payslip-summary:2025:03:v2", key)
	require.NoError(t, c.FetchJSON(ctx, key, &got, loader))
	require.Equal(t, 2, calls)
	require.Equal(t, 2, got.Count)
}

func TestFetchJSONLoaderErrorIsNotCached(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	boom := errors.New("boom")
	var got summary
	err := c.FetchJSON(ctx, "k", &got, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("k"))
}

func TestFetchJSONSharesConcurrentMisses(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	var calls atomic.Int32
	release := make(chan struct{})
	loader := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return summary{Count: 7}, nil
	}

	var wg sync.WaitGroup
	results := make([]summary, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, c.FetchJSON(ctx, "shared", &results[i], loader))
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		require.Equal(t, 7, r.Count)
	}
}

func TestFetchJSONCancelledCallerDoesNotFailWaiters(t *testing.T) {
	c, mr := newTestCache(t)
	started := make(chan struct{})
	release := make(chan struct{})
	loader := func(ctx context.Context) (any, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return summary{Count: 3}, nil
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		var got summary
		firstErr <- c.FetchJSON(firstCtx, "shared", &got, loader)
	}()
	<-started

	secondErr := make(chan error, 1)
	var second summary
	go func() {
		secondErr <- c.FetchJSON(context.Background(), "shared", &second, loader)
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)
	require.NoError(t, <-secondErr)
	require.Equal(t, 3, second.Count)
	require.True(t, mr.Exists("shared"))
}

func TestNilClientFallsThroughToLoader(t *testing.T) {
	c := NewVersioned(nil, "x", time.Minute)
	var got summary
	require.NoError(t, c.FetchJSON(context.Background(), "k", &got, func(context.Context) (any, error) {
		return summary{Count: 3}, nil
	}))
	require.Equal(t, 3, got.Count)
	require.NoError(t, c.Bump(context.Background()))
}
