package keylock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSortedDeduplicates(t *testing.T) {
	require.Equal(t, []string{"a", "b", "c"}, Sorted([]string{"c", "a", "", "b", "a"}))
}

func TestLocalSerialisesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	var mu sync.Mutex
	inside, maxSeen := 0, 0
	var failures atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "stock:1:1")
			if err != nil {
				failures.Add(1)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			release()
		}()
	}
	wg.Wait()
	require.Zero(t, failures.Load())
	require.Equal(t, 1, maxSeen)
	require.Empty(t, locker.slots)
}

func TestLocalTimesOut(t *testing.T) {
	locker := NewLocal()
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "k")
	require.ErrorIs(t, err, ErrNotAcquired)
}

func TestAcquireAllReleasesOnFailure(t *testing.T) {
	locker := NewLocal()
	blocker, err := locker.Acquire(context.Background(), "b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = AcquireAll(ctx, locker, []string{"b", "a"})
	require.ErrorIs(t, err, ErrNotAcquired)
	blocker()

	// "a" must have been released by the failed call.
	release, err := AcquireAll(context.Background(), locker, []string{"a", "b"})
	require.NoError(t, err)
	release()
}

func TestRedisLocker(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedis(client, RedisOptions{TTL: time.Second, Poll: 5 * time.Millisecond})
	release, err := locker.Acquire(context.Background(), "stock:7:2")
	require.NoError(t, err)
	require.True(t, srv.Exists("stockledger:lock:stock:7:2"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, "stock:7:2")
	require.ErrorIs(t, err, ErrNotAcquired)

	release()
	require.False(t, srv.Exists("stockledger:lock:stock:7:2"))

	release, err = locker.Acquire(context.Background(), "stock:7:2")
	require.NoError(t, err)
	release()
}

func TestRedisReleaseKeepsForeignToken(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedis(client, RedisOptions{TTL: time.Second})
	release, err := locker.Acquire(context.Background(), "k")
	require.NoError(t, err)

	// Simulate expiry followed by another owner taking the key.
	require.NoError(t, srv.Set("stockledger:lock:k", "someone-else"))
	release()
	value, err := srv.Get("stockledger:lock:k")
	require.NoError(t, err)
	require.Equal(t, "someone-else", value)
}
