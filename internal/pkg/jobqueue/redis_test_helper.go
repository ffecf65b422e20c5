package jobqueue

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestRedis starts an in-memory Redis for one test and returns a client bound to it.
func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newTestQueue(t *testing.T, policy RetryPolicy) (*Queue, *redis.Client) {
	t.Helper()

	_, client := newTestRedis(t)
	q := NewQueue(client, "test", 2, Options{
		RetryPolicy:     policy,
		PollInterval:    20 * time.Millisecond,
		SweepInterval:   time.Hour,
		ShutdownTimeout: time.Second,
	})
	return q, client
}
