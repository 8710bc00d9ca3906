package healthcache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gearman-go/gasync/internal/gearman/endpoint"
)

func TestKeyNamespacesByHostSpec(t *testing.T) {
	got := key("job1.internal:7003")
	want := "gasync:endpoint_dead_until:job1.internal:7003"
	if got != want {
		t.Errorf("key() = %q, want %q", got, want)
	}
}

// unreachableCache points at a port nothing listens on, so every Redis
// call fails fast with a dial error.
func unreachableCache() *Cache {
	return New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}))
}

func TestMarkDeadSwallowsRedisErrors(t *testing.T) {
	c := unreachableCache()
	c.MarkDead("job1:7003", time.Now().Add(time.Minute)) // must not panic
}

func TestMarkDeadIsNoOpForPastDeadline(t *testing.T) {
	c := unreachableCache()
	// A deadline already in the past must never attempt to Set a
	// negative/zero TTL; this exercises the early return without
	// needing a live Redis to observe.
	c.MarkDead("job1:7003", time.Now().Add(-time.Minute))
}

func TestIsDeadReturnsFalseWhenRedisUnreachable(t *testing.T) {
	c := unreachableCache()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	dead, until := c.IsDead(ctx, "job1:7003")
	if dead {
		t.Error("expected IsDead to answer false rather than surface a Redis error")
	}
	if !until.IsZero() {
		t.Errorf("expected a zero deadline alongside a false verdict, got %v", until)
	}
}

func TestOnStateChangeIgnoresTransitionsNotIntoDisconnected(t *testing.T) {
	c := unreachableCache()
	ep := endpoint.New(endpoint.NewHostSpec("job1:7003"), nil)
	defer ep.Shutdown()

	c.OnStateChange(ep, endpoint.Disconnected, endpoint.Connecting) // must not panic
	c.OnStateChange(ep, endpoint.Connecting, endpoint.Ready)        // must not panic
}

func TestOnStateChangeSwallowsRedisErrorsOnDisconnect(t *testing.T) {
	c := unreachableCache()
	ep := endpoint.New(endpoint.NewHostSpec("127.0.0.1:0"), nil)
	defer ep.Shutdown()

	done := make(chan struct{})
	ep.TSetOffline(true)
	ep.GetInReadyState(nil, func() { close(done) })
	<-done

	c.OnStateChange(ep, endpoint.Connecting, endpoint.Disconnected) // must not panic
}
