package locker

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestLocalSerializesSameKey(t *testing.T) {
	t.Parallel()

	l := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, PaymentKey("pi_1"))
			if err != nil {
				t.Errorf("lock: %v", err)
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
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if len(l.slots) != 0 {
		t.Fatalf("slots leaked: %d", len(l.slots))
	}
}

func TestLocalDifferentKeysDoNotContend(t *testing.T) {
	t.Parallel()

	l := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	unlockA, err := l.Lock(ctx, PaymentKey("pi_a"))
	if err != nil {
		t.Fatalf("lock a: %v", err)
	}
	defer unlockA()
	unlockB, err := l.Lock(ctx, AccountKey("acct_b"))
	if err != nil {
		t.Fatalf("lock b while a held: %v", err)
	}
	unlockB()
}

func TestLocalTimesOut(t *testing.T) {
	t.Parallel()

	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "k"); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}

func TestRedisLockerRoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedis(rdb, time.Second)
	ctx := context.Background()
	unlock, err := l.Lock(ctx, PaymentKey("pi_redis_test"))
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, PaymentKey("pi_redis_test")); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout while held, got %v", err)
	}

	unlock()
	unlock2, err := l.Lock(ctx, PaymentKey("pi_redis_test"))
	if err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	unlock2()
}

func TestRedisLockerOutlivesTTLWhileHeld(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" || testing.Short() {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	l := NewRedis(rdb, 300*time.Millisecond)
	ctx := context.Background()
	key := PaymentKey("pi_redis_keepalive")
	unlock, err := l.Lock(ctx, key)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	// well past the TTL, the holder still owns the key
	time.Sleep(time.Second)
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(short, key); !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout after TTL while held, got %v", err)
	}

	unlock()
	unlock()
	if n, err := rdb.Exists(ctx, "escrow:lock:"+key).Result(); err != nil || n != 0 {
		t.Fatalf("key left after release: n=%d err=%v", n, err)
	}
}
