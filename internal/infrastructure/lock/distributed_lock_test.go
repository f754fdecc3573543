package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestTryLockMutualExclusion(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewDistributedLock(client, "test:lock", "holder-1", 30*time.Second)
	l2 := NewDistributedLock(client, "test:lock", "holder-2", 30*time.Second)

	ok, err := l1.TryLock(ctx)
	if err != nil || !ok {
		t.Fatalf("首次加锁失败: ok=%v err=%v", ok, err)
	}

	ok, err = l2.TryLock(ctx)
	if err != nil {
		t.Fatalf("TryLock 出错: %v", err)
	}
	if ok {
		t.Fatal("锁被持有时第二个客户端仍加锁成功")
	}

	if err := l1.Unlock(ctx); err != nil {
		t.Fatalf("释放锁失败: %v", err)
	}

	ok, _ = l2.TryLock(ctx)
	if !ok {
		t.Fatal("锁释放后加锁失败")
	}
}

func TestUnlockOnlyOwner(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewDistributedLock(client, "test:lock", "holder-1", 30*time.Second)
	l2 := NewDistributedLock(client, "test:lock", "holder-2", 30*time.Second)

	if ok, _ := l1.TryLock(ctx); !ok {
		t.Fatal("加锁失败")
	}

	// 非持有者 Unlock 不能删掉别人的锁
	if err := l2.Unlock(ctx); err != nil {
		t.Fatalf("Unlock 出错: %v", err)
	}

	ok, _ := l2.TryLock(ctx)
	if ok {
		t.Fatal("锁被非持有者误删")
	}
}

func TestLockRetryExhausted(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	l1 := NewDistributedLock(client, "test:lock", "holder-1", 30*time.Second)
	l2 := NewDistributedLock(client, "test:lock", "holder-2", 30*time.Second)

	if ok, _ := l1.TryLock(ctx); !ok {
		t.Fatal("加锁失败")
	}

	err := l2.Lock(ctx, time.Millisecond, 3)
	if !errors.Is(err, ErrLockFailed) {
		t.Fatalf("err = %v, want ErrLockFailed", err)
	}
}

func TestBusinessLockKeys(t *testing.T) {
	client := newTestClient(t)

	cases := []struct {
		lock *DistributedLock
		key  string
	}{
		{NewRedeemLock(client, 100, "tok"), "redeem:lock:user:100"},
		{NewWalletLock(client, 100, "tok"), "wallet:lock:user:100"},
		{NewTenantLock(client, 7, "tok"), "tenant:lock:7"},
	}

	for _, c := range cases {
		if c.lock.key != c.key {
			t.Errorf("key = %s, want %s", c.lock.key, c.key)
		}
	}
}
