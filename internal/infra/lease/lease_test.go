package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"decertify/internal/domain"
)

func TestMemoryLeaseExclusive(t *testing.T) {
	locker := NewMemory()
	unlock, err := locker.TryLock(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := locker.TryLock(context.Background(), "req-1"); !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	if _, err := locker.TryLock(context.Background(), "req-2"); err != nil {
		t.Fatalf("expected independent key to lock, got %v", err)
	}
	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if locker.Held("req-1") {
		t.Fatal("expected lease released")
	}
	if _, err := locker.TryLock(context.Background(), "req-1"); err != nil {
		t.Fatalf("relock: %v", err)
	}
}

func TestMemoryLeaseDoubleUnlockKeepsNewHolder(t *testing.T) {
	locker := NewMemory()
	first, err := locker.TryLock(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	_ = first(context.Background())
	if _, err := locker.TryLock(context.Background(), "req-1"); err != nil {
		t.Fatalf("second lock: %v", err)
	}
	_ = first(context.Background())
	if !locker.Held("req-1") {
		t.Fatal("stale unlock released the new holder")
	}
}

func TestMemoryLeaseConcurrent(t *testing.T) {
	locker := NewMemory()
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := locker.TryLock(context.Background(), "req-1"); err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestNewRedisValidatesConfig(t *testing.T) {
	if _, err := NewRedis("", "", 0, time.Minute); err == nil {
		t.Fatal("expected error for missing addr")
	}
	if _, err := NewRedis("localhost:6379", "", 0, 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}
