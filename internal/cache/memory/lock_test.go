package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/avolkov/arbengine/internal/domain"
)

func TestLockManagerExclusive(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()

	unlock, err := m.Acquire(ctx, "exec:BTC-USD|a|b", time.Minute)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := m.Acquire(ctx, "exec:BTC-USD|a|b", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("second acquire = %v, want ErrLockHeld", err)
	}

	unlock()
	if _, err := m.Acquire(ctx, "exec:BTC-USD|a|b", time.Minute); err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
}

func TestLockManagerExpiredLockReacquirable(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "k", time.Millisecond); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := m.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("acquire after expiry: %v", err)
	}
}

func TestLockManagerStaleUnlockDoesNotReleaseNewHolder(t *testing.T) {
	m := NewLockManager()
	ctx := context.Background()

	// A's lock expires before it unlocks.
	unlockA, err := m.Acquire(ctx, "k", time.Millisecond)
	if err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	// B takes over the expired key.
	unlockB, err := m.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire B: %v", err)
	}

	// A's late unlock must not release B's lock.
	unlockA()
	if _, err := m.Acquire(ctx, "k", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("acquire while B holds = %v, want ErrLockHeld", err)
	}

	unlockB()
	if _, err := m.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("acquire after B unlocked: %v", err)
	}
}
