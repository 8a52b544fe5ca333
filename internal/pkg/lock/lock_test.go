package lock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithLockAllTimeout(t *testing.T) {
	wl := NewWalletLock()
	ctx := context.Background()

	wl.Lock(7)
	if !wl.IsLocked(7) {
		t.Fatal("expected wallet 7 to be locked")
	}

	ran := false
	err := wl.WithLockAllTimeout(ctx, []int64{3, 7}, 50*time.Millisecond, func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if ran {
		t.Fatal("fn ran despite lock timeout")
	}

	// Wallet 3 was acquired before the timeout on 7 and must have been
	// released again.
	if wl.IsLocked(3) {
		t.Fatal("expected wallet 3 to be released after timeout")
	}

	wl.Unlock(7)

	err = wl.WithLockAllTimeout(ctx, []int64{7, 3, 7}, 50*time.Millisecond, func() error {
		if !wl.IsLocked(3) || !wl.IsLocked(7) {
			t.Fatal("expected both wallets locked inside fn")
		}
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after unlock, got %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
	if wl.IsLocked(3) || wl.IsLocked(7) {
		t.Fatal("expected all locks released after fn")
	}
}
