// Package lock provides per-wallet locking for concurrent ledger operations.
// Two settlements touching the same wallet serialize here before they reach
// the database row lock; settlements on disjoint wallets run in parallel.
package lock

import (
	"context"
	"sort"
	"sync"
	"time"
)

// walletMutex wraps a mutex with reference counting for cleanup.
type walletMutex struct {
	mu       sync.Mutex
	refCount int
}

// WalletLock provides per-wallet locking to prevent race conditions
// during balance mutations and settlement batches. Keys are wallet owner
// user IDs (wallets are 1:1 with users).
type WalletLock struct {
	locks sync.Map // map[int64]*walletMutex
	pool  sync.Pool
}

// NewWalletLock creates a new WalletLock instance.
func NewWalletLock() *WalletLock {
	return &WalletLock{
		pool: sync.Pool{
			New: func() any {
				return &walletMutex{}
			},
		},
	}
}

// getLock retrieves or creates a mutex for the given user ID.
func (wl *WalletLock) getLock(userID int64) *walletMutex {
	if v, ok := wl.locks.Load(userID); ok {
		return v.(*walletMutex)
	}

	newLock := wl.pool.Get().(*walletMutex)
	newLock.refCount = 0

	actual, loaded := wl.locks.LoadOrStore(userID, newLock)
	if loaded {
		// Another goroutine created the lock first, return ours to pool.
		wl.pool.Put(newLock)
	}
	return actual.(*walletMutex)
}

// Lock acquires the lock for a wallet.
// This must be called before any balance-modifying operation.
func (wl *WalletLock) Lock(userID int64) {
	lock := wl.getLock(userID)
	lock.mu.Lock()
	lock.refCount++
}

// Unlock releases the lock for a wallet.
func (wl *WalletLock) Unlock(userID int64) {
	if v, ok := wl.locks.Load(userID); ok {
		lock := v.(*walletMutex)
		lock.refCount--
		lock.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false otherwise.
func (wl *WalletLock) TryLock(userID int64) bool {
	lock := wl.getLock(userID)
	if lock.mu.TryLock() {
		lock.refCount++
		return true
	}
	return false
}

// LockWithTimeout attempts to acquire the lock with a timeout.
// Returns true if the lock was acquired, false if timeout occurred.
func (wl *WalletLock) LockWithTimeout(ctx context.Context, userID int64, timeout time.Duration) bool {
	lock := wl.getLock(userID)

	done := make(chan struct{})

	go func() {
		lock.mu.Lock()
		close(done)
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		lock.refCount++
		return true
	case <-timeoutCtx.Done():
		// The waiting goroutine will eventually acquire; release it then.
		go func() {
			<-done
			lock.mu.Unlock()
		}()
		return false
	}
}

// WithLock executes a function while holding the wallet's lock.
func (wl *WalletLock) WithLock(userID int64, fn func() error) error {
	wl.Lock(userID)
	defer wl.Unlock(userID)
	return fn()
}

// WithLockAll executes a function while holding the locks of every given
// wallet. IDs are deduplicated and acquired in ascending order so that two
// settlements sharing participants can never deadlock against each other.
func (wl *WalletLock) WithLockAll(userIDs []int64, fn func() error) error {
	ids := dedupeSorted(userIDs)
	for _, id := range ids {
		wl.Lock(id)
	}
	defer func() {
		for i := len(ids) - 1; i >= 0; i-- {
			wl.Unlock(ids[i])
		}
	}()
	return fn()
}

// WithLockAllTimeout is WithLockAll with a per-lock acquisition timeout.
// Returns ErrLockTimeout without running fn when any lock cannot be
// acquired in time; locks already taken are released.
func (wl *WalletLock) WithLockAllTimeout(ctx context.Context, userIDs []int64, timeout time.Duration, fn func() error) error {
	ids := dedupeSorted(userIDs)
	acquired := make([]int64, 0, len(ids))
	release := func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			wl.Unlock(acquired[i])
		}
	}

	for _, id := range ids {
		if !wl.LockWithTimeout(ctx, id, timeout) {
			release()
			return ErrLockTimeout
		}
		acquired = append(acquired, id)
	}
	defer release()
	return fn()
}

func dedupeSorted(userIDs []int64) []int64 {
	ids := make([]int64, 0, len(userIDs))
	seen := make(map[int64]struct{}, len(userIDs))
	for _, id := range userIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// IsLocked checks if a wallet currently has an active lock.
// Note: this is a point-in-time check and may change immediately after.
func (wl *WalletLock) IsLocked(userID int64) bool {
	if v, ok := wl.locks.Load(userID); ok {
		lock := v.(*walletMutex)
		if lock.mu.TryLock() {
			lock.mu.Unlock()
			return false
		}
		return true
	}
	return false
}
