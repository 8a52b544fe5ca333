// Property-based tests for concurrent wallet mutation safety.
package lock

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentMutationSafetyProperty checks that for any set of concurrent
// balance mutations on the same wallet, the final balance is consistent with
// sequential execution of all mutations.
func TestConcurrentMutationSafetyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		initialBalance := rapid.Int64Range(1000, 100000).Draw(t, "initialBalance")
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		deltas := make([]int64, numOps)
		expected := initialBalance
		for i := 0; i < numOps; i++ {
			deltas[i] = rapid.Int64Range(-500, 500).Draw(t, "delta")
			expected += deltas[i]
		}

		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		wl := NewWalletLock()
		balance := initialBalance

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, d := range deltas {
			go func(delta int64) {
				defer wg.Done()
				wl.Lock(userID)
				defer wl.Unlock(userID)
				// read-modify-write, unsafe without the lock
				b := balance
				balance = b + delta
			}(d)
		}
		wg.Wait()

		if balance != expected {
			t.Fatalf("final balance %d != expected %d (initial=%d, ops=%d)",
				balance, expected, initialBalance, numOps)
		}
	})
}

// TestWithLockAllOrderingProperty checks that holding multiple wallet locks
// via WithLockAll serializes mutations on every wallet in the set, for any
// overlap between concurrent settlements.
func TestWithLockAllOrderingProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numWallets := rapid.IntRange(2, 6).Draw(t, "numWallets")
		numSettlements := rapid.IntRange(2, 12).Draw(t, "numSettlements")

		wl := NewWalletLock()
		balances := make([]int64, numWallets)

		// Each settlement picks two (possibly equal) wallets and moves one
		// unit between them while holding both locks.
		type pair struct{ a, b int }
		pairs := make([]pair, numSettlements)
		for i := range pairs {
			pairs[i] = pair{
				a: rapid.IntRange(0, numWallets-1).Draw(t, "a"),
				b: rapid.IntRange(0, numWallets-1).Draw(t, "b"),
			}
		}

		var wg sync.WaitGroup
		wg.Add(numSettlements)
		for _, p := range pairs {
			go func(a, b int) {
				defer wg.Done()
				err := wl.WithLockAll([]int64{int64(a + 1), int64(b + 1)}, func() error {
					balances[a]--
					balances[b]++
					return nil
				})
				if err != nil {
					panic(err)
				}
			}(p.a, p.b)
		}
		wg.Wait()

		var total int64
		for _, b := range balances {
			total += b
		}
		if total != 0 {
			t.Fatalf("balance total not conserved: %d", total)
		}
	})
}

// TestTryLockExclusionProperty checks that TryLock never succeeds while the
// lock is held.
func TestTryLockExclusionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		wl := NewWalletLock()
		wl.Lock(userID)
		if wl.TryLock(userID) {
			t.Fatalf("TryLock succeeded while lock held for user %d", userID)
		}
		wl.Unlock(userID)

		if !wl.TryLock(userID) {
			t.Fatalf("TryLock failed on free lock for user %d", userID)
		}
		wl.Unlock(userID)
	})
}
