// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"arena-ledger/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool.
// Skips the test if Docker is not available.
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = applySchema(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// applySchema creates the ledger schema. Mirrors cmd/migrator/migrations.
func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS wallets (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			locked_balance BIGINT NOT NULL DEFAULT 0 CHECK (locked_balance >= 0),
			currency TEXT NOT NULL DEFAULT 'EBT',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id BIGSERIAL PRIMARY KEY,
			wallet_id BIGINT NOT NULL REFERENCES wallets(id),
			user_id BIGINT NOT NULL,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL,
			provider TEXT NOT NULL,
			txid TEXT NOT NULL,
			meta JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_txid ON transactions(txid)`,
		`CREATE TABLE IF NOT EXISTS challenges (
			id BIGSERIAL PRIMARY KEY,
			creator_id BIGINT NOT NULL,
			opponent_id BIGINT NOT NULL,
			bet_amount BIGINT NOT NULL CHECK (bet_amount > 0),
			status TEXT NOT NULL,
			outcome TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS bets (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			entity_kind TEXT NOT NULL,
			entity_id BIGINT NOT NULL,
			bet_type TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			odds BIGINT NOT NULL CHECK (odds >= 100),
			potential_win BIGINT NOT NULL CHECK (potential_win >= 0),
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS match_results (
			entity_id BIGINT PRIMARY KEY,
			outcome TEXT NOT NULL,
			settled_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS deposit_requests (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount_usd_cents BIGINT NOT NULL CHECK (amount_usd_cents > 0),
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			decided_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			decided_at TIMESTAMPTZ
		)`,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn inside a committed transaction; test helper for the
// tx-scoped repository methods.
func inTx(t *testing.T, pool *pgxpool.Pool, fn func(tx pgx.Tx) error) error {
	t.Helper()
	ctx := context.Background()

	tx, err := pool.Begin(ctx)
	require.NoError(t, err)

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// ============================================================================
// WalletRepository Tests
// ============================================================================

func TestWalletRepository_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository(pool)
	ctx := context.Background()

	w, err := repo.Create(ctx, 100, model.DefaultCurrency)
	require.NoError(t, err)
	assert.Equal(t, int64(100), w.UserID)
	assert.Equal(t, int64(0), w.Balance)
	assert.Equal(t, int64(0), w.LockedBalance)
	assert.Equal(t, model.DefaultCurrency, w.Currency)

	got, err := repo.GetByUserID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = repo.GetByUserID(ctx, 999)
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestWalletRepository_GetOrCreate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository(pool)
	ctx := context.Background()

	w1, created, err := repo.GetOrCreate(ctx, 200, model.DefaultCurrency)
	require.NoError(t, err)
	assert.True(t, created)

	w2, created, err := repo.GetOrCreate(ctx, 200, model.DefaultCurrency)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, w1.ID, w2.ID)
}

func TestWalletRepository_UpdateBalances(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 300, model.DefaultCurrency)
	require.NoError(t, err)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		w, err := repo.LockForUpdate(ctx, tx, 300)
		if err != nil {
			return err
		}
		_, err = repo.UpdateBalances(ctx, tx, 300, w.Balance+1000, w.LockedBalance+400)
		return err
	})
	require.NoError(t, err)

	got, err := repo.GetByUserID(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), got.Balance)
	assert.Equal(t, int64(400), got.LockedBalance)
}

func TestWalletRepository_NegativeBalanceRejected(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewWalletRepository(pool)
	ctx := context.Background()

	_, err := repo.Create(ctx, 310, model.DefaultCurrency)
	require.NoError(t, err)

	// The CHECK constraint rejects negative balances even if service
	// validation is bypassed.
	err = inTx(t, pool, func(tx pgx.Tx) error {
		_, err := repo.UpdateBalances(ctx, tx, 310, -1, 0)
		return err
	})
	assert.Error(t, err)
}

// ============================================================================
// LedgerRepository Tests
// ============================================================================

func newTestEntry(walletID, userID int64, txid string) *model.LedgerEntry {
	return &model.LedgerEntry{
		WalletID: walletID,
		UserID:   userID,
		Type:     model.EntryDeposit,
		Amount:   500,
		Status:   model.StatusConfirmed,
		Provider: model.ProviderAdmin,
		Txid:     txid,
		Meta:     map[string]any{"reason": "test"},
	}
}

func TestLedgerRepository_InsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	wallets := NewWalletRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	w, err := wallets.Create(ctx, 400, model.DefaultCurrency)
	require.NoError(t, err)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		_, err := ledger.Insert(ctx, tx, newTestEntry(w.ID, 400, "tx_400_1"))
		return err
	})
	require.NoError(t, err)

	e, err := ledger.GetByTxid(ctx, "tx_400_1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), e.Amount)
	assert.Equal(t, "test", e.Meta["reason"])

	_, err = ledger.GetByTxid(ctx, "missing")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestLedgerRepository_DuplicateTxid(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	wallets := NewWalletRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	w, err := wallets.Create(ctx, 410, model.DefaultCurrency)
	require.NoError(t, err)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		_, err := ledger.Insert(ctx, tx, newTestEntry(w.ID, 410, "tx_410_1"))
		return err
	})
	require.NoError(t, err)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		_, err := ledger.Insert(ctx, tx, newTestEntry(w.ID, 410, "tx_410_1"))
		return err
	})
	assert.ErrorIs(t, err, ErrDuplicateTxid)

	// The first entry stands.
	entries, err := ledger.ListByUserID(ctx, 410, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedgerRepository_BonusBalance(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	wallets := NewWalletRepository(pool)
	ledger := NewLedgerRepository(pool)
	ctx := context.Background()

	w, err := wallets.Create(ctx, 420, model.DefaultCurrency)
	require.NoError(t, err)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		for _, e := range []*model.LedgerEntry{
			{WalletID: w.ID, UserID: 420, Type: model.EntryLockedBonus, Amount: 100, Status: model.StatusLocked, Provider: model.ProviderDepositBonus, Txid: "bonus_1"},
			{WalletID: w.ID, UserID: 420, Type: model.EntryLockedBonus, Amount: 250, Status: model.StatusLocked, Provider: model.ProviderReferralBonus, Txid: "bonus_2"},
		} {
			if _, err := ledger.Insert(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	sum, err := ledger.BonusBalance(ctx, 420)
	require.NoError(t, err)
	assert.Equal(t, int64(350), sum)

	// Unlock the first accrual; balance drops by its amount.
	err = inTx(t, pool, func(tx pgx.Tx) error {
		_, err := ledger.Insert(ctx, tx, &model.LedgerEntry{
			WalletID: w.ID, UserID: 420,
			Type: model.EntryDepositAsWin, Amount: 100,
			Status: model.StatusConfirmed, Provider: model.ProviderBonusUnlock,
			Txid: "bonus_unlock_bonus_1",
			Meta: map[string]any{"unlocks": "bonus_1"},
		})
		return err
	})
	require.NoError(t, err)

	sum, err = ledger.BonusBalance(ctx, 420)
	require.NoError(t, err)
	assert.Equal(t, int64(250), sum)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		unlocked, err := ledger.HasUnlockFor(ctx, tx, "bonus_1")
		require.NoError(t, err)
		assert.True(t, unlocked)

		unlocked, err = ledger.HasUnlockFor(ctx, tx, "bonus_2")
		require.NoError(t, err)
		assert.False(t, unlocked)
		return nil
	})
	require.NoError(t, err)
}

// ============================================================================
// ChallengeRepository Tests
// ============================================================================

func TestChallengeRepository_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()

	var id int64
	err := inTx(t, pool, func(tx pgx.Tx) error {
		c, err := repo.Create(ctx, tx, 1, 2, 400, time.Now().Add(time.Hour))
		if err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	require.NoError(t, err)

	c, err := repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.ChallengeOpen, c.Status)
	assert.Equal(t, int64(400), c.BetAmount)
	assert.False(t, c.Terminal())

	err = inTx(t, pool, func(tx pgx.Tx) error {
		return repo.SetStatus(ctx, tx, id, model.ChallengeCompleted, model.OutcomeCreatorWin)
	})
	require.NoError(t, err)

	c, err = repo.GetByID(ctx, id)
	require.NoError(t, err)
	assert.True(t, c.Terminal())
	assert.Equal(t, model.OutcomeCreatorWin, c.Outcome)

	_, err = repo.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, ErrChallengeNotFound)
}

// ============================================================================
// BetRepository Tests
// ============================================================================

func TestBetRepository_CreateAndSettleGuard(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewBetRepository(pool)
	ctx := context.Background()

	err := inTx(t, pool, func(tx pgx.Tx) error {
		for _, userID := range []int64{10, 11} {
			_, err := repo.Create(ctx, tx, &model.Bet{
				UserID:       userID,
				EntityKind:   model.EntityMatch,
				EntityID:     77,
				BetType:      model.BetTypeHome,
				Amount:       100,
				Odds:         250,
				PotentialWin: 250,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	pending, err := repo.ListPendingByEntity(ctx, model.EntityMatch, 77)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, model.BetPending, pending[0].Status)
	assert.Equal(t, int64(250), pending[0].PotentialWin)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		if err := repo.MarkMatchSettled(ctx, tx, 77, model.BetTypeHome); err != nil {
			return err
		}
		for _, b := range pending {
			if err := repo.SetStatus(ctx, tx, b.ID, model.BetWon); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	// Second settlement attempt trips the guard.
	err = inTx(t, pool, func(tx pgx.Tx) error {
		return repo.MarkMatchSettled(ctx, tx, 77, model.BetTypeHome)
	})
	assert.ErrorIs(t, err, ErrAlreadySettled)

	settled, err := repo.MatchSettled(ctx, 77)
	require.NoError(t, err)
	assert.True(t, settled)

	pending, err = repo.ListPendingByEntity(ctx, model.EntityMatch, 77)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// ============================================================================
// FundingRepository Tests
// ============================================================================

func TestFundingRepository_DepositDecideOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFundingRepository(pool)
	ctx := context.Background()

	d, err := repo.CreateDeposit(ctx, 500, 2500)
	require.NoError(t, err)
	assert.Equal(t, model.RequestPending, d.Status)
	assert.Equal(t, int64(2500), d.AmountUSDCents)
	assert.Nil(t, d.DecidedAt)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		return repo.DecideDeposit(ctx, tx, d.ID, model.RequestApproved)
	})
	require.NoError(t, err)

	got, err := repo.GetDeposit(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RequestApproved, got.Status)
	assert.NotNil(t, got.DecidedAt)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		return repo.DecideDeposit(ctx, tx, d.ID, model.RequestRejected)
	})
	assert.ErrorIs(t, err, ErrAlreadyDecided)
}

func TestFundingRepository_Withdrawal(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewFundingRepository(pool)
	ctx := context.Background()

	var id int64
	err := inTx(t, pool, func(tx pgx.Tx) error {
		w, err := repo.CreateWithdrawal(ctx, tx, 510, 1000)
		if err != nil {
			return err
		}
		id = w.ID
		return nil
	})
	require.NoError(t, err)

	pendingList, err := repo.ListPendingWithdrawals(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pendingList, 1)
	assert.Equal(t, id, pendingList[0].ID)

	err = inTx(t, pool, func(tx pgx.Tx) error {
		if _, err := repo.GetWithdrawalForUpdate(ctx, tx, id); err != nil {
			return err
		}
		return repo.DecideWithdrawal(ctx, tx, id, model.RequestRejected)
	})
	require.NoError(t, err)

	got, err := repo.GetWithdrawal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.RequestRejected, got.Status)

	_, err = repo.GetWithdrawal(ctx, 9999)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}
