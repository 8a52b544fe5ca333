// Package service implements the wallet ledger business logic.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/model"
	"arena-ledger/internal/pkg/db"
	"arena-ledger/internal/pkg/lock"
	"arena-ledger/internal/pkg/metrics"
	"arena-ledger/internal/repository"
)

// EntryInput describes the ledger entry paired with a wallet mutation.
// Every balance change writes exactly one entry in the same transaction.
type EntryInput struct {
	Type     string
	Provider string
	Txid     string
	Meta     map[string]any
}

// WalletService implements the wallet primitives: credit, debit, lock,
// unlock and release. Each primitive serializes on the wallet's in-process
// lock, takes the row lock inside a transaction, mutates both balance
// columns and appends the paired ledger entry atomically.
type WalletService struct {
	pool    *db.Pool
	wallets *repository.WalletRepository
	ledger  *repository.LedgerRepository
	locks   *lock.WalletLock
	metrics *metrics.Metrics
}

// NewWalletService creates a new WalletService instance.
func NewWalletService(
	pool *db.Pool,
	wallets *repository.WalletRepository,
	ledger *repository.LedgerRepository,
	locks *lock.WalletLock,
	m *metrics.Metrics,
) *WalletService {
	return &WalletService{
		pool:    pool,
		wallets: wallets,
		ledger:  ledger,
		locks:   locks,
		metrics: m,
	}
}

// GetOrCreateWallet retrieves a user's wallet, creating an empty one on
// first use.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	w, created, err := s.wallets.GetOrCreate(ctx, userID, model.DefaultCurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to get or create wallet: %w", err)
	}
	if created {
		log.Info().Int64("user_id", userID).Msg("Wallet created")
	}
	return w, nil
}

// GetWallet retrieves a user's wallet.
func (s *WalletService) GetWallet(ctx context.Context, userID int64) (*model.Wallet, error) {
	w, err := s.wallets.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrWalletNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return w, nil
}

// History retrieves a user's most recent ledger entries.
func (s *WalletService) History(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	return s.ledger.ListByUserID(ctx, userID, limit)
}

// TopWallets returns the highest spendable balances for the leaderboard.
func (s *WalletService) TopWallets(ctx context.Context, limit int) ([]*model.Wallet, error) {
	return s.wallets.GetTopWallets(ctx, limit)
}

// Credit adds amount to the spendable balance.
func (s *WalletService) Credit(ctx context.Context, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	return s.apply(ctx, userID, amount, s.creditTx, in)
}

// Debit removes amount from the spendable balance.
// Returns ErrInsufficientFunds if the balance does not cover it.
func (s *WalletService) Debit(ctx context.Context, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	return s.apply(ctx, userID, amount, s.debitTx, in)
}

// Lock moves amount from the spendable balance into the locked balance.
// Returns ErrInsufficientFunds if the spendable balance does not cover it.
func (s *WalletService) Lock(ctx context.Context, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	return s.apply(ctx, userID, amount, s.lockTx, in)
}

// Unlock removes amount from the locked balance without touching the
// spendable balance; the funds are considered consumed (a lost wager, an
// approved withdrawal). An unlock past zero clamps and logs.
func (s *WalletService) Unlock(ctx context.Context, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	return s.apply(ctx, userID, amount, s.unlockTx, in)
}

// Release returns amount from the locked balance to the spendable balance.
// A lock followed by a release of the same amount restores the wallet.
func (s *WalletService) Release(ctx context.Context, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	return s.apply(ctx, userID, amount, s.releaseTx, in)
}

type txOp func(ctx context.Context, tx pgx.Tx, userID, amount int64, in EntryInput) (*model.Wallet, error)

// apply runs a single-wallet primitive: in-process lock, transaction, row
// lock, mutation, ledger entry. A duplicate txid means the operation
// already happened; the transaction rolls back and the current wallet is
// returned unchanged.
func (s *WalletService) apply(ctx context.Context, userID, amount int64, op txOp, in EntryInput) (*model.Wallet, error) {
	if amount <= 0 {
		s.metrics.OperationRejected("invalid_amount")
		return nil, ErrInvalidAmount
	}

	if _, err := s.GetOrCreateWallet(ctx, userID); err != nil {
		return nil, err
	}

	var wallet *model.Wallet
	err := s.locks.WithLock(userID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			w, err := op(ctx, tx, userID, amount, in)
			if err != nil {
				return err
			}
			wallet = w
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTxid) {
			log.Warn().
				Int64("user_id", userID).
				Str("txid", in.Txid).
				Msg("Duplicate txid, operation already applied")
			s.metrics.OperationRejected("duplicate_txid")
			return s.GetWallet(ctx, userID)
		}
		if errors.Is(err, ErrInsufficientFunds) {
			s.metrics.OperationRejected("insufficient_funds")
		}
		return nil, err
	}

	return wallet, nil
}

// The *Tx primitives below run inside a caller-owned transaction with the
// in-process locks already held. Settlements compose them so that every
// leg of a multi-wallet settlement commits or rolls back together.

func (s *WalletService) creditTx(ctx context.Context, tx pgx.Tx, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	w, err := s.wallets.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, walletErr(err)
	}
	return s.commitMutation(ctx, tx, w, w.Balance+amount, w.LockedBalance, amount, model.StatusConfirmed, in)
}

func (s *WalletService) debitTx(ctx context.Context, tx pgx.Tx, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	w, err := s.wallets.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, walletErr(err)
	}
	if w.Available() < amount {
		return nil, ErrInsufficientFunds
	}
	return s.commitMutation(ctx, tx, w, w.Balance-amount, w.LockedBalance, amount, model.StatusConfirmed, in)
}

func (s *WalletService) lockTx(ctx context.Context, tx pgx.Tx, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	w, err := s.wallets.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, walletErr(err)
	}
	if w.Available() < amount {
		return nil, ErrInsufficientFunds
	}
	return s.commitMutation(ctx, tx, w, w.Balance-amount, w.LockedBalance+amount, amount, model.StatusLocked, in)
}

func (s *WalletService) unlockTx(ctx context.Context, tx pgx.Tx, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	w, err := s.wallets.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, walletErr(err)
	}
	return s.commitMutation(ctx, tx, w, w.Balance, s.clampLocked(w, amount), amount, model.StatusConfirmed, in)
}

func (s *WalletService) releaseTx(ctx context.Context, tx pgx.Tx, userID, amount int64, in EntryInput) (*model.Wallet, error) {
	w, err := s.wallets.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, walletErr(err)
	}
	return s.commitMutation(ctx, tx, w, w.Balance+amount, s.clampLocked(w, amount), amount, model.StatusConfirmed, in)
}

// settleWinTx pays out an odds-based win: the stake leaves the locked
// balance and the full payout lands in the spendable balance.
func (s *WalletService) settleWinTx(ctx context.Context, tx pgx.Tx, userID, stake, payout int64, in EntryInput) (*model.Wallet, error) {
	w, err := s.wallets.LockForUpdate(ctx, tx, userID)
	if err != nil {
		return nil, walletErr(err)
	}
	return s.commitMutation(ctx, tx, w, w.Balance+payout, s.clampLocked(w, stake), payout, model.StatusConfirmed, in)
}

// clampLocked computes the locked balance after removing amount, clamping
// at zero. Going below zero means a double-settlement slipped through the
// guards; the clamp keeps the wallet consistent and the log flags the bug.
func (s *WalletService) clampLocked(w *model.Wallet, amount int64) int64 {
	newLocked := w.LockedBalance - amount
	if newLocked < 0 {
		log.Warn().
			Int64("user_id", w.UserID).
			Int64("locked_balance", w.LockedBalance).
			Int64("amount", amount).
			Msg("Unlock exceeds locked balance, clamping at zero")
		s.metrics.UnlockUnderflow()
		return 0
	}
	return newLocked
}

func (s *WalletService) commitMutation(ctx context.Context, tx pgx.Tx, w *model.Wallet, balance, locked, entryAmount int64, status string, in EntryInput) (*model.Wallet, error) {
	updated, err := s.wallets.UpdateBalances(ctx, tx, w.UserID, balance, locked)
	if err != nil {
		return nil, err
	}

	if _, err := s.ledger.Insert(ctx, tx, &model.LedgerEntry{
		WalletID: w.ID,
		UserID:   w.UserID,
		Type:     in.Type,
		Amount:   entryAmount,
		Status:   status,
		Provider: in.Provider,
		Txid:     in.Txid,
		Meta:     in.Meta,
	}); err != nil {
		return nil, err
	}
	s.metrics.EntryWritten(in.Provider)

	return updated, nil
}

func walletErr(err error) error {
	if errors.Is(err, repository.ErrWalletNotFound) {
		return ErrWalletNotFound
	}
	return err
}
