// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena-ledger/internal/model"
)

// Common errors for repository operations.
var (
	ErrWalletNotFound = errors.New("wallet not found")
)

const walletColumns = "id, user_id, balance, locked_balance, currency, created_at, updated_at"

// WalletRepository handles wallet persistence.
type WalletRepository struct {
	pool *pgxpool.Pool
}

// NewWalletRepository creates a new WalletRepository instance.
func NewWalletRepository(pool *pgxpool.Pool) *WalletRepository {
	return &WalletRepository{pool: pool}
}

func scanWallet(row pgx.Row) (*model.Wallet, error) {
	var w model.Wallet
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.Balance,
		&w.LockedBalance,
		&w.Currency,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Create creates a wallet for the given user with zero balances.
func (r *WalletRepository) Create(ctx context.Context, userID int64, currency string) (*model.Wallet, error) {
	const query = `
		INSERT INTO wallets (user_id, balance, locked_balance, currency, created_at, updated_at)
		VALUES ($1, 0, 0, $2, NOW(), NOW())
		RETURNING ` + walletColumns

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID, currency))
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}
	return w, nil
}

// GetByUserID retrieves a wallet by its owner's user ID.
// Returns ErrWalletNotFound if the wallet does not exist.
func (r *WalletRepository) GetByUserID(ctx context.Context, userID int64) (*model.Wallet, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`

	w, err := scanWallet(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// GetOrCreate retrieves a wallet by user ID, creating one if it doesn't
// exist. Wallets are created lazily on first need.
func (r *WalletRepository) GetOrCreate(ctx context.Context, userID int64, currency string) (*model.Wallet, bool, error) {
	w, err := r.GetByUserID(ctx, userID)
	if err == nil {
		return w, false, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, false, err
	}

	w, err = r.Create(ctx, userID, currency)
	if err != nil {
		// Handle race condition: another request might have created the wallet.
		w, err = r.GetByUserID(ctx, userID)
		if err != nil {
			return nil, false, err
		}
		return w, false, nil
	}

	return w, true, nil
}

// LockForUpdate selects a wallet row with a pessimistic row lock. It must
// run inside the transaction that mutates the wallet.
// Returns ErrWalletNotFound if the wallet does not exist.
func (r *WalletRepository) LockForUpdate(ctx context.Context, tx pgx.Tx, userID int64) (*model.Wallet, error) {
	const query = `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 FOR UPDATE`

	w, err := scanWallet(tx.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return w, nil
}

// UpdateBalances writes both balance columns. The caller computes the new
// values while holding the row lock; nothing else mutates wallet fields.
func (r *WalletRepository) UpdateBalances(ctx context.Context, tx pgx.Tx, userID int64, balance, lockedBalance int64) (*model.Wallet, error) {
	const query = `
		UPDATE wallets
		SET balance = $2, locked_balance = $3, updated_at = NOW()
		WHERE user_id = $1
		RETURNING ` + walletColumns

	w, err := scanWallet(tx.QueryRow(ctx, query, userID, balance, lockedBalance))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("failed to update wallet balances: %w", err)
	}
	return w, nil
}

// GetTopWallets retrieves the top N wallets by spendable balance.
func (r *WalletRepository) GetTopWallets(ctx context.Context, limit int) ([]*model.Wallet, error) {
	const query = `
		SELECT ` + walletColumns + `
		FROM wallets
		ORDER BY balance DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}

	return wallets, nil
}
