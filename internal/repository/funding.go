package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena-ledger/internal/model"
)

var (
	ErrRequestNotFound = errors.New("funding request not found")
	ErrAlreadyDecided  = errors.New("funding request already decided")
)

const depositColumns = "id, user_id, amount_usd_cents, status, created_at, decided_at"
const withdrawalColumns = "id, user_id, amount, status, created_at, decided_at"

// FundingRepository handles deposit and withdrawal request persistence.
type FundingRepository struct {
	pool *pgxpool.Pool
}

// NewFundingRepository creates a new FundingRepository instance.
func NewFundingRepository(pool *pgxpool.Pool) *FundingRepository {
	return &FundingRepository{pool: pool}
}

func scanDeposit(row pgx.Row) (*model.DepositRequest, error) {
	var d model.DepositRequest
	err := row.Scan(&d.ID, &d.UserID, &d.AmountUSDCents, &d.Status, &d.CreatedAt, &d.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func scanWithdrawal(row pgx.Row) (*model.WithdrawalRequest, error) {
	var w model.WithdrawalRequest
	err := row.Scan(&w.ID, &w.UserID, &w.Amount, &w.Status, &w.CreatedAt, &w.DecidedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// CreateDeposit records a deposit request in USD cents. No wallet mutation
// happens until an admin approves it.
func (r *FundingRepository) CreateDeposit(ctx context.Context, userID, amountUSDCents int64) (*model.DepositRequest, error) {
	const query = `
		INSERT INTO deposit_requests (user_id, amount_usd_cents, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING ` + depositColumns

	d, err := scanDeposit(r.pool.QueryRow(ctx, query, userID, amountUSDCents, model.RequestPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create deposit request: %w", err)
	}
	return d, nil
}

// GetDeposit retrieves a deposit request by ID.
func (r *FundingRepository) GetDeposit(ctx context.Context, id int64) (*model.DepositRequest, error) {
	const query = `SELECT ` + depositColumns + ` FROM deposit_requests WHERE id = $1`

	d, err := scanDeposit(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get deposit request: %w", err)
	}
	return d, nil
}

// GetDepositForUpdate selects a deposit request with a pessimistic row lock.
func (r *FundingRepository) GetDepositForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*model.DepositRequest, error) {
	const query = `SELECT ` + depositColumns + ` FROM deposit_requests WHERE id = $1 FOR UPDATE`

	d, err := scanDeposit(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to lock deposit request: %w", err)
	}
	return d, nil
}

// DecideDeposit moves a deposit request out of the pending state.
// Returns ErrAlreadyDecided if it was decided before.
func (r *FundingRepository) DecideDeposit(ctx context.Context, tx pgx.Tx, id int64, status string) error {
	const query = `
		UPDATE deposit_requests
		SET status = $2, decided_at = NOW()
		WHERE id = $1 AND status = $3
	`

	tag, err := tx.Exec(ctx, query, id, status, model.RequestPending)
	if err != nil {
		return fmt.Errorf("failed to decide deposit request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

// CreateWithdrawal records a withdrawal request within the transaction
// that locks the requested amount on the wallet.
func (r *FundingRepository) CreateWithdrawal(ctx context.Context, tx pgx.Tx, userID, amount int64) (*model.WithdrawalRequest, error) {
	const query = `
		INSERT INTO withdrawal_requests (user_id, amount, status, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING ` + withdrawalColumns

	w, err := scanWithdrawal(tx.QueryRow(ctx, query, userID, amount, model.RequestPending))
	if err != nil {
		return nil, fmt.Errorf("failed to create withdrawal request: %w", err)
	}
	return w, nil
}

// GetWithdrawal retrieves a withdrawal request by ID.
func (r *FundingRepository) GetWithdrawal(ctx context.Context, id int64) (*model.WithdrawalRequest, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`

	w, err := scanWithdrawal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal request: %w", err)
	}
	return w, nil
}

// GetWithdrawalForUpdate selects a withdrawal request with a pessimistic row lock.
func (r *FundingRepository) GetWithdrawalForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*model.WithdrawalRequest, error) {
	const query = `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`

	w, err := scanWithdrawal(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to lock withdrawal request: %w", err)
	}
	return w, nil
}

// DecideWithdrawal moves a withdrawal request out of the pending state.
// Returns ErrAlreadyDecided if it was decided before.
func (r *FundingRepository) DecideWithdrawal(ctx context.Context, tx pgx.Tx, id int64, status string) error {
	const query = `
		UPDATE withdrawal_requests
		SET status = $2, decided_at = NOW()
		WHERE id = $1 AND status = $3
	`

	tag, err := tx.Exec(ctx, query, id, status, model.RequestPending)
	if err != nil {
		return fmt.Errorf("failed to decide withdrawal request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyDecided
	}
	return nil
}

// ListPendingDeposits retrieves deposit requests awaiting a decision.
func (r *FundingRepository) ListPendingDeposits(ctx context.Context, limit int) ([]*model.DepositRequest, error) {
	const query = `
		SELECT ` + depositColumns + `
		FROM deposit_requests
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, model.RequestPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.DepositRequest
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deposit request: %w", err)
		}
		requests = append(requests, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deposit requests: %w", err)
	}

	return requests, nil
}

// ListPendingWithdrawals retrieves withdrawal requests awaiting a decision.
func (r *FundingRepository) ListPendingWithdrawals(ctx context.Context, limit int) ([]*model.WithdrawalRequest, error) {
	const query = `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, model.RequestPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawal requests: %w", err)
	}
	defer rows.Close()

	var requests []*model.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan withdrawal request: %w", err)
		}
		requests = append(requests, w)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating withdrawal requests: %w", err)
	}

	return requests, nil
}
