package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/config"
	"arena-ledger/internal/model"
	"arena-ledger/internal/pkg/db"
	"arena-ledger/internal/pkg/lock"
	"arena-ledger/internal/pkg/metrics"
	"arena-ledger/internal/repository"
)

// AdminService implements manual balance overrides and the funding
// request flows. Deposits arrive in USD cents and convert to ledger units
// exactly once, at approval. Withdrawals lock the amount while pending;
// approval consumes the lock, rejection restores the wallet.
type AdminService struct {
	pool     *db.Pool
	wallet   *WalletService
	bonus    *BonusService
	funding  *repository.FundingRepository
	locks    *lock.WalletLock
	metrics  *metrics.Metrics
	currency config.CurrencyConfig
}

// NewAdminService creates a new AdminService instance.
func NewAdminService(
	pool *db.Pool,
	wallet *WalletService,
	bonus *BonusService,
	funding *repository.FundingRepository,
	locks *lock.WalletLock,
	m *metrics.Metrics,
	currency config.CurrencyConfig,
) *AdminService {
	return &AdminService{
		pool:     pool,
		wallet:   wallet,
		bonus:    bonus,
		funding:  funding,
		locks:    locks,
		metrics:  m,
		currency: currency,
	}
}

func adminTxid(op string) string {
	return fmt.Sprintf("admin_%s_%s", op, uuid.NewString())
}

// Add credits a wallet by admin override.
func (s *AdminService) Add(ctx context.Context, userID, amount int64, reason string) (*model.Wallet, error) {
	w, err := s.wallet.Credit(ctx, userID, amount, EntryInput{
		Type:     model.EntryDeposit,
		Provider: model.ProviderAdmin,
		Txid:     adminTxid("add"),
		Meta:     map[string]any{"reason": reason},
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("reason", reason).
		Msg("Admin credit applied")

	return w, nil
}

// Subtract debits a wallet by admin override.
// Returns ErrInsufficientFunds if the spendable balance does not cover it.
func (s *AdminService) Subtract(ctx context.Context, userID, amount int64, reason string) (*model.Wallet, error) {
	w, err := s.wallet.Debit(ctx, userID, amount, EntryInput{
		Type:     model.EntryWithdraw,
		Provider: model.ProviderAdmin,
		Txid:     adminTxid("subtract"),
		Meta:     map[string]any{"reason": reason},
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Int64("amount", amount).
		Str("reason", reason).
		Msg("Admin debit applied")

	return w, nil
}

// RequestDeposit records a USD deposit request. Nothing moves on the
// wallet until an admin approves it.
func (s *AdminService) RequestDeposit(ctx context.Context, userID, amountUSDCents int64) (*model.DepositRequest, error) {
	if amountUSDCents <= 0 {
		return nil, ErrInvalidAmount
	}
	return s.funding.CreateDeposit(ctx, userID, amountUSDCents)
}

// ApproveDeposit converts the requested USD cents to ledger units, credits
// the wallet and accrues the deposit bonus, all in one transaction. The
// conversion happens only here; the stored request stays in USD cents.
func (s *AdminService) ApproveDeposit(ctx context.Context, requestID int64) (*model.Wallet, error) {
	req, err := s.getDeposit(ctx, requestID)
	if err != nil {
		return nil, err
	}

	wallet, err := s.wallet.GetOrCreateWallet(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	amount := req.AmountUSDCents * s.currency.RateEBTPerUSD / 100
	txid := fmt.Sprintf("deposit_%d_%d", req.ID, req.UserID)

	var updated *model.Wallet
	err = s.locks.WithLock(req.UserID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			cur, err := s.funding.GetDepositForUpdate(ctx, tx, requestID)
			if err != nil {
				return repoFundingErr(err)
			}
			if cur.Status != model.RequestPending {
				return ErrAlreadyDecided
			}

			w, err := s.wallet.creditTx(ctx, tx, cur.UserID, amount, EntryInput{
				Type:     model.EntryDeposit,
				Provider: model.ProviderAdmin,
				Txid:     txid,
				Meta: map[string]any{
					"request_id":       cur.ID,
					"amount_usd_cents": cur.AmountUSDCents,
				},
			})
			if err != nil {
				return err
			}

			if _, err := s.bonus.AccrueDepositBonusTx(ctx, tx, wallet, amount, txid); err != nil {
				return err
			}

			if err := s.funding.DecideDeposit(ctx, tx, requestID, model.RequestApproved); err != nil {
				return repoFundingErr(err)
			}

			updated = w
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Int64("request_id", requestID).
		Int64("user_id", req.UserID).
		Int64("amount_usd_cents", req.AmountUSDCents).
		Int64("amount", amount).
		Msg("Deposit approved")

	return updated, nil
}

// RejectDeposit declines a pending deposit request. No wallet mutation.
func (s *AdminService) RejectDeposit(ctx context.Context, requestID int64) error {
	err := db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
		if _, err := s.funding.GetDepositForUpdate(ctx, tx, requestID); err != nil {
			return repoFundingErr(err)
		}
		return repoFundingErr(s.funding.DecideDeposit(ctx, tx, requestID, model.RequestRejected))
	})
	if err != nil {
		return err
	}

	log.Info().Int64("request_id", requestID).Msg("Deposit rejected")
	return nil
}

// RequestWithdrawal records a withdrawal request and locks the amount.
// The request row and the lock commit together.
func (s *AdminService) RequestWithdrawal(ctx context.Context, userID, amount int64) (*model.WithdrawalRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.wallet.GetOrCreateWallet(ctx, userID); err != nil {
		return nil, err
	}

	var req *model.WithdrawalRequest
	err := s.locks.WithLock(userID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			r, err := s.funding.CreateWithdrawal(ctx, tx, userID, amount)
			if err != nil {
				return err
			}

			_, err = s.wallet.lockTx(ctx, tx, userID, amount, EntryInput{
				Type:     model.EntryWithdraw,
				Provider: model.ProviderWithdrawal,
				Txid:     fmt.Sprintf("withdrawal_request_%d", r.ID),
				Meta:     map[string]any{"request_id": r.ID},
			})
			if err != nil {
				return err
			}

			req = r
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.metrics.OperationRejected("insufficient_funds")
		}
		return nil, err
	}

	log.Info().
		Int64("request_id", req.ID).
		Int64("user_id", userID).
		Int64("amount", amount).
		Msg("Withdrawal requested")

	return req, nil
}

// PendingDeposits lists deposit requests awaiting a decision.
func (s *AdminService) PendingDeposits(ctx context.Context, limit int) ([]*model.DepositRequest, error) {
	return s.funding.ListPendingDeposits(ctx, limit)
}

// PendingWithdrawals lists withdrawal requests awaiting a decision.
func (s *AdminService) PendingWithdrawals(ctx context.Context, limit int) ([]*model.WithdrawalRequest, error) {
	return s.funding.ListPendingWithdrawals(ctx, limit)
}

// ApproveWithdrawal consumes the locked amount; the funds leave the
// system.
func (s *AdminService) ApproveWithdrawal(ctx context.Context, requestID int64) error {
	return s.decideWithdrawal(ctx, requestID, model.RequestApproved)
}

// RejectWithdrawal releases the locked amount back to the spendable
// balance, restoring the wallet to its pre-request state.
func (s *AdminService) RejectWithdrawal(ctx context.Context, requestID int64) error {
	return s.decideWithdrawal(ctx, requestID, model.RequestRejected)
}

func (s *AdminService) decideWithdrawal(ctx context.Context, requestID int64, decision string) error {
	req, err := s.getWithdrawal(ctx, requestID)
	if err != nil {
		return err
	}

	err = s.locks.WithLock(req.UserID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			cur, err := s.funding.GetWithdrawalForUpdate(ctx, tx, requestID)
			if err != nil {
				return repoFundingErr(err)
			}
			if cur.Status != model.RequestPending {
				return ErrAlreadyDecided
			}

			requestTxid := fmt.Sprintf("withdrawal_request_%d", cur.ID)

			if decision == model.RequestApproved {
				_, err = s.wallet.unlockTx(ctx, tx, cur.UserID, cur.Amount, EntryInput{
					Type:     model.EntryWithdraw,
					Provider: model.ProviderWithdrawal,
					Txid:     fmt.Sprintf("withdrawal_approve_%d", cur.ID),
					Meta:     map[string]any{"request_id": cur.ID},
				})
			} else {
				_, err = s.wallet.releaseTx(ctx, tx, cur.UserID, cur.Amount, EntryInput{
					Type:     model.EntryDeposit,
					Provider: model.ProviderWithdrawal,
					Txid:     fmt.Sprintf("withdrawal_reject_%d", cur.ID),
					Meta:     map[string]any{"request_id": cur.ID, "reverses": requestTxid},
				})
			}
			if err != nil {
				return err
			}

			return repoFundingErr(s.funding.DecideWithdrawal(ctx, tx, requestID, decision))
		})
	})
	if err != nil {
		return err
	}

	log.Info().
		Int64("request_id", requestID).
		Int64("user_id", req.UserID).
		Str("decision", decision).
		Msg("Withdrawal decided")

	return nil
}

func (s *AdminService) getDeposit(ctx context.Context, id int64) (*model.DepositRequest, error) {
	req, err := s.funding.GetDeposit(ctx, id)
	if err != nil {
		return nil, repoFundingErr(err)
	}
	return req, nil
}

func (s *AdminService) getWithdrawal(ctx context.Context, id int64) (*model.WithdrawalRequest, error) {
	req, err := s.funding.GetWithdrawal(ctx, id)
	if err != nil {
		return nil, repoFundingErr(err)
	}
	return req, nil
}

func repoFundingErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrRequestNotFound):
		return ErrRequestNotFound
	case errors.Is(err, repository.ErrAlreadyDecided):
		return ErrAlreadyDecided
	default:
		return err
	}
}
