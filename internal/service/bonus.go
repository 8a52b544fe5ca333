package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/config"
	"arena-ledger/internal/model"
	"arena-ledger/internal/pkg/db"
	"arena-ledger/internal/pkg/lock"
	"arena-ledger/internal/pkg/metrics"
	"arena-ledger/internal/repository"
)

// BonusService handles promo accruals. Accruals are locked-bonus ledger
// entries only; they never touch wallet balances. A user's bonus balance
// is derived from the journal, and unlocking moves the amount into the
// spendable balance through a new correction entry that references the
// accrual's txid. The accrual row itself is never mutated.
type BonusService struct {
	pool    *db.Pool
	wallet  *WalletService
	ledger  *repository.LedgerRepository
	locks   *lock.WalletLock
	metrics *metrics.Metrics
	cfg     config.BonusConfig
}

// NewBonusService creates a new BonusService instance.
func NewBonusService(
	pool *db.Pool,
	wallet *WalletService,
	ledger *repository.LedgerRepository,
	locks *lock.WalletLock,
	m *metrics.Metrics,
	cfg config.BonusConfig,
) *BonusService {
	return &BonusService{
		pool:    pool,
		wallet:  wallet,
		ledger:  ledger,
		locks:   locks,
		metrics: m,
		cfg:     cfg,
	}
}

// accrueTx appends a locked-bonus entry inside the caller's transaction.
// No balance columns change.
func (s *BonusService) accrueTx(ctx context.Context, tx pgx.Tx, wallet *model.Wallet, amount int64, provider, txid string, meta map[string]any) (*model.LedgerEntry, error) {
	entry, err := s.ledger.Insert(ctx, tx, &model.LedgerEntry{
		WalletID: wallet.ID,
		UserID:   wallet.UserID,
		Type:     model.EntryLockedBonus,
		Amount:   amount,
		Status:   model.StatusLocked,
		Provider: provider,
		Txid:     txid,
		Meta:     meta,
	})
	if err != nil {
		return nil, err
	}
	s.metrics.EntryWritten(provider)
	return entry, nil
}

// AccrueDepositBonusTx accrues the deposit percentage bonus inside the
// transaction that credits the deposit itself. Returns nil when the
// configured percentage yields nothing.
func (s *BonusService) AccrueDepositBonusTx(ctx context.Context, tx pgx.Tx, wallet *model.Wallet, depositAmount int64, depositTxid string) (*model.LedgerEntry, error) {
	bonus := depositAmount * s.cfg.DepositPercent / 100
	if bonus <= 0 {
		return nil, nil
	}

	return s.accrueTx(ctx, tx, wallet, bonus,
		model.ProviderDepositBonus,
		fmt.Sprintf("%s_%s", model.ProviderDepositBonus, depositTxid),
		map[string]any{"deposit_txid": depositTxid},
	)
}

// AccrueReferralBonus accrues the flat referral bonus for a referrer.
// The txid is deterministic per referred user, so a repeated call for the
// same referral is a no-op.
func (s *BonusService) AccrueReferralBonus(ctx context.Context, referrerID, referredID int64) (*model.LedgerEntry, error) {
	if s.cfg.ReferralAmount <= 0 {
		return nil, nil
	}
	if referrerID == referredID {
		return nil, ErrInvalidAmount
	}

	wallet, err := s.wallet.GetOrCreateWallet(ctx, referrerID)
	if err != nil {
		return nil, err
	}

	var entry *model.LedgerEntry
	err = db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
		e, err := s.accrueTx(ctx, tx, wallet, s.cfg.ReferralAmount,
			model.ProviderReferralBonus,
			fmt.Sprintf("%s_%d_%d", model.ProviderReferralBonus, referrerID, referredID),
			map[string]any{"referred_user_id": referredID},
		)
		if err != nil {
			return err
		}
		entry = e
		return nil
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTxid) {
			log.Warn().
				Int64("referrer_id", referrerID).
				Int64("referred_id", referredID).
				Msg("Referral bonus already accrued")
			return nil, nil
		}
		return nil, err
	}

	log.Info().
		Int64("referrer_id", referrerID).
		Int64("referred_id", referredID).
		Int64("amount", s.cfg.ReferralAmount).
		Msg("Referral bonus accrued")

	return entry, nil
}

// BonusBalance returns the sum of a user's locked, not yet unlocked
// bonus accruals.
func (s *BonusService) BonusBalance(ctx context.Context, userID int64) (int64, error) {
	return s.ledger.BonusBalance(ctx, userID)
}

// UnlockBonus moves a single accrual into the spendable balance. The
// credit and a deposit-as-win correction entry referencing the accrual
// commit together; the accrual entry itself stays untouched. Unlocking
// the same accrual twice returns ErrBonusAlreadyUnlocked.
func (s *BonusService) UnlockBonus(ctx context.Context, userID int64, accrualTxid string) (*model.Wallet, error) {
	accrual, err := s.ledger.GetByTxid(ctx, accrualTxid)
	if err != nil {
		if errors.Is(err, repository.ErrEntryNotFound) {
			return nil, ErrBonusNotFound
		}
		return nil, err
	}
	if accrual.UserID != userID || accrual.Type != model.EntryLockedBonus {
		return nil, ErrBonusNotFound
	}

	var wallet *model.Wallet
	err = s.locks.WithLock(userID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			unlocked, err := s.ledger.HasUnlockFor(ctx, tx, accrualTxid)
			if err != nil {
				return err
			}
			if unlocked {
				return ErrBonusAlreadyUnlocked
			}

			w, err := s.wallet.creditTx(ctx, tx, userID, accrual.Amount, EntryInput{
				Type:     model.EntryDepositAsWin,
				Provider: model.ProviderBonusUnlock,
				Txid:     fmt.Sprintf("%s_%s", model.ProviderBonusUnlock, accrualTxid),
				Meta:     map[string]any{"unlocks": accrualTxid},
			})
			if err != nil {
				return err
			}

			wallet = w
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTxid) {
			return nil, ErrBonusAlreadyUnlocked
		}
		return nil, err
	}

	log.Info().
		Int64("user_id", userID).
		Str("accrual_txid", accrualTxid).
		Int64("amount", accrual.Amount).
		Msg("Bonus unlocked")

	return wallet, nil
}
