// Package model defines the data models for the wallet ledger core.
package model

import "time"

// Wallet holds a user's spendable and locked balances.
// Balances are integer EBT units; both columns carry CHECK (>= 0) constraints.
type Wallet struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	Balance       int64     `db:"balance"`
	LockedBalance int64     `db:"locked_balance"`
	Currency      string    `db:"currency"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Available returns the spendable balance. Locked funds were moved out of
// Balance when the wager was committed, so Balance is what can be spent.
func (w *Wallet) Available() int64 {
	return w.Balance
}

// LedgerEntry is an append-only record of a balance-affecting event.
// Amount is always positive; the sign is implied by Type and Status.
// Rows are never updated after insert: corrections and unlocks are new
// entries referencing the original txid in Meta.
type LedgerEntry struct {
	ID        int64          `db:"id"`
	WalletID  int64          `db:"wallet_id"`
	UserID    int64          `db:"user_id"`
	Type      string         `db:"type"`
	Amount    int64          `db:"amount"`
	Status    string         `db:"status"`
	Provider  string         `db:"provider"`
	Txid      string         `db:"txid"`
	Meta      map[string]any `db:"meta"`
	CreatedAt time.Time      `db:"created_at"`
}

// Challenge is a two-party wager with symmetric stakes.
type Challenge struct {
	ID         int64     `db:"id"`
	CreatorID  int64     `db:"creator_id"`
	OpponentID int64     `db:"opponent_id"`
	BetAmount  int64     `db:"bet_amount"`
	Status     string    `db:"status"`
	Outcome    string    `db:"outcome"`
	ExpiresAt  time.Time `db:"expires_at"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// Terminal reports whether the challenge has reached a final status.
func (c *Challenge) Terminal() bool {
	return c.Status == ChallengeCompleted || c.Status == ChallengeCancelled
}

// Bet is a single-user odds-based wager against an entity outcome.
// Odds are fixed-point hundredths (250 means 2.50x) frozen at placement;
// PotentialWin = Amount * Odds / 100, also frozen at placement.
type Bet struct {
	ID           int64     `db:"id"`
	UserID       int64     `db:"user_id"`
	EntityKind   string    `db:"entity_kind"`
	EntityID     int64     `db:"entity_id"`
	BetType      string    `db:"bet_type"`
	Amount       int64     `db:"amount"`
	Odds         int64     `db:"odds"`
	PotentialWin int64     `db:"potential_win"`
	Status       string    `db:"status"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// DepositRequest is a pending USD deposit awaiting admin approval.
// The USD amount is kept in cents; conversion to EBT happens exactly once,
// at approval time.
type DepositRequest struct {
	ID             int64      `db:"id"`
	UserID         int64      `db:"user_id"`
	AmountUSDCents int64      `db:"amount_usd_cents"`
	Status         string     `db:"status"`
	CreatedAt      time.Time  `db:"created_at"`
	DecidedAt      *time.Time `db:"decided_at"`
}

// WithdrawalRequest is a pending withdrawal. The amount is locked on the
// wallet while the request is pending.
type WithdrawalRequest struct {
	ID        int64      `db:"id"`
	UserID    int64      `db:"user_id"`
	Amount    int64      `db:"amount"`
	Status    string     `db:"status"`
	CreatedAt time.Time  `db:"created_at"`
	DecidedAt *time.Time `db:"decided_at"`
}

// Ledger entry types.
const (
	EntryDeposit      = "deposit"
	EntryWithdraw     = "withdraw"
	EntryBet          = "bet"
	EntryWin          = "win"
	EntryDepositAsWin = "deposit-as-win" // bonus moved into spendable balance
	EntryLockedBonus  = "locked-bonus"
)

// Ledger entry statuses.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusLocked    = "locked"
	StatusCancelled = "cancelled"
)

// Ledger entry providers (origin tags).
const (
	ProviderChallengeStake  = "challenge_stake"
	ProviderChallengeWin    = "challenge_win"
	ProviderChallengeLoss   = "challenge_loss"
	ProviderChallengeDraw   = "challenge_draw"
	ProviderChallengeRefund = "challenge_refund"
	ProviderBetStake        = "bet_stake"
	ProviderBetWin          = "bet_win"
	ProviderBetLoss         = "bet_loss"
	ProviderBetRefund       = "bet_refund"
	ProviderDepositBonus    = "deposit_bonus"
	ProviderReferralBonus   = "referral_bonus"
	ProviderBonusUnlock     = "bonus_unlock"
	ProviderAdmin           = "admin"
	ProviderWithdrawal      = "withdrawal"
)

// Challenge statuses.
const (
	ChallengeOpen       = "open"
	ChallengeAccepted   = "accepted"
	ChallengeInProgress = "in_progress"
	ChallengeCompleted  = "completed"
	ChallengeCancelled  = "cancelled"
)

// Challenge outcomes accepted by the settlement engine.
const (
	OutcomeCreatorWin  = "creator_win"
	OutcomeOpponentWin = "opponent_win"
	OutcomeDraw        = "draw"
	OutcomeCancel      = "cancel"
)

// Bet statuses.
const (
	BetPending   = "pending"
	BetWon       = "won"
	BetLost      = "lost"
	BetCancelled = "cancelled"
)

// Entity kinds a bet can target.
const (
	EntityChallenge = "challenge"
	EntityMatch     = "match"
)

// Bet types. Challenge bets use home for the creator and away for the
// opponent; match bets additionally allow draw as a winnable type.
const (
	BetTypeHome = "home"
	BetTypeAway = "away"
	BetTypeDraw = "draw"
)

// Funding request statuses.
const (
	RequestPending  = "pending"
	RequestApproved = "approved"
	RequestRejected = "rejected"
)

// DefaultCurrency tags newly created wallets.
const DefaultCurrency = "EBT"

// PotentialWin computes an odds-based payout in integer EBT units.
// Odds are hundredths; the division truncates, matching how the payout
// was booked at placement.
func PotentialWin(amount, odds int64) int64 {
	return amount * odds / 100
}

// WinningBetType maps a challenge outcome to the bet type it pays out.
// Draw and cancel return empty: challenge bets are refunded on those.
func WinningBetType(outcome string) string {
	switch outcome {
	case OutcomeCreatorWin:
		return BetTypeHome
	case OutcomeOpponentWin:
		return BetTypeAway
	default:
		return ""
	}
}
