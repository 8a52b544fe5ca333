package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/config"
	"arena-ledger/internal/model"
	"arena-ledger/internal/pkg/db"
	"arena-ledger/internal/pkg/lock"
	"arena-ledger/internal/pkg/metrics"
	"arena-ledger/internal/repository"
)

// SettlementService implements the challenge lifecycle and odds-based bet
// settlement. All fund movements go through the wallet primitives inside a
// single transaction per settlement, so a failure on any leg rolls back
// every leg.
type SettlementService struct {
	pool       *db.Pool
	wallet     *WalletService
	challenges *repository.ChallengeRepository
	bets       *repository.BetRepository
	locks      *lock.WalletLock
	metrics    *metrics.Metrics
	cfg        config.WagerConfig
}

// NewSettlementService creates a new SettlementService instance.
func NewSettlementService(
	pool *db.Pool,
	wallet *WalletService,
	challenges *repository.ChallengeRepository,
	bets *repository.BetRepository,
	locks *lock.WalletLock,
	m *metrics.Metrics,
	cfg config.WagerConfig,
) *SettlementService {
	return &SettlementService{
		pool:       pool,
		wallet:     wallet,
		challenges: challenges,
		bets:       bets,
		locks:      locks,
		metrics:    m,
		cfg:        cfg,
	}
}

func challengeTxid(provider string, challengeID, userID int64) string {
	return fmt.Sprintf("%s_%d_%d", provider, challengeID, userID)
}

func betSettleTxid(provider string, betID int64) string {
	return fmt.Sprintf("%s_%d", provider, betID)
}

// CreateChallenge opens a challenge and locks the creator's stake. The
// challenge row and the stake lock commit together.
func (s *SettlementService) CreateChallenge(ctx context.Context, creatorID, opponentID, stake int64) (*model.Challenge, error) {
	if creatorID == opponentID {
		return nil, ErrSelfChallenge
	}
	if stake < s.cfg.MinBet || stake > s.cfg.MaxBet {
		s.metrics.OperationRejected("bet_out_of_range")
		return nil, ErrBetOutOfRange
	}

	if _, err := s.wallet.GetOrCreateWallet(ctx, creatorID); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.cfg.ChallengeExpiry)

	var challenge *model.Challenge
	err := s.locks.WithLock(creatorID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			c, err := s.challenges.Create(ctx, tx, creatorID, opponentID, stake, expiresAt)
			if err != nil {
				return err
			}

			_, err = s.wallet.lockTx(ctx, tx, creatorID, stake, EntryInput{
				Type:     model.EntryBet,
				Provider: model.ProviderChallengeStake,
				Txid:     challengeTxid(model.ProviderChallengeStake, c.ID, creatorID),
				Meta:     map[string]any{"challenge_id": c.ID},
			})
			if err != nil {
				return err
			}

			challenge = c
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
		Int64("challenge_id", challenge.ID).
		Int64("creator_id", creatorID).
		Int64("opponent_id", opponentID).
		Int64("stake", stake).
		Msg("Challenge created")

	return challenge, nil
}

// AcceptChallenge locks the opponent's stake and moves the challenge to
// accepted. Expiry is evaluated here: accepting an expired challenge
// cancels it, refunds the creator and returns ErrChallengeExpired.
func (s *SettlementService) AcceptChallenge(ctx context.Context, challengeID int64) (*model.Challenge, error) {
	c, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ChallengeOpen {
		return nil, ErrInvalidStatus
	}

	if _, err := s.wallet.GetOrCreateWallet(ctx, c.OpponentID); err != nil {
		return nil, err
	}

	var (
		accepted *model.Challenge
		expired  bool
	)
	err = s.locks.WithLockAll([]int64{c.CreatorID, c.OpponentID}, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			cur, err := s.challenges.GetForUpdate(ctx, tx, challengeID)
			if err != nil {
				return repoChallengeErr(err)
			}
			if cur.Status != model.ChallengeOpen {
				return ErrInvalidStatus
			}

			if time.Now().After(cur.ExpiresAt) {
				expired = true
				_, err := s.wallet.releaseTx(ctx, tx, cur.CreatorID, cur.BetAmount, EntryInput{
					Type:     model.EntryWin,
					Provider: model.ProviderChallengeRefund,
					Txid:     challengeTxid(model.ProviderChallengeRefund, cur.ID, cur.CreatorID),
					Meta:     map[string]any{"challenge_id": cur.ID, "reason": "expired"},
				})
				if err != nil {
					return err
				}
				return s.challenges.SetStatus(ctx, tx, cur.ID, model.ChallengeCancelled, model.OutcomeCancel)
			}

			_, err = s.wallet.lockTx(ctx, tx, cur.OpponentID, cur.BetAmount, EntryInput{
				Type:     model.EntryBet,
				Provider: model.ProviderChallengeStake,
				Txid:     challengeTxid(model.ProviderChallengeStake, cur.ID, cur.OpponentID),
				Meta:     map[string]any{"challenge_id": cur.ID},
			})
			if err != nil {
				return err
			}

			if err := s.challenges.SetStatus(ctx, tx, cur.ID, model.ChallengeAccepted, ""); err != nil {
				return err
			}

			cur.Status = model.ChallengeAccepted
			accepted = cur
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			s.metrics.OperationRejected("insufficient_funds")
		}
		return nil, err
	}
	if expired {
		log.Info().Int64("challenge_id", challengeID).Msg("Challenge expired on accept, creator refunded")
		s.metrics.SettlementCompleted("challenge", model.OutcomeCancel)
		return nil, ErrChallengeExpired
	}

	log.Info().Int64("challenge_id", challengeID).Msg("Challenge accepted")
	return accepted, nil
}

// OpenChallenges lists open challenges created by or addressed to a user.
func (s *SettlementService) OpenChallenges(ctx context.Context, userID int64) ([]*model.Challenge, error) {
	return s.challenges.ListOpenByUser(ctx, userID)
}

// MarkInProgress moves an accepted challenge to in_progress.
func (s *SettlementService) MarkInProgress(ctx context.Context, challengeID int64) error {
	return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
		c, err := s.challenges.GetForUpdate(ctx, tx, challengeID)
		if err != nil {
			return repoChallengeErr(err)
		}
		if c.Status != model.ChallengeAccepted {
			return ErrInvalidStatus
		}
		return s.challenges.SetStatus(ctx, tx, challengeID, model.ChallengeInProgress, "")
	})
}

// SettleChallenge resolves a challenge with the given outcome. The winner
// gets the opponent's stake on top of their own returned stake; a draw
// returns both stakes; a cancel refunds whoever had locked funds.
// Settling an already terminal challenge is a no-op.
func (s *SettlementService) SettleChallenge(ctx context.Context, challengeID int64, outcome string) error {
	switch outcome {
	case model.OutcomeCreatorWin, model.OutcomeOpponentWin, model.OutcomeDraw, model.OutcomeCancel:
	default:
		return ErrUnknownOutcome
	}

	c, err := s.getChallenge(ctx, challengeID)
	if err != nil {
		return err
	}
	if c.Terminal() {
		log.Debug().Int64("challenge_id", challengeID).Msg("Challenge already settled, skipping")
		return nil
	}

	err = s.locks.WithLockAllTimeout(ctx, []int64{c.CreatorID, c.OpponentID}, s.cfg.SettlementTimeout, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			cur, err := s.challenges.GetForUpdate(ctx, tx, challengeID)
			if err != nil {
				return repoChallengeErr(err)
			}
			if cur.Terminal() {
				return nil
			}
			return s.settleChallengeTx(ctx, tx, cur, outcome)
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateTxid) {
			log.Warn().
				Int64("challenge_id", challengeID).
				Str("outcome", outcome).
				Msg("Challenge settlement already recorded, skipping")
			return nil
		}
		return err
	}

	s.metrics.SettlementCompleted("challenge", outcome)
	log.Info().
		Int64("challenge_id", challengeID).
		Str("outcome", outcome).
		Msg("Challenge settled")

	return nil
}

func (s *SettlementService) settleChallengeTx(ctx context.Context, tx pgx.Tx, c *model.Challenge, outcome string) error {
	stake := c.BetAmount

	switch outcome {
	case model.OutcomeCreatorWin, model.OutcomeOpponentWin:
		if c.Status != model.ChallengeAccepted && c.Status != model.ChallengeInProgress {
			return ErrInvalidStatus
		}

		winnerID, loserID := c.CreatorID, c.OpponentID
		if outcome == model.OutcomeOpponentWin {
			winnerID, loserID = c.OpponentID, c.CreatorID
		}

		// Winner: own stake returns to balance, opponent's stake is the
		// win amount. Net effect is balance +stake, locked -stake.
		if _, err := s.wallet.releaseTx(ctx, tx, winnerID, stake, EntryInput{
			Type:     model.EntryWin,
			Provider: model.ProviderChallengeWin,
			Txid:     challengeTxid(model.ProviderChallengeWin, c.ID, winnerID),
			Meta:     map[string]any{"challenge_id": c.ID, "outcome": outcome},
		}); err != nil {
			return err
		}
		if _, err := s.wallet.unlockTx(ctx, tx, loserID, stake, EntryInput{
			Type:     model.EntryBet,
			Provider: model.ProviderChallengeLoss,
			Txid:     challengeTxid(model.ProviderChallengeLoss, c.ID, loserID),
			Meta:     map[string]any{"challenge_id": c.ID, "outcome": outcome},
		}); err != nil {
			return err
		}

		return s.challenges.SetStatus(ctx, tx, c.ID, model.ChallengeCompleted, outcome)

	case model.OutcomeDraw:
		if c.Status != model.ChallengeAccepted && c.Status != model.ChallengeInProgress {
			return ErrInvalidStatus
		}

		for _, userID := range []int64{c.CreatorID, c.OpponentID} {
			if _, err := s.wallet.releaseTx(ctx, tx, userID, stake, EntryInput{
				Type:     model.EntryWin,
				Provider: model.ProviderChallengeDraw,
				Txid:     challengeTxid(model.ProviderChallengeDraw, c.ID, userID),
				Meta:     map[string]any{"challenge_id": c.ID},
			}); err != nil {
				return err
			}
		}

		return s.challenges.SetStatus(ctx, tx, c.ID, model.ChallengeCompleted, outcome)

	case model.OutcomeCancel:
		// Before acceptance only the creator has funds locked.
		participants := []int64{c.CreatorID}
		if c.Status != model.ChallengeOpen {
			participants = append(participants, c.OpponentID)
		}

		for _, userID := range participants {
			if _, err := s.wallet.releaseTx(ctx, tx, userID, stake, EntryInput{
				Type:     model.EntryWin,
				Provider: model.ProviderChallengeRefund,
				Txid:     challengeTxid(model.ProviderChallengeRefund, c.ID, userID),
				Meta:     map[string]any{"challenge_id": c.ID},
			}); err != nil {
				return err
			}
		}

		return s.challenges.SetStatus(ctx, tx, c.ID, model.ChallengeCancelled, outcome)
	}

	return ErrUnknownOutcome
}

// PlaceBet locks the bettor's stake against an entity outcome. Odds and
// the potential win are frozen at placement; later odds changes never
// affect an open bet.
func (s *SettlementService) PlaceBet(ctx context.Context, userID int64, kind string, entityID int64, betType string, amount, odds int64) (*model.Bet, error) {
	if amount < s.cfg.MinBet || amount > s.cfg.MaxBet {
		s.metrics.OperationRejected("bet_out_of_range")
		return nil, ErrBetOutOfRange
	}
	if odds < 100 || odds > s.cfg.MaxOdds {
		return nil, ErrInvalidOdds
	}
	if err := s.checkBettable(ctx, kind, entityID, betType); err != nil {
		return nil, err
	}

	if _, err := s.wallet.GetOrCreateWallet(ctx, userID); err != nil {
		return nil, err
	}

	var bet *model.Bet
	err := s.locks.WithLock(userID, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			// The bettable pre-check ran without locks. Holding the
			// challenge row until commit keeps a concurrent settlement
			// from resolving the challenge underneath this bet.
			if kind == model.EntityChallenge {
				c, err := s.challenges.GetForUpdate(ctx, tx, entityID)
				if err != nil {
					return repoChallengeErr(err)
				}
				if c.Terminal() {
					return ErrAlreadySettled
				}
			}

			b, err := s.bets.Create(ctx, tx, &model.Bet{
				UserID:       userID,
				EntityKind:   kind,
				EntityID:     entityID,
				BetType:      betType,
				Amount:       amount,
				Odds:         odds,
				PotentialWin: model.PotentialWin(amount, odds),
			})
			if err != nil {
				return err
			}

			_, err = s.wallet.lockTx(ctx, tx, userID, amount, EntryInput{
				Type:     model.EntryBet,
				Provider: model.ProviderBetStake,
				Txid:     betSettleTxid(model.ProviderBetStake, b.ID),
				Meta: map[string]any{
					"entity_kind": kind,
					"entity_id":   entityID,
					"bet_type":    betType,
					"odds":        odds,
				},
			})
			if err != nil {
				return err
			}

			bet = b
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
		Int64("bet_id", bet.ID).
		Int64("user_id", userID).
		Str("entity_kind", kind).
		Int64("entity_id", entityID).
		Int64("amount", amount).
		Int64("odds", odds).
		Msg("Bet placed")

	return bet, nil
}

func (s *SettlementService) checkBettable(ctx context.Context, kind string, entityID int64, betType string) error {
	switch kind {
	case model.EntityChallenge:
		if betType != model.BetTypeHome && betType != model.BetTypeAway {
			return ErrInvalidBetType
		}
		c, err := s.getChallenge(ctx, entityID)
		if err != nil {
			return err
		}
		if c.Terminal() {
			return ErrAlreadySettled
		}
		return nil
	case model.EntityMatch:
		if betType != model.BetTypeHome && betType != model.BetTypeAway && betType != model.BetTypeDraw {
			return ErrInvalidBetType
		}
		settled, err := s.bets.MatchSettled(ctx, entityID)
		if err != nil {
			return err
		}
		if settled {
			return ErrAlreadySettled
		}
		return nil
	default:
		return ErrInvalidBetType
	}
}

// SettleBetsForEntity settles every pending bet against an entity in a
// single all-or-nothing batch. Winning bets unlock the stake and credit
// the frozen potential win; losing bets unlock only; a cancel, or a draw
// the entity kind cannot pay out, refunds every stake. Returns the number
// of bets settled. Re-settling with the recorded outcome sweeps any bets
// that slipped in around the original batch; any other outcome is a no-op.
func (s *SettlementService) SettleBetsForEntity(ctx context.Context, kind string, entityID int64, outcome string) (int, error) {
	winType, refundAll, err := s.resolveOutcome(ctx, kind, entityID, outcome)
	if err != nil {
		if errors.Is(err, ErrAlreadySettled) {
			return 0, nil
		}
		return 0, err
	}

	pending, err := s.bets.ListPendingByEntity(ctx, kind, entityID)
	if err != nil {
		return 0, err
	}

	userIDs := make([]int64, 0, len(pending))
	for _, b := range pending {
		userIDs = append(userIDs, b.UserID)
	}

	settled := 0
	err = s.locks.WithLockAllTimeout(ctx, userIDs, s.cfg.SettlementTimeout, func() error {
		return db.WithTx(ctx, s.pool.Pool, func(tx pgx.Tx) error {
			if kind == model.EntityMatch {
				if err := s.bets.MarkMatchSettled(ctx, tx, entityID, outcome); err != nil {
					if !errors.Is(err, repository.ErrAlreadySettled) {
						return err
					}
					recorded, rerr := s.bets.MatchOutcome(ctx, tx, entityID)
					if rerr != nil {
						return rerr
					}
					if recorded != outcome {
						return repository.ErrAlreadySettled
					}
					// Recorded outcome confirmed: fall through and sweep
					// bets that were placed concurrently with the
					// original settlement and missed its batch.
				}
			}

			bets, err := s.bets.ListPendingByEntityForUpdate(ctx, tx, kind, entityID)
			if err != nil {
				return err
			}

			for _, b := range bets {
				if err := s.settleBetTx(ctx, tx, b, winType, refundAll, outcome); err != nil {
					return err
				}
				settled++
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySettled) || errors.Is(err, repository.ErrDuplicateTxid) {
			log.Warn().
				Str("entity_kind", kind).
				Int64("entity_id", entityID).
				Msg("Bet batch already settled, skipping")
			return 0, nil
		}
		return 0, err
	}

	s.metrics.BetsSettled(settled)
	s.metrics.SettlementCompleted("bet_batch", outcome)
	log.Info().
		Str("entity_kind", kind).
		Int64("entity_id", entityID).
		Str("outcome", outcome).
		Int("bets", settled).
		Msg("Bet batch settled")

	return settled, nil
}

// resolveOutcome maps a settlement outcome to the winning bet type.
// Challenge-kind batches settle strictly after the challenge itself and
// must agree with its recorded outcome; draws and cancels on challenges
// refund every bet, while match draws are a winnable bet type.
func (s *SettlementService) resolveOutcome(ctx context.Context, kind string, entityID int64, outcome string) (winType string, refundAll bool, err error) {
	switch kind {
	case model.EntityChallenge:
		c, err := s.getChallenge(ctx, entityID)
		if err != nil {
			return "", false, err
		}
		if !c.Terminal() {
			return "", false, ErrInvalidStatus
		}
		if outcome != c.Outcome {
			return "", false, ErrUnknownOutcome
		}
		winType = model.WinningBetType(outcome)
		return winType, winType == "", nil
	case model.EntityMatch:
		switch outcome {
		case model.BetTypeHome, model.BetTypeAway, model.BetTypeDraw:
			return outcome, false, nil
		case model.OutcomeCancel:
			return "", true, nil
		default:
			return "", false, ErrUnknownOutcome
		}
	default:
		return "", false, ErrInvalidBetType
	}
}

func (s *SettlementService) settleBetTx(ctx context.Context, tx pgx.Tx, b *model.Bet, winType string, refundAll bool, outcome string) error {
	meta := map[string]any{
		"entity_kind": b.EntityKind,
		"entity_id":   b.EntityID,
		"bet_id":      b.ID,
		"outcome":     outcome,
	}

	switch {
	case refundAll:
		if _, err := s.wallet.releaseTx(ctx, tx, b.UserID, b.Amount, EntryInput{
			Type:     model.EntryWin,
			Provider: model.ProviderBetRefund,
			Txid:     betSettleTxid(model.ProviderBetRefund, b.ID),
			Meta:     meta,
		}); err != nil {
			return err
		}
		return s.bets.SetStatus(ctx, tx, b.ID, model.BetCancelled)

	case b.BetType == winType:
		if _, err := s.wallet.settleWinTx(ctx, tx, b.UserID, b.Amount, b.PotentialWin, EntryInput{
			Type:     model.EntryWin,
			Provider: model.ProviderBetWin,
			Txid:     betSettleTxid(model.ProviderBetWin, b.ID),
			Meta:     meta,
		}); err != nil {
			return err
		}
		return s.bets.SetStatus(ctx, tx, b.ID, model.BetWon)

	default:
		if _, err := s.wallet.unlockTx(ctx, tx, b.UserID, b.Amount, EntryInput{
			Type:     model.EntryBet,
			Provider: model.ProviderBetLoss,
			Txid:     betSettleTxid(model.ProviderBetLoss, b.ID),
			Meta:     meta,
		}); err != nil {
			return err
		}
		return s.bets.SetStatus(ctx, tx, b.ID, model.BetLost)
	}
}

func (s *SettlementService) getChallenge(ctx context.Context, id int64) (*model.Challenge, error) {
	c, err := s.challenges.GetByID(ctx, id)
	if err != nil {
		return nil, repoChallengeErr(err)
	}
	return c, nil
}

func repoChallengeErr(err error) error {
	if errors.Is(err, repository.ErrChallengeNotFound) {
		return ErrChallengeNotFound
	}
	return err
}
