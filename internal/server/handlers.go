package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"arena-ledger/internal/model"
	"arena-ledger/internal/pkg/lock"
	"arena-ledger/internal/service"
)

// Handler wraps the ledger services and exposes HTTP handlers.
type Handler struct {
	wallet     *service.WalletService
	settlement *service.SettlementService
	bonus      *service.BonusService
	admin      *service.AdminService
}

// NewHandler creates a new Handler instance.
func NewHandler(
	wallet *service.WalletService,
	settlement *service.SettlementService,
	bonus *service.BonusService,
	admin *service.AdminService,
) *Handler {
	return &Handler{
		wallet:     wallet,
		settlement: settlement,
		bonus:      bonus,
		admin:      admin,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidBetType),
		errors.Is(err, service.ErrInvalidOdds),
		errors.Is(err, service.ErrBetOutOfRange),
		errors.Is(err, service.ErrSelfChallenge),
		errors.Is(err, service.ErrUnknownOutcome):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrWalletNotFound),
		errors.Is(err, service.ErrChallengeNotFound),
		errors.Is(err, service.ErrBonusNotFound),
		errors.Is(err, service.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrChallengeExpired),
		errors.Is(err, service.ErrAlreadySettled),
		errors.Is(err, service.ErrAlreadyDecided),
		errors.Is(err, service.ErrBonusAlreadyUnlocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lock.ErrLockTimeout):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("Unhandled service error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid " + name)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func queryLimit(r *http.Request, def int) int {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 500 {
		return def
	}
	return n
}

// GetWallet returns a user's wallet.
func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.wallet.GetWallet(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// GetHistory returns a user's recent ledger entries.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.wallet.History(r.Context(), userID, queryLimit(r, 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetBonusBalance returns a user's locked bonus total.
func (h *Handler) GetBonusBalance(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	balance, err := h.bonus.BonusBalance(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"bonus_balance": balance})
}

// GetLeaderboard returns the wallets with the highest spendable balances.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.wallet.TopWallets(r.Context(), queryLimit(r, 10))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallets)
}

// GetOpenChallenges lists a user's open challenges, created or received.
func (h *Handler) GetOpenChallenges(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	challenges, err := h.settlement.OpenChallenges(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, challenges)
}

// CreateChallenge opens a challenge and locks the creator's stake.
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CreatorID  int64 `json:"creator_id"`
		OpponentID int64 `json:"opponent_id"`
		Stake      int64 `json:"stake"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.settlement.CreateChallenge(r.Context(), req.CreatorID, req.OpponentID, req.Stake)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// AcceptChallenge locks the opponent's stake.
func (h *Handler) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.settlement.AcceptChallenge(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// StartChallenge moves an accepted challenge to in_progress.
func (h *Handler) StartChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settlement.MarkInProgress(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "in_progress"})
}

// SettleChallenge resolves a challenge with an outcome.
func (h *Handler) SettleChallenge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Outcome string `json:"outcome"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.settlement.SettleChallenge(r.Context(), id, req.Outcome); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// PlaceBet locks a stake against an entity outcome.
func (h *Handler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     int64  `json:"user_id"`
		EntityKind string `json:"entity_kind"`
		EntityID   int64  `json:"entity_id"`
		BetType    string `json:"bet_type"`
		Amount     int64  `json:"amount"`
		Odds       int64  `json:"odds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bet, err := h.settlement.PlaceBet(r.Context(), req.UserID, req.EntityKind, req.EntityID, req.BetType, req.Amount, req.Odds)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bet)
}

// SettleBets settles every pending bet against an entity.
func (h *Handler) SettleBets(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EntityKind string `json:"entity_kind"`
		EntityID   int64  `json:"entity_id"`
		Outcome    string `json:"outcome"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	settled, err := h.settlement.SettleBetsForEntity(r.Context(), req.EntityKind, req.EntityID, req.Outcome)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"settled": settled})
}

// AccrueReferralBonus accrues the flat referral bonus for a referrer.
func (h *Handler) AccrueReferralBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferrerID int64 `json:"referrer_id"`
		ReferredID int64 `json:"referred_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entry, err := h.bonus.AccrueReferralBonus(r.Context(), req.ReferrerID, req.ReferredID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// UnlockBonus moves a bonus accrual into the spendable balance.
func (h *Handler) UnlockBonus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Txid   string `json:"txid"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.bonus.UnlockBonus(r.Context(), req.UserID, req.Txid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// AdminAdd credits a wallet by admin override.
func (h *Handler) AdminAdd(w http.ResponseWriter, r *http.Request) {
	h.adminAdjust(w, r, h.admin.Add)
}

// AdminSubtract debits a wallet by admin override.
func (h *Handler) AdminSubtract(w http.ResponseWriter, r *http.Request) {
	h.adminAdjust(w, r, h.admin.Subtract)
}

func (h *Handler) adminAdjust(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, userID, amount int64, reason string) (*model.Wallet, error)) {
	userID, err := pathID(r, "userID")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := apply(r.Context(), userID, req.Amount, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// RequestDeposit records a USD deposit request.
func (h *Handler) RequestDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID         int64 `json:"user_id"`
		AmountUSDCents int64 `json:"amount_usd_cents"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dr, err := h.admin.RequestDeposit(r.Context(), req.UserID, req.AmountUSDCents)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dr)
}

// ApproveDeposit converts and credits a pending deposit.
func (h *Handler) ApproveDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wallet, err := h.admin.ApproveDeposit(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// RejectDeposit declines a pending deposit.
func (h *Handler) RejectDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.admin.RejectDeposit(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

// ListPendingDeposits lists deposit requests awaiting a decision.
func (h *Handler) ListPendingDeposits(w http.ResponseWriter, r *http.Request) {
	requests, err := h.admin.PendingDeposits(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// ListPendingWithdrawals lists withdrawal requests awaiting a decision.
func (h *Handler) ListPendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	requests, err := h.admin.PendingWithdrawals(r.Context(), queryLimit(r, 50))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

// RequestWithdrawal records a withdrawal request and locks the amount.
func (h *Handler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64 `json:"user_id"`
		Amount int64 `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	wr, err := h.admin.RequestWithdrawal(r.Context(), req.UserID, req.Amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wr)
}

// ApproveWithdrawal consumes the locked amount.
func (h *Handler) ApproveWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, h.admin.ApproveWithdrawal, "approved")
}

// RejectWithdrawal restores the locked amount.
func (h *Handler) RejectWithdrawal(w http.ResponseWriter, r *http.Request) {
	h.decideWithdrawal(w, r, h.admin.RejectWithdrawal, "rejected")
}

func (h *Handler) decideWithdrawal(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, id int64) error, status string) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := decide(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}
