package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker reports whether the backing store is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// NewRouter constructs the ledger API router.
func NewRouter(h *Handler, health HealthChecker) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := health.HealthCheck(req.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/leaderboard", h.GetLeaderboard)

	r.Route("/wallets/{userID}", func(r chi.Router) {
		r.Get("/", h.GetWallet)
		r.Get("/history", h.GetHistory)
		r.Get("/bonus", h.GetBonusBalance)
		r.Get("/challenges", h.GetOpenChallenges)
	})

	r.Route("/challenges", func(r chi.Router) {
		r.Post("/", h.CreateChallenge)
		r.Post("/{id}/accept", h.AcceptChallenge)
		r.Post("/{id}/start", h.StartChallenge)
		r.Post("/{id}/settle", h.SettleChallenge)
	})

	r.Route("/bets", func(r chi.Router) {
		r.Post("/", h.PlaceBet)
		r.Post("/settle", h.SettleBets)
	})

	r.Route("/bonuses", func(r chi.Router) {
		r.Post("/referral", h.AccrueReferralBonus)
		r.Post("/unlock", h.UnlockBonus)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/wallets/{userID}/add", h.AdminAdd)
		r.Post("/wallets/{userID}/subtract", h.AdminSubtract)

		r.Get("/deposits", h.ListPendingDeposits)
		r.Post("/deposits", h.RequestDeposit)
		r.Post("/deposits/{id}/approve", h.ApproveDeposit)
		r.Post("/deposits/{id}/reject", h.RejectDeposit)

		r.Get("/withdrawals", h.ListPendingWithdrawals)
		r.Post("/withdrawals", h.RequestWithdrawal)
		r.Post("/withdrawals/{id}/approve", h.ApproveWithdrawal)
		r.Post("/withdrawals/{id}/reject", h.RejectWithdrawal)
	})

	return r
}
