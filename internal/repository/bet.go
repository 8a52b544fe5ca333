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
	ErrBetNotFound = errors.New("bet not found")
)

const betColumns = "id, user_id, entity_kind, entity_id, bet_type, amount, odds, potential_win, status, created_at, updated_at"

// BetRepository handles odds-based bet persistence.
type BetRepository struct {
	pool *pgxpool.Pool
}

// NewBetRepository creates a new BetRepository instance.
func NewBetRepository(pool *pgxpool.Pool) *BetRepository {
	return &BetRepository{pool: pool}
}

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.EntityKind,
		&b.EntityID,
		&b.BetType,
		&b.Amount,
		&b.Odds,
		&b.PotentialWin,
		&b.Status,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a pending bet within the given transaction, so the bet
// row and the stake lock commit together. Odds and potential win are
// frozen at placement.
func (r *BetRepository) Create(ctx context.Context, tx pgx.Tx, bet *model.Bet) (*model.Bet, error) {
	const query = `
		INSERT INTO bets (user_id, entity_kind, entity_id, bet_type, amount, odds, potential_win, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING ` + betColumns

	b, err := scanBet(tx.QueryRow(ctx, query,
		bet.UserID,
		bet.EntityKind,
		bet.EntityID,
		bet.BetType,
		bet.Amount,
		bet.Odds,
		bet.PotentialWin,
		model.BetPending,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create bet: %w", err)
	}
	return b, nil
}

// GetByID retrieves a bet by ID.
// Returns ErrBetNotFound if it does not exist.
func (r *BetRepository) GetByID(ctx context.Context, id int64) (*model.Bet, error) {
	const query = `SELECT ` + betColumns + ` FROM bets WHERE id = $1`

	b, err := scanBet(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("failed to get bet: %w", err)
	}
	return b, nil
}

// ListPendingByEntity retrieves pending bets against an entity, without
// locking. Used to collect bettor IDs before the settlement transaction.
func (r *BetRepository) ListPendingByEntity(ctx context.Context, kind string, entityID int64) ([]*model.Bet, error) {
	const query = `
		SELECT ` + betColumns + `
		FROM bets
		WHERE entity_kind = $1 AND entity_id = $2 AND status = $3
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, kind, entityID, model.BetPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

// ListPendingByEntityForUpdate re-selects pending bets with row locks
// inside the settlement transaction. The batch settles all-or-nothing.
func (r *BetRepository) ListPendingByEntityForUpdate(ctx context.Context, tx pgx.Tx, kind string, entityID int64) ([]*model.Bet, error) {
	const query = `
		SELECT ` + betColumns + `
		FROM bets
		WHERE entity_kind = $1 AND entity_id = $2 AND status = $3
		ORDER BY id
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, kind, entityID, model.BetPending)
	if err != nil {
		return nil, fmt.Errorf("failed to lock pending bets: %w", err)
	}
	defer rows.Close()
	return collectBets(rows)
}

func collectBets(rows pgx.Rows) ([]*model.Bet, error) {
	var bets []*model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bet: %w", err)
		}
		bets = append(bets, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bets: %w", err)
	}

	return bets, nil
}

// SetStatus updates a bet's status within a transaction.
func (r *BetRepository) SetStatus(ctx context.Context, tx pgx.Tx, id int64, status string) error {
	const query = `UPDATE bets SET status = $2, updated_at = NOW() WHERE id = $1`

	tag, err := tx.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update bet status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBetNotFound
	}
	return nil
}

// MarkMatchSettled records a match outcome. The row acts as the settled
// guard for match-kind bet batches: a second settlement attempt hits the
// primary key and gets ErrAlreadySettled.
func (r *BetRepository) MarkMatchSettled(ctx context.Context, tx pgx.Tx, entityID int64, outcome string) error {
	const query = `INSERT INTO match_results (entity_id, outcome, settled_at) VALUES ($1, $2, NOW())`

	if _, err := tx.Exec(ctx, query, entityID, outcome); err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadySettled
		}
		return fmt.Errorf("failed to record match result: %w", err)
	}
	return nil
}

// MatchOutcome returns the recorded outcome of a settled match. The row
// is locked so a concurrent settlement cannot race the caller's sweep.
func (r *BetRepository) MatchOutcome(ctx context.Context, tx pgx.Tx, entityID int64) (string, error) {
	const query = `SELECT outcome FROM match_results WHERE entity_id = $1 FOR UPDATE`

	var outcome string
	if err := tx.QueryRow(ctx, query, entityID).Scan(&outcome); err != nil {
		return "", fmt.Errorf("failed to get match outcome: %w", err)
	}
	return outcome, nil
}

// MatchSettled reports whether a match already has a recorded outcome.
func (r *BetRepository) MatchSettled(ctx context.Context, entityID int64) (bool, error) {
	const query = `SELECT EXISTS(SELECT 1 FROM match_results WHERE entity_id = $1)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, entityID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check match result: %w", err)
	}
	return exists, nil
}
