package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena-ledger/internal/model"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
)

const challengeColumns = "id, creator_id, opponent_id, bet_amount, status, outcome, expires_at, created_at, updated_at"

// ChallengeRepository handles challenge persistence.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository instance.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

func scanChallenge(row pgx.Row) (*model.Challenge, error) {
	var c model.Challenge
	err := row.Scan(
		&c.ID,
		&c.CreatorID,
		&c.OpponentID,
		&c.BetAmount,
		&c.Status,
		&c.Outcome,
		&c.ExpiresAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new challenge in the open state within the given
// transaction, so the creator's stake lock and the row commit together.
func (r *ChallengeRepository) Create(ctx context.Context, tx pgx.Tx, creatorID, opponentID, amount int64, expiresAt time.Time) (*model.Challenge, error) {
	const query = `
		INSERT INTO challenges (creator_id, opponent_id, bet_amount, status, outcome, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, '', $5, NOW(), NOW())
		RETURNING ` + challengeColumns

	c, err := scanChallenge(tx.QueryRow(ctx, query, creatorID, opponentID, amount, model.ChallengeOpen, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}
	return c, nil
}

// GetByID retrieves a challenge by ID.
// Returns ErrChallengeNotFound if it does not exist.
func (r *ChallengeRepository) GetByID(ctx context.Context, id int64) (*model.Challenge, error) {
	const query = `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1`

	c, err := scanChallenge(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

// GetForUpdate selects a challenge row with a pessimistic row lock. Status
// transitions must re-check the row under this lock.
func (r *ChallengeRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*model.Challenge, error) {
	const query = `SELECT ` + challengeColumns + ` FROM challenges WHERE id = $1 FOR UPDATE`

	c, err := scanChallenge(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to lock challenge: %w", err)
	}
	return c, nil
}

// SetStatus updates a challenge's status and outcome within a transaction.
func (r *ChallengeRepository) SetStatus(ctx context.Context, tx pgx.Tx, id int64, status, outcome string) error {
	const query = `
		UPDATE challenges
		SET status = $2, outcome = $3, updated_at = NOW()
		WHERE id = $1
	`

	tag, err := tx.Exec(ctx, query, id, status, outcome)
	if err != nil {
		return fmt.Errorf("failed to update challenge status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

// ListOpenByUser retrieves open challenges created by or addressed to a user.
func (r *ChallengeRepository) ListOpenByUser(ctx context.Context, userID int64) ([]*model.Challenge, error) {
	const query = `
		SELECT ` + challengeColumns + `
		FROM challenges
		WHERE status = $2 AND (creator_id = $1 OR opponent_id = $1)
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID, model.ChallengeOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	defer rows.Close()

	var challenges []*model.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		challenges = append(challenges, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}

	return challenges, nil
}
