package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"arena-ledger/internal/model"
)

var (
	ErrEntryNotFound  = errors.New("ledger entry not found")
	ErrDuplicateTxid  = errors.New("duplicate transaction id")
	ErrAlreadySettled = errors.New("entity already settled")
)

// pgUniqueViolation is the PostgreSQL error code for unique constraint violations.
const pgUniqueViolation = "23505"

const entryColumns = "id, wallet_id, user_id, type, amount, status, provider, txid, meta, created_at"

// LedgerRepository handles the append-only transaction journal.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository creates a new LedgerRepository instance.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

func scanEntry(row pgx.Row) (*model.LedgerEntry, error) {
	var (
		e    model.LedgerEntry
		meta []byte
	)
	err := row.Scan(
		&e.ID,
		&e.WalletID,
		&e.UserID,
		&e.Type,
		&e.Amount,
		&e.Status,
		&e.Provider,
		&e.Txid,
		&meta,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode entry meta: %w", err)
		}
	}
	return &e, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Insert appends a ledger entry within the given transaction.
// Returns ErrDuplicateTxid if an entry with the same txid already exists;
// the caller must roll back the enclosing transaction in that case.
func (r *LedgerRepository) Insert(ctx context.Context, tx pgx.Tx, entry *model.LedgerEntry) (*model.LedgerEntry, error) {
	const query = `
		INSERT INTO transactions (wallet_id, user_id, type, amount, status, provider, txid, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING ` + entryColumns

	meta := entry.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entry meta: %w", err)
	}

	e, err := scanEntry(tx.QueryRow(ctx, query,
		entry.WalletID,
		entry.UserID,
		entry.Type,
		entry.Amount,
		entry.Status,
		entry.Provider,
		entry.Txid,
		metaJSON,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateTxid
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return e, nil
}

// GetByTxid retrieves a ledger entry by its unique transaction id.
// Returns ErrEntryNotFound if no entry exists.
func (r *LedgerRepository) GetByTxid(ctx context.Context, txid string) (*model.LedgerEntry, error) {
	const query = `SELECT ` + entryColumns + ` FROM transactions WHERE txid = $1`

	e, err := scanEntry(r.pool.QueryRow(ctx, query, txid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get ledger entry: %w", err)
	}
	return e, nil
}

// ListByUserID retrieves a user's most recent ledger entries.
func (r *LedgerRepository) ListByUserID(ctx context.Context, userID int64, limit int) ([]*model.LedgerEntry, error) {
	const query = `
		SELECT ` + entryColumns + `
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ledger entries: %w", err)
	}

	return entries, nil
}

// BonusBalance returns the sum of still-locked bonus accruals for a user:
// all locked-bonus entries minus the accruals that were later unlocked.
func (r *LedgerRepository) BonusBalance(ctx context.Context, userID int64) (int64, error) {
	const query = `
		SELECT COALESCE((
			SELECT SUM(amount) FROM transactions
			WHERE user_id = $1 AND type = $2 AND status = $3
		), 0) - COALESCE((
			SELECT SUM(amount) FROM transactions
			WHERE user_id = $1 AND provider = $4
		), 0)
	`

	var sum int64
	err := r.pool.QueryRow(ctx, query,
		userID,
		model.EntryLockedBonus,
		model.StatusLocked,
		model.ProviderBonusUnlock,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to compute bonus balance: %w", err)
	}
	return sum, nil
}

// HasUnlockFor checks whether a bonus accrual entry was already unlocked.
// Unlocks never mutate the original entry; they append a correction entry
// that references the accrual's txid in its meta.
func (r *LedgerRepository) HasUnlockFor(ctx context.Context, tx pgx.Tx, accrualTxid string) (bool, error) {
	const query = `
		SELECT EXISTS(
			SELECT 1 FROM transactions
			WHERE provider = $1 AND meta->>'unlocks' = $2
		)
	`

	var exists bool
	if err := tx.QueryRow(ctx, query, model.ProviderBonusUnlock, accrualTxid).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check bonus unlock: %w", err)
	}
	return exists, nil
}
