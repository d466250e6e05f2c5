package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// TransactionRepository is the PostgreSQL ledger store. Rows are inserted
// once; only status and frozen_until change afterwards.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

// NewTransactionRepository creates a new TransactionRepository instance.
func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

const transactionColumns = `
	id, user_id, type, amount_minor, currency, status, level, structure_type,
	source_id, source_ref, frozen_until, payload, created_at, updated_at
`

// Append inserts tx. When source_ref (or id) is already recorded it returns
// the stored row together with model.ErrDuplicateEvent.
func (r *TransactionRepository) Append(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	stored, err := insertTransaction(ctx, r.pool, tx)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, model.ErrDuplicateEvent) {
		return nil, err
	}

	var existing *model.Transaction
	var getErr error
	if tx.SourceRef != nil {
		existing, getErr = r.GetBySourceRef(ctx, *tx.SourceRef)
	} else {
		existing, getErr = r.GetByID(ctx, tx.ID)
	}
	if getErr != nil {
		return nil, fmt.Errorf("failed to load duplicate transaction: %w", getErr)
	}
	return existing, err
}

// GetByID retrieves one row.
func (r *TransactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err := scanTransaction(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: transaction %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return tx, nil
}

// GetBySourceRef retrieves the row recorded under an idempotency key.
func (r *TransactionRepository) GetBySourceRef(ctx context.Context, sourceRef string) (*model.Transaction, error) {
	return getBySourceRef(ctx, r.pool, sourceRef)
}

// GetBalance folds the user's rows in a single statement as of now.
func (r *TransactionRepository) GetBalance(ctx context.Context, userID uuid.UUID, now time.Time) (*model.Balance, error) {
	return queryBalance(ctx, r.pool, userID, now)
}

// List returns the user's rows newest first.
func (r *TransactionRepository) List(ctx context.Context, userID uuid.UUID, filter model.TransactionFilter) ([]*model.Transaction, error) {
	var (
		conds = []string{"user_id = $1"}
		args  = []any{userID}
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Type != nil {
		add("type = $%d", string(*filter.Type))
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.StructureType != nil {
		add("structure_type = $%d", string(*filter.StructureType))
	}
	if filter.SourceID != nil {
		add("source_id = $%d", *filter.SourceID)
	}
	if filter.From != nil {
		add("created_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("created_at < $%d", *filter.To)
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		transactionColumns, strings.Join(conds, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txs []*model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

// ListMatured returns ids of rows whose freeze window has elapsed at now.
func (r *TransactionRepository) ListMatured(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	const query = `
		SELECT id FROM transactions
		WHERE frozen_until IS NOT NULL AND frozen_until <= $1
		ORDER BY frozen_until
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list matured transactions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan transaction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ReleaseFrozen clears frozen_until when it is still set and elapsed.
// It reports false when another run already released the row.
func (r *TransactionRepository) ReleaseFrozen(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	const query = `
		UPDATE transactions
		SET frozen_until = NULL, updated_at = NOW()
		WHERE id = $1 AND frozen_until IS NOT NULL AND frozen_until <= $2
	`
	result, err := r.pool.Exec(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("failed to release frozen transaction: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// SumCommissionByLevel returns completed commission earned per level.
func (r *TransactionRepository) SumCommissionByLevel(ctx context.Context, userID uuid.UUID, structure model.StructureType) (map[int]int64, error) {
	const query = `
		SELECT level, COALESCE(SUM(amount_minor), 0)::bigint
		FROM transactions
		WHERE user_id = $1 AND type = 'commission' AND status = 'completed' AND structure_type = $2
		GROUP BY level
	`
	rows, err := r.pool.Query(ctx, query, userID, string(structure))
	if err != nil {
		return nil, fmt.Errorf("failed to sum commissions: %w", err)
	}
	defer rows.Close()

	sums := make(map[int]int64)
	for rows.Next() {
		var level int
		var sum int64
		if err := rows.Scan(&level, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan commission sum: %w", err)
		}
		sums[level] = sum
	}
	return sums, rows.Err()
}

// insertTransaction writes tx through q, which may be the pool or an open
// pgx.Tx. A unique violation becomes model.ErrDuplicateEvent.
func insertTransaction(ctx context.Context, q querier, tx *model.Transaction) (*model.Transaction, error) {
	payload, err := model.EncodePayload(tx.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrValidation, err)
	}

	var structure *string
	if tx.StructureType != nil {
		s := string(*tx.StructureType)
		structure = &s
	}
	var createdAt *time.Time
	if !tx.CreatedAt.IsZero() {
		createdAt = &tx.CreatedAt
	}

	query := `
		INSERT INTO transactions (
			id, user_id, type, amount_minor, currency, status, level, structure_type,
			source_id, source_ref, frozen_until, payload, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
			COALESCE($13, NOW()), COALESCE($13, NOW()))
		RETURNING ` + transactionColumns

	stored, err := scanTransaction(q.QueryRow(ctx, query,
		tx.ID, tx.UserID, string(tx.Type), tx.AmountMinor, tx.Currency, string(tx.Status),
		tx.Level, structure, tx.SourceID, tx.SourceRef, tx.FrozenUntil, payload, createdAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			ref := ""
			if tx.SourceRef != nil {
				ref = *tx.SourceRef
			}
			return nil, fmt.Errorf("%w: source_ref %q", model.ErrDuplicateEvent, ref)
		}
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return stored, nil
}

func getBySourceRef(ctx context.Context, q querier, sourceRef string) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE source_ref = $1`
	tx, err := scanTransaction(q.QueryRow(ctx, query, sourceRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: source_ref %q", model.ErrNotFound, sourceRef)
		}
		return nil, fmt.Errorf("failed to get transaction by source_ref: %w", err)
	}
	return tx, nil
}

// queryBalance is one statement so the split between available and frozen
// is taken from a single snapshot.
func queryBalance(ctx context.Context, q querier, userID uuid.UUID, now time.Time) (*model.Balance, error) {
	const query = `
		SELECT
			COALESCE(SUM(amount_minor) FILTER (
				WHERE status = 'completed' AND (frozen_until IS NULL OR frozen_until <= $2)), 0)::bigint,
			COALESCE(SUM(amount_minor) FILTER (
				WHERE status = 'completed' AND frozen_until > $2), 0)::bigint,
			COALESCE(SUM(amount_minor) FILTER (
				WHERE status = 'processing'), 0)::bigint,
			COALESCE(SUM(amount_minor) FILTER (
				WHERE status = 'completed' AND type = 'withdrawal'), 0)::bigint,
			COALESCE(SUM(amount_minor) FILTER (
				WHERE status = 'processing' AND type = 'withdrawal'), 0)::bigint
		FROM transactions
		WHERE user_id = $1
	`
	b := model.Balance{UserID: userID, AsOf: now}
	err := q.QueryRow(ctx, query, userID, now).Scan(
		&b.AvailableMinor,
		&b.FrozenMinor,
		&b.PendingMinor,
		&b.WithdrawnMinor,
		&b.InFlightWithdrawalMinor,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var (
		tx        model.Transaction
		txType    string
		status    string
		structure *string
		payload   []byte
	)
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&txType,
		&tx.AmountMinor,
		&tx.Currency,
		&status,
		&tx.Level,
		&structure,
		&tx.SourceID,
		&tx.SourceRef,
		&tx.FrozenUntil,
		&payload,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = model.TxType(txType)
	tx.Status = model.TxStatus(status)
	if structure != nil {
		st := model.StructureType(*structure)
		tx.StructureType = &st
	}
	tx.Payload, err = model.DecodePayload(tx.Type, payload)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
