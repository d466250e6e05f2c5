package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// WithdrawalRepository handles auto-withdraw rules and withdrawal requests.
type WithdrawalRepository struct {
	pool *pgxpool.Pool
}

// NewWithdrawalRepository creates a new WithdrawalRepository instance.
func NewWithdrawalRepository(pool *pgxpool.Pool) *WithdrawalRepository {
	return &WithdrawalRepository{pool: pool}
}

const ruleColumns = `
	user_id, enabled, threshold_minor, min_amount_minor, schedule, method_id, created_at, updated_at
`

const withdrawalColumns = `
	id, user_id, method_id, amount_minor, fee_minor, status, transaction_id, created_at, processed_at
`

// ListEnabledRules returns every enabled rule.
func (r *WithdrawalRepository) ListEnabledRules(ctx context.Context) ([]*model.AutoWithdrawRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_withdraw_rules WHERE enabled ORDER BY user_id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.AutoWithdrawRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}
	return rules, nil
}

// GetRule retrieves the rule of one user.
func (r *WithdrawalRepository) GetRule(ctx context.Context, userID uuid.UUID) (*model.AutoWithdrawRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM auto_withdraw_rules WHERE user_id = $1`
	rule, err := scanRule(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: auto-withdraw rule for %s", model.ErrNotFound, userID)
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// SaveRule creates or replaces the user's single rule.
func (r *WithdrawalRepository) SaveRule(ctx context.Context, rule *model.AutoWithdrawRule) (*model.AutoWithdrawRule, error) {
	query := `
		INSERT INTO auto_withdraw_rules (
			user_id, enabled, threshold_minor, min_amount_minor, schedule, method_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			threshold_minor = EXCLUDED.threshold_minor,
			min_amount_minor = EXCLUDED.min_amount_minor,
			schedule = EXCLUDED.schedule,
			method_id = EXCLUDED.method_id,
			updated_at = NOW()
		RETURNING ` + ruleColumns

	saved, err := scanRule(r.pool.QueryRow(ctx, query,
		rule.UserID, rule.Enabled, rule.ThresholdMinor, rule.MinAmountMinor, string(rule.Schedule), rule.MethodID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to save rule: %w", err)
	}
	return saved, nil
}

// Create records a withdrawal request and its ledger row atomically.
// When either the withdrawal id or the row's source_ref already exists it
// returns the stored pair with model.ErrDuplicateEvent.
func (r *WithdrawalRepository) Create(ctx context.Context, w *model.Withdrawal, ledgerTx *model.Transaction) (*model.Withdrawal, *model.Transaction, error) {
	if ledgerTx.ID == uuid.Nil {
		ledgerTx.ID = uuid.New()
	}
	if err := ledgerTx.Validate(); err != nil {
		return nil, nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	storedTx, err := insertTransaction(ctx, tx, ledgerTx)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEvent) {
			_ = tx.Rollback(ctx)
			return r.existing(ctx, w.ID, ledgerTx, err)
		}
		return nil, nil, err
	}

	query := `
		INSERT INTO withdrawals (id, user_id, method_id, amount_minor, fee_minor, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING ` + withdrawalColumns

	stored, err := scanWithdrawal(tx.QueryRow(ctx, query,
		w.ID, w.UserID, w.MethodID, w.AmountMinor, w.FeeMinor, string(w.Status), storedTx.ID,
	))
	if err != nil {
		if isUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return r.existing(ctx, w.ID, ledgerTx,
				fmt.Errorf("%w: withdrawal %s", model.ErrDuplicateEvent, w.ID))
		}
		return nil, nil, fmt.Errorf("failed to create withdrawal: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit withdrawal: %w", err)
	}
	return stored, storedTx, nil
}

func (r *WithdrawalRepository) existing(ctx context.Context, id uuid.UUID, ledgerTx *model.Transaction, dupErr error) (*model.Withdrawal, *model.Transaction, error) {
	w, err := r.Get(ctx, id)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, nil, err
	}
	var stored *model.Transaction
	if ledgerTx.SourceRef != nil {
		stored, err = getBySourceRef(ctx, r.pool, *ledgerTx.SourceRef)
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return nil, nil, err
		}
	}
	return w, stored, dupErr
}

// Get retrieves a withdrawal by id.
func (r *WithdrawalRepository) Get(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawals WHERE id = $1`
	w, err := scanWithdrawal(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: withdrawal %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	return w, nil
}

func scanRule(row pgx.Row) (*model.AutoWithdrawRule, error) {
	var (
		rule     model.AutoWithdrawRule
		schedule string
	)
	err := row.Scan(
		&rule.UserID,
		&rule.Enabled,
		&rule.ThresholdMinor,
		&rule.MinAmountMinor,
		&schedule,
		&rule.MethodID,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.Schedule = model.WithdrawSchedule(schedule)
	return &rule, nil
}

func scanWithdrawal(row pgx.Row) (*model.Withdrawal, error) {
	var (
		w      model.Withdrawal
		status string
	)
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.MethodID,
		&w.AmountMinor,
		&w.FeeMinor,
		&status,
		&w.TransactionID,
		&w.CreatedAt,
		&w.ProcessedAt,
	)
	if err != nil {
		return nil, err
	}
	w.Status = model.WithdrawalStatus(status)
	return &w, nil
}
