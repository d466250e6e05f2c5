package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// OrderRepository handles orders and their settlement.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository creates a new OrderRepository instance.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

const orderColumns = `
	id, user_id, status, structure_type, total_minor, currency,
	gateway_amount::text, gateway_currency, fx_rate::text, description, paid_at, created_at, updated_at
`

// Create inserts an order with its items in one transaction.
func (r *OrderRepository) Create(ctx context.Context, o *model.Order, items []*model.OrderItem) (*model.Order, error) {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var fxRate *string
	if o.FxRate != nil {
		s := o.FxRate.String()
		fxRate = &s
	}

	query := `
		INSERT INTO orders (
			id, user_id, status, structure_type, total_minor, currency,
			gateway_amount, gateway_currency, fx_rate, description, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9::numeric, $10, NOW(), NOW())
		RETURNING ` + orderColumns

	stored, err := scanOrder(tx.QueryRow(ctx, query,
		o.ID, o.UserID, string(o.Status), string(o.StructureType), o.TotalMinor, o.Currency,
		o.GatewayAmount.String(), o.GatewayCurrency, fxRate, o.Description,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: order %s already exists", model.ErrDuplicateEvent, o.ID)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	const itemQuery = `
		INSERT INTO order_items (id, order_id, product_id, price_minor, qty, is_activation_snapshot, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`
	for _, item := range items {
		if item.ID == uuid.Nil {
			item.ID = uuid.New()
		}
		item.OrderID = stored.ID
		if _, err := tx.Exec(ctx, itemQuery,
			item.ID, item.OrderID, item.ProductID, item.PriceMinor, item.Qty, item.IsActivationSnapshot,
		); err != nil {
			return nil, fmt.Errorf("failed to create order item: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}
	return stored, nil
}

// Get retrieves an order by id.
func (r *OrderRepository) Get(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	o, err := scanOrder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: order %s", model.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return o, nil
}

// ListItems returns the lines of an order.
func (r *OrderRepository) ListItems(ctx context.Context, orderID uuid.UUID) ([]*model.OrderItem, error) {
	const query = `
		SELECT id, order_id, product_id, price_minor, qty, is_activation_snapshot, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`
	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list order items: %w", err)
	}
	defer rows.Close()

	var items []*model.OrderItem
	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.PriceMinor,
			&item.Qty, &item.IsActivationSnapshot, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}

// Settle marks the order paid and appends its purchase row in one database
// transaction, then reads the buyer's balance inside that same transaction.
//
// The order row is locked by the conditional update, so concurrent
// deliveries of the same payment serialize here. A second delivery sees the
// order already paid and gets model.ErrDuplicateEvent with the stored
// purchase row when it can be found.
func (r *OrderRepository) Settle(ctx context.Context, orderID uuid.UUID, purchase *model.Transaction, now time.Time) (*model.Transaction, *model.Balance, error) {
	if purchase.ID == uuid.Nil {
		purchase.ID = uuid.New()
	}
	if err := purchase.Validate(); err != nil {
		return nil, nil, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const markPaid = `
		UPDATE orders
		SET status = 'paid', paid_at = $2, updated_at = NOW()
		WHERE id = $1 AND status <> 'paid'
	`
	result, err := tx.Exec(ctx, markPaid, orderID, now)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mark order paid: %w", err)
	}
	if result.RowsAffected() == 0 {
		_ = tx.Rollback(ctx)
		if _, err := r.Get(ctx, orderID); err != nil {
			return nil, nil, err
		}
		return r.existingPurchase(ctx, purchase)
	}

	stored, err := insertTransaction(ctx, tx, purchase)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEvent) {
			_ = tx.Rollback(ctx)
			return r.existingPurchase(ctx, purchase)
		}
		return nil, nil, err
	}

	balance, err := queryBalance(ctx, tx, purchase.UserID, now)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit settlement: %w", err)
	}
	return stored, balance, nil
}

func (r *OrderRepository) existingPurchase(ctx context.Context, purchase *model.Transaction) (*model.Transaction, *model.Balance, error) {
	if purchase.SourceRef == nil {
		return nil, nil, fmt.Errorf("%w: order already settled", model.ErrDuplicateEvent)
	}
	existing, err := getBySourceRef(ctx, r.pool, *purchase.SourceRef)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return nil, nil, err
	}
	return existing, nil, fmt.Errorf("%w: order already settled", model.ErrDuplicateEvent)
}

// Cancel moves an unpaid order to cancelled. It reports false when the order
// is already paid or cancelled.
func (r *OrderRepository) Cancel(ctx context.Context, orderID uuid.UUID) (bool, error) {
	const query = `
		UPDATE orders
		SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status IN ('draft', 'pending')
	`
	result, err := r.pool.Exec(ctx, query, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to cancel order: %w", err)
	}
	if result.RowsAffected() == 0 {
		if _, err := r.Get(ctx, orderID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// SumActivationPurchases sums activation-flagged lines of the user's orders
// paid in [from, to). The flag is the snapshot taken at order creation.
func (r *OrderRepository) SumActivationPurchases(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(i.price_minor * i.qty), 0)::bigint
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE o.user_id = $1
			AND o.status = 'paid'
			AND i.is_activation_snapshot
			AND o.paid_at >= $2 AND o.paid_at < $3
	`
	var sum int64
	if err := r.pool.QueryRow(ctx, query, userID, from, to).Scan(&sum); err != nil {
		return 0, fmt.Errorf("failed to sum activation purchases: %w", err)
	}
	return sum, nil
}

// VolumeByUser sums paid order totals per user in [from, to).
func (r *OrderRepository) VolumeByUser(ctx context.Context, userIDs []uuid.UUID, from, to time.Time) (map[uuid.UUID]int64, error) {
	volumes := make(map[uuid.UUID]int64, len(userIDs))
	if len(userIDs) == 0 {
		return volumes, nil
	}

	const query = `
		SELECT user_id, COALESCE(SUM(total_minor), 0)::bigint
		FROM orders
		WHERE user_id = ANY($1::uuid[])
			AND status = 'paid'
			AND paid_at >= $2 AND paid_at < $3
		GROUP BY user_id
	`
	rows, err := r.pool.Query(ctx, query, uuidStrings(userIDs), from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to sum volume: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		var sum int64
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan volume: %w", err)
		}
		volumes[id] = sum
	}
	return volumes, rows.Err()
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o             model.Order
		status        string
		structure     string
		gatewayAmount string
		fxRate        *string
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&status,
		&structure,
		&o.TotalMinor,
		&o.Currency,
		&gatewayAmount,
		&o.GatewayCurrency,
		&fxRate,
		&o.Description,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Status = model.OrderStatus(status)
	o.StructureType = model.StructureType(structure)
	o.GatewayAmount, err = decimal.NewFromString(gatewayAmount)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway amount %q: %w", gatewayAmount, err)
	}
	if fxRate != nil {
		rate, err := decimal.NewFromString(*fxRate)
		if err != nil {
			return nil, fmt.Errorf("invalid fx rate %q: %w", *fxRate, err)
		}
		o.FxRate = &rate
	}
	return &o, nil
}
