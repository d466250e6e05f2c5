package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

// LedgerStore is the append-only transaction log.
//
// Append returns model.ErrDuplicateEvent together with the stored row when
// the source_ref is already recorded. No two Appends with the same
// source_ref both succeed.
type LedgerStore interface {
	Append(ctx context.Context, tx *model.Transaction) (*model.Transaction, error)
	GetBySourceRef(ctx context.Context, sourceRef string) (*model.Transaction, error)
	GetBalance(ctx context.Context, userID uuid.UUID, now time.Time) (*model.Balance, error)
	List(ctx context.Context, userID uuid.UUID, filter model.TransactionFilter) ([]*model.Transaction, error)
	ListMatured(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ReleaseFrozen(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	SumCommissionByLevel(ctx context.Context, userID uuid.UUID, structure model.StructureType) (map[int]int64, error)
}

// NetworkStore holds the sponsor tree.
type NetworkStore interface {
	Create(ctx context.Context, m *model.NetworkMember) (*model.NetworkMember, error)
	Get(ctx context.Context, userID uuid.UUID) (*model.NetworkMember, error)
	GetByReferralCode(ctx context.Context, code string) (*model.NetworkMember, error)
	ListChildren(ctx context.Context, sponsorIDs []uuid.UUID) ([]*model.NetworkMember, error)
	SetActivationStatus(ctx context.Context, userID uuid.UUID, status model.ActivationStatus) error
}

// PlanStore holds commission plan levels.
type PlanStore interface {
	ListLevels(ctx context.Context, planID string, structure model.StructureType) ([]*model.CommissionLevel, error)
	SetLevel(ctx context.Context, l *model.CommissionLevel) error
	DeleteLevel(ctx context.Context, planID string, structure model.StructureType, level int) error
}

// OrderStore holds orders. Settle marks an order paid and appends its
// purchase row atomically, returning the buyer's balance read in the same
// scope.
type OrderStore interface {
	Create(ctx context.Context, o *model.Order, items []*model.OrderItem) (*model.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Order, error)
	Settle(ctx context.Context, orderID uuid.UUID, purchase *model.Transaction, now time.Time) (*model.Transaction, *model.Balance, error)
	Cancel(ctx context.Context, orderID uuid.UUID) (bool, error)
	SumActivationPurchases(ctx context.Context, userID uuid.UUID, from, to time.Time) (int64, error)
	VolumeByUser(ctx context.Context, userIDs []uuid.UUID, from, to time.Time) (map[uuid.UUID]int64, error)
}

// WithdrawalStore holds auto-withdraw rules and withdrawal requests.
// Create records a withdrawal and its ledger row atomically.
type WithdrawalStore interface {
	ListEnabledRules(ctx context.Context) ([]*model.AutoWithdrawRule, error)
	GetRule(ctx context.Context, userID uuid.UUID) (*model.AutoWithdrawRule, error)
	SaveRule(ctx context.Context, rule *model.AutoWithdrawRule) (*model.AutoWithdrawRule, error)
	Create(ctx context.Context, w *model.Withdrawal, tx *model.Transaction) (*model.Withdrawal, *model.Transaction, error)
}
