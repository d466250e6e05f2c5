// Package model defines the data models for the ledger and commission core.
package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TxType categorizes a ledger row.
type TxType string

// Transaction types.
const (
	TxTypeCommission TxType = "commission"
	TxTypeBonus      TxType = "bonus"
	TxTypeWithdrawal TxType = "withdrawal"
	TxTypeAdjustment TxType = "adjustment"
	TxTypePurchase   TxType = "purchase"
)

// Valid reports whether t is a known transaction type.
func (t TxType) Valid() bool {
	switch t {
	case TxTypeCommission, TxTypeBonus, TxTypeWithdrawal, TxTypeAdjustment, TxTypePurchase:
		return true
	}
	return false
}

// TxStatus is the lifecycle state of a ledger row.
type TxStatus string

// Transaction statuses.
const (
	TxStatusPending    TxStatus = "pending"
	TxStatusProcessing TxStatus = "processing"
	TxStatusCompleted  TxStatus = "completed"
	TxStatusFailed     TxStatus = "failed"
	TxStatusFrozen     TxStatus = "frozen"
)

// Valid reports whether s is a known transaction status.
func (s TxStatus) Valid() bool {
	switch s {
	case TxStatusPending, TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusFrozen:
		return true
	}
	return false
}

// StructureType selects one of the two parallel commission hierarchies.
type StructureType string

// Structure types.
const (
	StructurePrimary   StructureType = "primary"
	StructureSecondary StructureType = "secondary"
)

// Valid reports whether s is a known structure type.
func (s StructureType) Valid() bool {
	return s == StructurePrimary || s == StructureSecondary
}

// Transaction is an immutable ledger row. Only Status and FrozenUntil
// change after insertion.
type Transaction struct {
	ID            uuid.UUID      `json:"id" db:"id"`
	UserID        uuid.UUID      `json:"user_id" db:"user_id"`
	Type          TxType         `json:"type" db:"type"`
	AmountMinor   int64          `json:"amount_minor" db:"amount_minor"`
	Currency      string         `json:"currency" db:"currency"`
	Status        TxStatus       `json:"status" db:"status"`
	Level         *int           `json:"level,omitempty" db:"level"`
	StructureType *StructureType `json:"structure_type,omitempty" db:"structure_type"`
	SourceID      *uuid.UUID     `json:"source_id,omitempty" db:"source_id"`
	SourceRef     *string        `json:"source_ref,omitempty" db:"source_ref"`
	FrozenUntil   *time.Time     `json:"frozen_until,omitempty" db:"frozen_until"`
	Payload       Payload        `json:"payload,omitempty" db:"payload"`
	CreatedAt     time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at" db:"updated_at"`
}

// IsFrozenAt reports whether the row is still inside its freeze window at now.
func (t *Transaction) IsFrozenAt(now time.Time) bool {
	return t.FrozenUntil != nil && t.FrozenUntil.After(now)
}

// TransactionFilter narrows ListTransactions.
type TransactionFilter struct {
	Type          *TxType
	Status        *TxStatus
	StructureType *StructureType
	SourceID      *uuid.UUID
	From          *time.Time
	To            *time.Time
	Limit         int
	Offset        int
}

// ActivationStatus is the display status of a network member.
type ActivationStatus string

// Activation statuses.
const (
	ActivationActive   ActivationStatus = "active"
	ActivationFrozen   ActivationStatus = "frozen"
	ActivationInactive ActivationStatus = "inactive"
)

// NetworkMember is a node in the sponsor tree.
type NetworkMember struct {
	UserID           uuid.UUID        `json:"user_id" db:"user_id"`
	SponsorID        *uuid.UUID       `json:"sponsor_id,omitempty" db:"sponsor_id"`
	Level            int              `json:"level" db:"-"`
	ActivationStatus ActivationStatus `json:"activation_status" db:"activation_status"`
	ReferralCode     string           `json:"referral_code" db:"referral_code"`
	CreatedAt        time.Time        `json:"created_at" db:"created_at"`

	// Aggregates filled by subtree traversal.
	DirectReferrals int   `json:"direct_referrals" db:"-"`
	TotalTeam       int   `json:"total_team" db:"-"`
	MonthlyVolume   int64 `json:"monthly_volume" db:"-"`
}

// Ancestor is one hop in an ancestor chain.
type Ancestor struct {
	UserID   uuid.UUID `json:"user_id"`
	Distance int       `json:"distance"`
}

// NetworkStats summarizes a member's downline.
type NetworkStats struct {
	TotalPartners  int   `json:"total_partners"`
	ActivePartners int   `json:"active_partners"`
	FrozenPartners int   `json:"frozen_partners"`
	MaxLevel       int   `json:"max_level"`
	NewThisMonth   int   `json:"new_this_month"`
	VolumeMonth    int64 `json:"volume_this_month"`
}

// CommissionLevel is one row of a commission plan. A missing level means no
// payout at that depth, which is different from a 0% level.
type CommissionLevel struct {
	PlanID        string          `json:"plan_id" db:"plan_id"`
	StructureType StructureType   `json:"structure_type" db:"structure_type"`
	Level         int             `json:"level" db:"level"`
	Percent       decimal.Decimal `json:"percent" db:"percent"`
	Description   *string         `json:"description,omitempty" db:"description"`

	// EarnedMinor is filled for per-user structure views.
	EarnedMinor int64 `json:"earned_minor" db:"-"`
}

// ActivationState is the derived monthly qualification of a user.
type ActivationState struct {
	UserID             uuid.UUID `json:"user_id"`
	PeriodStart        time.Time `json:"period_start"`
	QualifyingSumMinor int64     `json:"qualifying_sum_minor"`
	RequiredMinor      int64     `json:"required_minor"`
	Met                bool      `json:"met"`
}

// RemainingMinor is what is still missing to reach activation.
func (a *ActivationState) RemainingMinor() int64 {
	if a.Met {
		return 0
	}
	return a.RequiredMinor - a.QualifyingSumMinor
}

// WithdrawSchedule is the cadence of an auto-withdraw rule.
type WithdrawSchedule string

// Withdraw schedules.
const (
	ScheduleDaily   WithdrawSchedule = "daily"
	ScheduleWeekly  WithdrawSchedule = "weekly"
	ScheduleMonthly WithdrawSchedule = "monthly"
)

// Valid reports whether s is a known schedule.
func (s WithdrawSchedule) Valid() bool {
	return s == ScheduleDaily || s == ScheduleWeekly || s == ScheduleMonthly
}

// AutoWithdrawRule configures automatic withdrawals for one user.
type AutoWithdrawRule struct {
	UserID         uuid.UUID        `json:"user_id" db:"user_id"`
	Enabled        bool             `json:"enabled" db:"enabled"`
	ThresholdMinor int64            `json:"threshold_minor" db:"threshold_minor"`
	MinAmountMinor int64            `json:"min_amount_minor" db:"min_amount_minor"`
	Schedule       WithdrawSchedule `json:"schedule" db:"schedule"`
	MethodID       *uuid.UUID       `json:"method_id,omitempty" db:"method_id"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

// Withdrawal statuses.
const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Withdrawal is a payout request. Its ledger row is linked through
// source_ref "auto_withdrawal_<id>".
type Withdrawal struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	UserID        uuid.UUID        `json:"user_id" db:"user_id"`
	MethodID      *uuid.UUID       `json:"method_id,omitempty" db:"method_id"`
	AmountMinor   int64            `json:"amount_minor" db:"amount_minor"`
	FeeMinor      int64            `json:"fee_minor" db:"fee_minor"`
	Status        WithdrawalStatus `json:"status" db:"status"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty" db:"transaction_id"`
	CreatedAt     time.Time        `json:"created_at" db:"created_at"`
	ProcessedAt   *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}

// OrderStatus is the lifecycle state of a shop order.
type OrderStatus string

// Order statuses.
const (
	OrderDraft     OrderStatus = "draft"
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderCancelled OrderStatus = "cancelled"
)

// Order is the bookkeeping row a payment settles against.
type Order struct {
	ID              uuid.UUID        `json:"id" db:"id"`
	UserID          uuid.UUID        `json:"user_id" db:"user_id"`
	Status          OrderStatus      `json:"status" db:"status"`
	StructureType   StructureType    `json:"structure_type" db:"structure_type"`
	TotalMinor      int64            `json:"total_minor" db:"total_minor"`
	Currency        string           `json:"currency" db:"currency"`
	GatewayAmount   decimal.Decimal  `json:"gateway_amount" db:"gateway_amount"`
	GatewayCurrency string           `json:"gateway_currency" db:"gateway_currency"`
	FxRate          *decimal.Decimal `json:"fx_rate,omitempty" db:"fx_rate"`
	Description     string           `json:"description" db:"description"`
	PaidAt          *time.Time       `json:"paid_at,omitempty" db:"paid_at"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at" db:"updated_at"`
}

// OrderItem is an order line. IsActivationSnapshot is frozen at order
// creation and never re-read from the product.
type OrderItem struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	OrderID              uuid.UUID  `json:"order_id" db:"order_id"`
	ProductID            *uuid.UUID `json:"product_id,omitempty" db:"product_id"`
	PriceMinor           int64      `json:"price_minor" db:"price_minor"`
	Qty                  int        `json:"qty" db:"qty"`
	IsActivationSnapshot bool       `json:"is_activation_snapshot" db:"is_activation_snapshot"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

// LineTotal is price times quantity.
func (i *OrderItem) LineTotal() int64 {
	return i.PriceMinor * int64(i.Qty)
}
