package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

// ActivationPolicy decides whose activation gates a commission.
type ActivationPolicy string

// Activation policies.
const (
	// ActivationPolicyNone pays every level regardless of activation.
	ActivationPolicyNone ActivationPolicy = "none"
	// ActivationPolicyBuyer pays only when the buyer is activated this month.
	ActivationPolicyBuyer ActivationPolicy = "buyer"
	// ActivationPolicyAncestor pays a level only when that ancestor is activated.
	ActivationPolicyAncestor ActivationPolicy = "ancestor"
)

// LevelOutcome is the result of one level of a distribution.
type LevelOutcome string

// Level outcomes.
const (
	OutcomeCredited        LevelOutcome = "credited"
	OutcomeDuplicate       LevelOutcome = "duplicate"
	OutcomeSkippedNoRate   LevelOutcome = "skipped_no_rate"
	OutcomeSkippedZero     LevelOutcome = "skipped_zero"
	OutcomeSkippedInactive LevelOutcome = "skipped_inactive"
	OutcomeFailed          LevelOutcome = "failed"
)

// ErrDistributionIncomplete is returned when at least one level failed.
// Re-running the distribution is safe.
var ErrDistributionIncomplete = errors.New("commission distribution incomplete")

// Purchase is a completed purchase to distribute commission for. ID is the
// originating order and becomes source_id of every commission row.
type Purchase struct {
	ID            uuid.UUID
	BuyerID       uuid.UUID
	AmountMinor   int64
	StructureType model.StructureType
	Currency      string
}

// LevelResult reports one ancestor of a distribution.
type LevelResult struct {
	Level         int              `json:"level"`
	AncestorID    uuid.UUID        `json:"ancestor_id"`
	Percent       *decimal.Decimal `json:"percent,omitempty"`
	AmountMinor   int64            `json:"amount_minor"`
	Outcome       LevelOutcome     `json:"outcome"`
	TransactionID *uuid.UUID       `json:"transaction_id,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// DistributionResult reports every level of a distribution in chain order.
type DistributionResult struct {
	PurchaseID  uuid.UUID     `json:"purchase_id"`
	Levels      []LevelResult `json:"levels"`
	Credited    int           `json:"credited"`
	TotalMinor  int64         `json:"total_minor"`
	FailedCount int           `json:"failed"`
}

// AncestorResolver resolves a buyer's sponsor chain.
type AncestorResolver interface {
	AncestorChain(ctx context.Context, userID uuid.UUID, maxLevel int) ([]model.Ancestor, error)
}

// ActivationChecker reports whether a user is activated this month.
type ActivationChecker interface {
	IsActivated(ctx context.Context, userID uuid.UUID) (bool, error)
}

// CommissionEngine fans a purchase out across the buyer's ancestors.
type CommissionEngine struct {
	network    AncestorResolver
	plans      PlanStore
	ledger     LedgerStore
	activation ActivationChecker
	events     events.Publisher
	clock      clock.Clock

	planID       string
	freezePeriod time.Duration
	maxLevels    int
	workers      int
	policy       ActivationPolicy
}

// NewCommissionEngine creates a new CommissionEngine instance.
func NewCommissionEngine(
	network AncestorResolver,
	plans PlanStore,
	ledger LedgerStore,
	activation ActivationChecker,
	publisher events.Publisher,
	c clock.Clock,
	ledgerCfg config.LedgerConfig,
	commissionCfg config.CommissionConfig,
) *CommissionEngine {
	workers := ledgerCfg.CommissionWorkers
	if workers <= 0 {
		workers = 1
	}
	policy := ActivationPolicy(commissionCfg.ActivationPolicy)
	if policy == "" {
		policy = ActivationPolicyNone
	}
	return &CommissionEngine{
		network:      network,
		plans:        plans,
		ledger:       ledger,
		activation:   activation,
		events:       publisher,
		clock:        c,
		planID:       ledgerCfg.PlanID,
		freezePeriod: ledgerCfg.FreezePeriod,
		maxLevels:    ledgerCfg.MaxNetworkLevels,
		workers:      workers,
		policy:       policy,
	}
}

// CommissionMinor is floor(amount * percent / 100). The remainder stays
// with the house.
func CommissionMinor(amountMinor int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amountMinor).Mul(percent).Div(decimal.NewFromInt(100)).Floor().IntPart()
}

// Distribute appends one commission row per qualifying ancestor. Levels run
// concurrently and independently: a failed level never blocks the others.
// When any level failed the full result is returned together with
// ErrDistributionIncomplete and the caller may re-run the whole purchase.
func (e *CommissionEngine) Distribute(ctx context.Context, p Purchase) (*DistributionResult, error) {
	if p.ID == uuid.Nil || p.BuyerID == uuid.Nil {
		return nil, fmt.Errorf("%w: purchase and buyer ids are required", model.ErrValidation)
	}
	if p.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: purchase amount must be positive, got %d", model.ErrValidation, p.AmountMinor)
	}
	if !p.StructureType.Valid() {
		return nil, fmt.Errorf("%w: unknown structure type %q", model.ErrValidation, p.StructureType)
	}

	result := &DistributionResult{PurchaseID: p.ID}

	chain, err := e.network.AncestorChain(ctx, p.BuyerID, e.maxLevels)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			log.Info().Str("buyer_id", p.BuyerID.String()).Msg("Buyer has no network membership, no commission")
			return result, nil
		}
		return nil, fmt.Errorf("failed to resolve ancestors: %w", err)
	}
	if len(chain) == 0 {
		return result, nil
	}

	levels, err := e.plans.ListLevels(ctx, e.planID, p.StructureType)
	if err != nil {
		return nil, fmt.Errorf("failed to load commission plan: %w", err)
	}
	percents := make(map[int]decimal.Decimal, len(levels))
	for _, l := range levels {
		percents[l.Level] = l.Percent
	}

	buyerActive := true
	if e.policy == ActivationPolicyBuyer {
		buyerActive, err = e.activation.IsActivated(ctx, p.BuyerID)
		if err != nil {
			return nil, fmt.Errorf("failed to check buyer activation: %w", err)
		}
	}

	now := e.clock.Now()
	var frozenUntil *time.Time
	if e.freezePeriod > 0 {
		until := now.Add(e.freezePeriod)
		frozenUntil = &until
	}

	result.Levels = make([]LevelResult, len(chain))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, ancestor := range chain {
		i, ancestor := i, ancestor
		g.Go(func() error {
			result.Levels[i] = e.creditLevel(ctx, p, ancestor, percents, buyerActive, now, frozenUntil)
			return nil
		})
	}
	_ = g.Wait()

	for _, lr := range result.Levels {
		switch lr.Outcome {
		case OutcomeCredited:
			result.Credited++
			result.TotalMinor += lr.AmountMinor
		case OutcomeFailed:
			result.FailedCount++
		}
	}

	log.Info().
		Str("purchase_id", p.ID.String()).
		Str("buyer_id", p.BuyerID.String()).
		Int("levels", len(chain)).
		Int("credited", result.Credited).
		Int("failed", result.FailedCount).
		Int64("total_minor", result.TotalMinor).
		Msg("Commission distributed")

	if result.FailedCount > 0 {
		return result, fmt.Errorf("%w: %d of %d levels failed", ErrDistributionIncomplete, result.FailedCount, len(chain))
	}
	return result, nil
}

func (e *CommissionEngine) creditLevel(
	ctx context.Context,
	p Purchase,
	ancestor model.Ancestor,
	percents map[int]decimal.Decimal,
	buyerActive bool,
	now time.Time,
	frozenUntil *time.Time,
) LevelResult {
	lr := LevelResult{Level: ancestor.Distance, AncestorID: ancestor.UserID}

	percent, ok := percents[ancestor.Distance]
	if !ok {
		lr.Outcome = OutcomeSkippedNoRate
		return lr
	}
	lr.Percent = &percent

	amount := CommissionMinor(p.AmountMinor, percent)
	if amount == 0 {
		lr.Outcome = OutcomeSkippedZero
		return lr
	}
	lr.AmountMinor = amount

	if !buyerActive {
		lr.Outcome = OutcomeSkippedInactive
		return lr
	}
	if e.policy == ActivationPolicyAncestor {
		active, err := e.activation.IsActivated(ctx, ancestor.UserID)
		if err != nil {
			return e.failed(lr, p, err)
		}
		if !active {
			lr.Outcome = OutcomeSkippedInactive
			return lr
		}
	}

	level := ancestor.Distance
	structure := p.StructureType
	ref := model.CommissionSourceRef(p.ID, ancestor.UserID, level)
	purchaseID := p.ID

	tx, err := e.ledger.Append(ctx, &model.Transaction{
		UserID:        ancestor.UserID,
		Type:          model.TxTypeCommission,
		AmountMinor:   amount,
		Currency:      p.Currency,
		Status:        model.TxStatusCompleted,
		Level:         &level,
		StructureType: &structure,
		SourceID:      &purchaseID,
		SourceRef:     &ref,
		FrozenUntil:   frozenUntil,
		CreatedAt:     now,
		Payload: model.CommissionPayload{
			BuyerID:             p.BuyerID,
			PurchaseAmountMinor: p.AmountMinor,
			Percent:             percent,
			PlanID:              e.planID,
		},
	})
	switch {
	case err == nil:
		lr.Outcome = OutcomeCredited
		lr.TransactionID = &tx.ID
		publish(ctx, e.events, e.clock, events.CommissionCredited, tx)
	case errors.Is(err, model.ErrDuplicateEvent):
		lr.Outcome = OutcomeDuplicate
		if tx != nil {
			lr.TransactionID = &tx.ID
		}
	default:
		return e.failed(lr, p, err)
	}
	return lr
}

func (e *CommissionEngine) failed(lr LevelResult, p Purchase, err error) LevelResult {
	log.Error().Err(err).
		Str("purchase_id", p.ID.String()).
		Str("ancestor_id", lr.AncestorID.String()).
		Int("level", lr.Level).
		Msg("Commission level failed")
	lr.Outcome = OutcomeFailed
	lr.Error = err.Error()
	return lr
}
