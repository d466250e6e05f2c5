package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

func purchaseFor(buyer uuid.UUID, amount int64) Purchase {
	return Purchase{
		ID:            uuid.New(),
		BuyerID:       buyer,
		AmountMinor:   amount,
		StructureType: model.StructurePrimary,
		Currency:      "USD",
	}
}

func commissionRows(t *testing.T, h *harness, userID uuid.UUID) []*model.Transaction {
	t.Helper()
	typ := model.TxTypeCommission
	rows, err := h.ledger.ListTransactions(context.Background(), userID, model.TransactionFilter{Type: &typ})
	require.NoError(t, err)
	return rows
}

func TestDistribute_ThreeLevels(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 4)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5, 3: 2})

	result, err := h.commission.Distribute(context.Background(), purchaseFor(ids[3], 10000))
	require.NoError(t, err)
	require.Len(t, result.Levels, 3)
	assert.Equal(t, 3, result.Credited)
	assert.Equal(t, int64(1700), result.TotalMinor)

	want := map[uuid.UUID]int64{ids[2]: 1000, ids[1]: 500, ids[0]: 200}
	for userID, amount := range want {
		balance, err := h.ledger.GetBalance(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, amount, balance.AvailableMinor)
	}
	for i, lr := range result.Levels {
		assert.Equal(t, i+1, lr.Level)
		assert.Equal(t, OutcomeCredited, lr.Outcome)
	}
	assert.Equal(t, 3, h.events.Count(events.CommissionCredited))
}

func TestDistribute_ShortChainOnlyPaysExistingAncestors(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 3)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5, 3: 2})

	result, err := h.commission.Distribute(context.Background(), purchaseFor(ids[2], 10000))
	require.NoError(t, err)
	assert.Len(t, result.Levels, 2)
	assert.Equal(t, 2, result.Credited)
	assert.Len(t, commissionRows(t, h, ids[1]), 1)
	assert.Len(t, commissionRows(t, h, ids[0]), 1)
}

func TestDistribute_MissingLevelIsSkipped(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 4)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 3: 2})

	result, err := h.commission.Distribute(context.Background(), purchaseFor(ids[3], 10000))
	require.NoError(t, err)
	require.Len(t, result.Levels, 3)
	assert.Equal(t, OutcomeCredited, result.Levels[0].Outcome)
	assert.Equal(t, OutcomeSkippedNoRate, result.Levels[1].Outcome)
	assert.Equal(t, OutcomeCredited, result.Levels[2].Outcome)

	assert.Len(t, commissionRows(t, h, ids[2]), 1)
	assert.Empty(t, commissionRows(t, h, ids[1]))
	rows := commissionRows(t, h, ids[0])
	require.Len(t, rows, 1)
	assert.Equal(t, int64(200), rows[0].AmountMinor)
	assert.Equal(t, 3, *rows[0].Level)
}

func TestDistribute_ZeroPercentLevelWritesNothing(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 2)
	h.percents(model.StructurePrimary, map[int]int64{1: 0})

	result, err := h.commission.Distribute(context.Background(), purchaseFor(ids[1], 10000))
	require.NoError(t, err)
	require.Len(t, result.Levels, 1)
	assert.Equal(t, OutcomeSkippedZero, result.Levels[0].Outcome)
	assert.Empty(t, commissionRows(t, h, ids[0]))
}

func TestCommissionMinor_Floors(t *testing.T) {
	assert.Equal(t, int64(330), CommissionMinor(1001, decimal.NewFromInt(33)))
	assert.Equal(t, int64(1000), CommissionMinor(10000, decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), CommissionMinor(9, decimal.NewFromInt(10)))
	assert.Equal(t, int64(12), CommissionMinor(1001, decimal.RequireFromString("1.25")))
}

// Property: the commission is the largest integer c with c*100 <= amount*pct.
func TestCommissionMinorFloorProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := rapid.Int64Range(1, 1_000_000_000).Draw(t, "amount")
		pct := rapid.Int64Range(0, 100).Draw(t, "pct")

		c := CommissionMinor(amount, decimal.NewFromInt(pct))
		exact := amount * pct
		if c*100 > exact || (c+1)*100 <= exact {
			t.Fatalf("CommissionMinor(%d, %d) = %d is not the floor of %d/100", amount, pct, c, exact)
		}
	})
}

func TestDistribute_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 3)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5})
	p := purchaseFor(ids[2], 10000)

	_, err := h.commission.Distribute(context.Background(), p)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := h.commission.Distribute(context.Background(), p)
			assert.NoError(t, err)
			assert.Equal(t, 0, result.Credited)
			for _, lr := range result.Levels {
				assert.Equal(t, OutcomeDuplicate, lr.Outcome)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, commissionRows(t, h, ids[1]), 1)
	assert.Len(t, commissionRows(t, h, ids[0]), 1)
}

func TestDistribute_NonMemberBuyerGetsNothing(t *testing.T) {
	h := newHarness(t)
	h.percents(model.StructurePrimary, map[int]int64{1: 10})

	result, err := h.commission.Distribute(context.Background(), purchaseFor(uuid.New(), 10000))
	require.NoError(t, err)
	assert.Empty(t, result.Levels)
}

func TestDistribute_SponsorCycleIsIntegrityError(t *testing.T) {
	h := newHarness(t)
	a, b := uuid.New(), uuid.New()
	h.store.Members().Put(&model.NetworkMember{UserID: a, SponsorID: &b, ReferralCode: "AAAA"})
	h.store.Members().Put(&model.NetworkMember{UserID: b, SponsorID: &a, ReferralCode: "BBBB"})
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5, 3: 2})

	_, err := h.commission.Distribute(context.Background(), purchaseFor(a, 10000))
	assert.ErrorIs(t, err, model.ErrIntegrity)
	assert.Empty(t, commissionRows(t, h, b))
}

func TestDistribute_Validation(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 2)

	p := purchaseFor(ids[1], 0)
	_, err := h.commission.Distribute(context.Background(), p)
	assert.ErrorIs(t, err, model.ErrValidation)

	p = purchaseFor(ids[1], 100)
	p.StructureType = "tertiary"
	_, err = h.commission.Distribute(context.Background(), p)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestDistribute_AncestorPolicySkipsInactiveAncestors(t *testing.T) {
	h := newHarness(t, withPolicy(ActivationPolicyAncestor))
	ids := h.chain(t, 3)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5})

	order := h.pendingOrder(t, ids[1], 5000, true)
	h.store.Orders().MarkPaid(order.ID, testNow)

	result, err := h.commission.Distribute(context.Background(), purchaseFor(ids[2], 10000))
	require.NoError(t, err)
	require.Len(t, result.Levels, 2)
	assert.Equal(t, OutcomeCredited, result.Levels[0].Outcome)
	assert.Equal(t, OutcomeSkippedInactive, result.Levels[1].Outcome)
	assert.Empty(t, commissionRows(t, h, ids[0]))
}

func TestDistribute_BuyerPolicyRequiresActiveBuyer(t *testing.T) {
	h := newHarness(t, withPolicy(ActivationPolicyBuyer))
	ids := h.chain(t, 2)
	h.percents(model.StructurePrimary, map[int]int64{1: 10})

	result, err := h.commission.Distribute(context.Background(), purchaseFor(ids[1], 10000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkippedInactive, result.Levels[0].Outcome)

	order := h.pendingOrder(t, ids[1], 4000, true)
	h.store.Orders().MarkPaid(order.ID, testNow)

	result, err = h.commission.Distribute(context.Background(), purchaseFor(ids[1], 10000))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCredited, result.Levels[0].Outcome)
}

func TestDistribute_FreezeWindowAppliesAtReadTime(t *testing.T) {
	h := newHarness(t, withFreeze(72*time.Hour))
	ids := h.chain(t, 2)
	h.percents(model.StructurePrimary, map[int]int64{1: 10})

	_, err := h.commission.Distribute(context.Background(), purchaseFor(ids[1], 10000))
	require.NoError(t, err)

	balance, err := h.ledger.GetBalance(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance.AvailableMinor)
	assert.Equal(t, int64(1000), balance.FrozenMinor)

	h.clock.Advance(72 * time.Hour)
	balance, err = h.ledger.GetBalance(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance.AvailableMinor)
	assert.Equal(t, int64(0), balance.FrozenMinor)
}

// failingLedger fails appends for one user.
type failingLedger struct {
	LedgerStore
	failFor uuid.UUID
}

func (f *failingLedger) Append(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	if tx.UserID == f.failFor {
		return nil, errors.New("connection reset")
	}
	return f.LedgerStore.Append(ctx, tx)
}

func TestDistribute_FailedLevelDoesNotBlockOthers(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 4)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5, 3: 2})

	ledger := &failingLedger{LedgerStore: h.store.Ledger(), failFor: ids[1]}
	engine := NewCommissionEngine(h.network, h.store.Plans(), ledger, h.activation, events.Noop{}, h.clock,
		h.cfg.Ledger, h.cfg.Commission)

	p := purchaseFor(ids[3], 10000)
	result, err := engine.Distribute(context.Background(), p)
	require.ErrorIs(t, err, ErrDistributionIncomplete)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Credited)
	assert.Equal(t, 1, result.FailedCount)
	assert.Equal(t, OutcomeFailed, result.Levels[1].Outcome)
	assert.NotEmpty(t, result.Levels[1].Error)

	retry, err := h.commission.Distribute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Credited)
	assert.Len(t, commissionRows(t, h, ids[1]), 1)
	assert.Len(t, commissionRows(t, h, ids[2]), 1)
}
