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

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/gateway"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

func purchaseRows(t *testing.T, h *harness, userID uuid.UUID) []*model.Transaction {
	t.Helper()
	typ := model.TxTypePurchase
	rows, err := h.ledger.ListTransactions(context.Background(), userID, model.TransactionFilter{Type: &typ})
	require.NoError(t, err)
	return rows
}

func orderStatus(t *testing.T, h *harness, id uuid.UUID) model.OrderStatus {
	t.Helper()
	o, err := h.store.Orders().Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func TestCallback_SettlesOrder(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)

	result, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "success", "txn-1"))
	require.NoError(t, err)
	assert.Equal(t, CallbackSettled, result.Outcome)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, int64(-10000), result.Transaction.AmountMinor)
	assert.Equal(t, model.GatewaySourceRef("txn-1"), *result.Transaction.SourceRef)
	require.NotNil(t, result.Balance)
	assert.Equal(t, int64(-10000), result.Balance.AvailableMinor)

	payload, ok := result.Transaction.Payload.(model.PurchasePayload)
	require.True(t, ok)
	assert.Equal(t, "txn-1", payload.GatewayTransactionID)
	assert.True(t, payload.FxRate.Equal(decimal.NewFromInt(450)))

	assert.Equal(t, model.OrderPaid, orderStatus(t, h, order.ID))
	assert.Equal(t, 1, h.events.Count(events.PaymentSettled))
}

func TestCallback_ReplayIsSuccessWithoutSecondRow(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)
	ev := signedCallback(order.ID, "45000", "paid", "txn-2")

	first, err := h.payments.HandleCallback(context.Background(), ev)
	require.NoError(t, err)
	second, err := h.payments.HandleCallback(context.Background(), ev)
	require.NoError(t, err)

	assert.Equal(t, CallbackSettled, first.Outcome)
	assert.Equal(t, CallbackDuplicate, second.Outcome)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Len(t, purchaseRows(t, h, userID), 1)
	assert.Equal(t, model.OrderPaid, orderStatus(t, h, order.ID))
}

func TestCallback_ConcurrentRedelivery(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)
	ev := signedCallback(order.ID, "45000", "success", "txn-3")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.payments.HandleCallback(context.Background(), ev)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, purchaseRows(t, h, userID), 1)
	balance, err := h.ledger.GetBalance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(-10000), balance.AvailableMinor)
}

func TestCallback_SignatureMismatchMutatesNothing(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)

	ev := signedCallback(order.ID, "45000", "success", "txn-4")
	ev.Amount = "90000"

	_, err := h.payments.HandleCallback(context.Background(), ev)
	assert.ErrorIs(t, err, model.ErrSignatureMismatch)
	assert.Empty(t, purchaseRows(t, h, userID))
	assert.Equal(t, model.OrderPending, orderStatus(t, h, order.ID))
	assert.Empty(t, h.events.Events())
}

func TestCallback_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.payments.HandleCallback(context.Background(), CallbackEvent{OrderID: uuid.NewString()})
	assert.ErrorIs(t, err, model.ErrValidation)

	ev := CallbackEvent{OrderID: "not-a-uuid", Amount: "1", Status: "success", TransactionID: "t"}
	ev.Signature = signedCallbackSig(ev)
	_, err = h.payments.HandleCallback(context.Background(), ev)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func signedCallbackSig(ev CallbackEvent) string {
	return signedCallbackFor(ev.OrderID, ev.Amount.String(), ev.Status, ev.TransactionID)
}

func TestCallback_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.payments.HandleCallback(context.Background(), signedCallback(uuid.New(), "45000", "success", "txn-5"))
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCallback_FailureCancelsOrder(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)

	result, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "failed", "txn-6"))
	require.NoError(t, err)
	assert.Equal(t, CallbackCancelled, result.Outcome)
	assert.Equal(t, model.OrderCancelled, orderStatus(t, h, order.ID))
	assert.Empty(t, purchaseRows(t, h, userID))
	assert.Equal(t, 1, h.events.Count(events.PaymentCancelled))

	// A late success still settles the cancelled order.
	result, err = h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "success", "txn-7"))
	require.NoError(t, err)
	assert.Equal(t, CallbackSettled, result.Outcome)
	assert.Equal(t, model.OrderPaid, orderStatus(t, h, order.ID))
}

func TestCallback_FailureAfterPaidLeavesOrder(t *testing.T) {
	h := newHarness(t)
	order := h.pendingOrder(t, uuid.New(), 10000, false)

	_, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "success", "txn-8"))
	require.NoError(t, err)

	result, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "failed", "txn-9"))
	require.NoError(t, err)
	assert.Equal(t, CallbackIgnored, result.Outcome)
	assert.Equal(t, model.OrderPaid, orderStatus(t, h, order.ID))
}

func TestCallback_SecondTransactionForPaidOrderIsDuplicate(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)

	_, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "success", "txn-10"))
	require.NoError(t, err)
	result, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "success", "txn-11"))
	require.NoError(t, err)
	assert.Equal(t, CallbackDuplicate, result.Outcome)
	assert.Len(t, purchaseRows(t, h, userID), 1)
}

func TestCallback_DistributesCommissionAndActivates(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 3)
	h.percents(model.StructurePrimary, map[int]int64{1: 10, 2: 5})
	order := h.pendingOrder(t, ids[2], 10000, true)

	result, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "45000", "success", "txn-12"))
	require.NoError(t, err)
	require.NotNil(t, result.Commission)
	assert.Equal(t, 2, result.Commission.Credited)

	b1, err := h.ledger.GetBalance(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, int64(1000), b1.AvailableMinor)
	b0, err := h.ledger.GetBalance(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, int64(500), b0.AvailableMinor)

	buyer, err := h.store.Members().Get(context.Background(), ids[2])
	require.NoError(t, err)
	assert.Equal(t, model.ActivationActive, buyer.ActivationStatus)

	retry, err := h.payments.RetryCommission(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, retry.Credited)
	for _, lr := range retry.Levels {
		assert.Equal(t, OutcomeDuplicate, lr.Outcome)
	}
}

func TestRetryCommission_UnpaidOrder(t *testing.T) {
	h := newHarness(t)
	order := h.pendingOrder(t, uuid.New(), 10000, false)

	_, err := h.payments.RetryCommission(context.Background(), order.ID)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = h.payments.RetryCommission(context.Background(), uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCallback_FXPolicy(t *testing.T) {
	snapshot := decimal.NewFromInt(500)

	for _, tc := range []struct {
		policy FXPolicy
		want   int64
	}{
		{FXPolicySettlement, 11111},
		{FXPolicyOrder, 10000},
	} {
		t.Run(string(tc.policy), func(t *testing.T) {
			h := newHarness(t, withFXPolicy(tc.policy))
			userID := uuid.New()
			order, err := h.store.Orders().Create(context.Background(), &model.Order{
				UserID: userID, Status: model.OrderPending, StructureType: model.StructurePrimary,
				TotalMinor: 10000, Currency: "USD", GatewayAmount: decimal.NewFromInt(50000),
				GatewayCurrency: "KZT", FxRate: &snapshot,
			}, nil)
			require.NoError(t, err)

			result, err := h.payments.HandleCallback(context.Background(), signedCallback(order.ID, "50000", "success", "txn-fx"))
			require.NoError(t, err)
			assert.Equal(t, -tc.want, result.Transaction.AmountMinor)
		})
	}
}

func TestCreatePayment(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	result, err := h.payments.CreatePayment(context.Background(), CreatePaymentRequest{
		UserID:      userID,
		AmountMinor: 10000,
		Activation:  true,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://pay.example/redirect", result.PaymentURL)
	assert.True(t, result.GatewayAmount.Equal(decimal.NewFromInt(45000)))

	require.Len(t, h.initiator.calls, 1)
	call := h.initiator.calls[0]
	assert.Equal(t, result.OrderID, call.OrderID)
	assert.Equal(t, "KZT", call.Currency)
	assert.Equal(t, defaultPaymentDescription, call.Description)

	order, err := h.store.Orders().Get(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, order.Status)
	require.NotNil(t, order.FxRate)
	assert.True(t, order.FxRate.Equal(decimal.NewFromInt(450)))

	items, err := h.store.Orders().ListItems(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].IsActivationSnapshot)

	assert.Empty(t, purchaseRows(t, h, userID))
}

func TestCreatePayment_GatewayFailure(t *testing.T) {
	h := newHarness(t)
	h.initiator.err = errors.New("dial tcp: connection refused")
	userID := uuid.New()

	_, err := h.payments.CreatePayment(context.Background(), CreatePaymentRequest{UserID: userID, AmountMinor: 10000})
	assert.ErrorIs(t, err, model.ErrGateway)

	require.Len(t, h.initiator.calls, 1)
	assert.Equal(t, model.OrderCancelled, orderStatus(t, h, h.initiator.calls[0].OrderID))
	assert.Empty(t, purchaseRows(t, h, userID))
}

func TestCreatePayment_Validation(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	cases := []CreatePaymentRequest{
		{AmountMinor: 100},
		{UserID: userID},
		{UserID: userID, AmountMinor: 100, StructureType: "tertiary"},
		{UserID: userID, AmountMinor: 100, Items: []*model.OrderItem{{PriceMinor: 60, Qty: 1}}},
	}
	for _, req := range cases {
		_, err := h.payments.CreatePayment(context.Background(), req)
		assert.ErrorIs(t, err, model.ErrValidation)
	}
	assert.Empty(t, h.initiator.calls)
}

func TestCallback_EmptySecretRejectsEverything(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)

	cfg := h.cfg.Gateway
	cfg.SecretKey = ""
	fx, err := NewFXConverter(h.cfg.FX)
	require.NoError(t, err)
	payments := NewPaymentService(h.store.Orders(), h.store.Ledger(), h.commission, h.activation, h.initiator, fx,
		h.events, h.clock, cfg, h.cfg.Ledger)

	ev := CallbackEvent{
		OrderID:       order.ID.String(),
		Amount:        "45000",
		Status:        "paid",
		TransactionID: "forged",
		Signature:     gateway.CallbackSignature(order.ID.String(), "45000", "paid", "forged", ""),
	}
	_, err = payments.HandleCallback(context.Background(), ev)
	require.Error(t, err)
	assert.Empty(t, purchaseRows(t, h, userID))
	assert.Equal(t, model.OrderPending, orderStatus(t, h, order.ID))
}

func TestCallback_AmountOutOfRangeMutatesNothing(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	order := h.pendingOrder(t, userID, 10000, false)

	_, err := h.payments.HandleCallback(context.Background(),
		signedCallback(order.ID, "5000000000000000000000", "paid", "txn-huge"))
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Empty(t, purchaseRows(t, h, userID))
	assert.Equal(t, model.OrderPending, orderStatus(t, h, order.ID))
}

// useActivationCache rebuilds the activation-dependent services over cache.
func (h *harness) useActivationCache(t *testing.T, cache ActivationCache) {
	t.Helper()
	months := NewMonthWindow(time.UTC)
	fx, err := NewFXConverter(h.cfg.FX)
	require.NoError(t, err)

	activationCfg := h.cfg.Activation
	activationCfg.CacheTTL = time.Hour
	h.activation = NewActivationTracker(h.store.Orders(), h.store.Members(), cache, h.clock, months, activationCfg)
	h.commission = NewCommissionEngine(h.network, h.store.Plans(), h.store.Ledger(), h.activation, h.events, h.clock,
		h.cfg.Ledger, h.cfg.Commission)
	h.payments = NewPaymentService(h.store.Orders(), h.store.Ledger(), h.commission, h.activation, h.initiator, fx,
		h.events, h.clock, h.cfg.Gateway, h.cfg.Ledger)
}

func TestCallback_BuyerPolicyIgnoresStaleCachedActivation(t *testing.T) {
	for _, policy := range []ActivationPolicy{ActivationPolicyBuyer, ActivationPolicyAncestor} {
		t.Run(string(policy), func(t *testing.T) {
			h := newHarness(t, withPolicy(policy))
			h.useActivationCache(t, &mapCache{states: make(map[uuid.UUID]*model.ActivationState)})
			ids := h.chain(t, 2)
			h.percents(model.StructurePrimary, map[int]int64{1: 10})

			if policy == ActivationPolicyAncestor {
				// The sponsor qualifies on their own.
				sponsorOrder := h.pendingOrder(t, ids[0], 4000, true)
				_, err := h.payments.HandleCallback(context.Background(),
					signedCallback(sponsorOrder.ID, "18000", "paid", "txn-sponsor"))
				require.NoError(t, err)
			}

			// The buyer's inactive state is cached before paying.
			state, err := h.activation.Evaluate(context.Background(), ids[1])
			require.NoError(t, err)
			require.False(t, state.Met)

			order := h.pendingOrder(t, ids[1], 10000, true)
			result, err := h.payments.HandleCallback(context.Background(),
				signedCallback(order.ID, "45000", "paid", "txn-buyer"))
			require.NoError(t, err)
			require.NotNil(t, result.Commission)
			require.Len(t, result.Commission.Levels, 1)
			assert.Equal(t, OutcomeCredited, result.Commission.Levels[0].Outcome)
			assert.Equal(t, 1, result.Commission.Credited)
		})
	}
}
