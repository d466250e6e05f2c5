package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/gateway"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/repository/memstore"
)

const (
	testPlan   = "default"
	testSecret = "callback-secret"
)

var testNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

// harness wires every service against one in-memory store.
type harness struct {
	cfg        *config.Config
	clock      *clock.Fixed
	store      *memstore.Store
	events     *events.Recorder
	ledger     *LedgerService
	network    *NetworkGraph
	commission *CommissionEngine
	activation *ActivationTracker
	scheduler  *WithdrawalScheduler
	reaper     *FrozenFundsReaper
	payments   *PaymentService
	plans      *PlanService
	initiator  *fakeInitiator
}

type harnessOption func(*config.Config)

func withFreeze(d time.Duration) harnessOption {
	return func(c *config.Config) { c.Ledger.FreezePeriod = d }
}

func withPolicy(p ActivationPolicy) harnessOption {
	return func(c *config.Config) { c.Commission.ActivationPolicy = string(p) }
}

func withFXPolicy(p FXPolicy) harnessOption {
	return func(c *config.Config) { c.FX.Policy = string(p) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	cfg := &config.Config{
		Ledger: config.LedgerConfig{
			Currency:          "USD",
			MaxNetworkLevels:  10,
			PlanID:            testPlan,
			CommissionWorkers: 4,
			ListDefaultLimit:  50,
			ListMaxLimit:      200,
		},
		Commission: config.CommissionConfig{ActivationPolicy: string(ActivationPolicyNone)},
		Activation: config.ActivationConfig{RequiredMinor: 4000},
		FX:         config.FXConfig{Rate: "450", Policy: string(FXPolicySettlement)},
		Gateway:    config.GatewayConfig{Name: "freedompay", Currency: "KZT", SecretKey: testSecret},
		Reaper:     config.ReaperConfig{BatchSize: 100},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &harness{cfg: cfg, clock: clock.NewFixed(testNow), events: &events.Recorder{}, initiator: &fakeInitiator{url: "https://pay.example/redirect"}}
	h.store = memstore.New(h.clock.Now)
	months := NewMonthWindow(time.UTC)

	fx, err := NewFXConverter(cfg.FX)
	require.NoError(t, err)

	h.ledger = NewLedgerService(h.store.Ledger(), h.clock, cfg.Ledger)
	h.network = NewNetworkGraph(h.store.Members(), h.store.Orders(), h.clock, months, cfg.Ledger.MaxNetworkLevels)
	h.activation = NewActivationTracker(h.store.Orders(), h.store.Members(), nil, h.clock, months, cfg.Activation)
	h.commission = NewCommissionEngine(h.network, h.store.Plans(), h.store.Ledger(), h.activation, h.events, h.clock, cfg.Ledger, cfg.Commission)
	h.scheduler = NewWithdrawalScheduler(h.store.Withdrawals(), h.store.Ledger(), h.events, h.clock, time.UTC, cfg.Ledger.Currency, 0)
	h.reaper = NewFrozenFundsReaper(h.store.Ledger(), h.events, h.clock, cfg.Reaper.BatchSize)
	h.payments = NewPaymentService(h.store.Orders(), h.store.Ledger(), h.commission, h.activation, h.initiator, fx, h.events, h.clock, cfg.Gateway, cfg.Ledger)
	h.plans = NewPlanService(h.store.Plans(), h.store.Ledger(), testPlan, cfg.Ledger.MaxNetworkLevels)
	return h
}

// chain registers root <- 1 <- 2 ... and returns ids from the root down.
func (h *harness) chain(t *testing.T, n int) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, n)
	code := ""
	for i := 0; i < n; i++ {
		ids[i] = uuid.New()
		m, err := h.network.RegisterMember(context.Background(), ids[i], code)
		require.NoError(t, err)
		code = m.ReferralCode
	}
	return ids
}

func (h *harness) percents(structure model.StructureType, pcts map[int]int64) {
	m := make(map[int]decimal.Decimal, len(pcts))
	for level, p := range pcts {
		m[level] = decimal.NewFromInt(p)
	}
	h.store.Plans().SetPercents(testPlan, structure, m)
}

func (h *harness) credit(t *testing.T, userID uuid.UUID, amount int64, frozenUntil *time.Time) {
	t.Helper()
	ref := "seed_" + uuid.NewString()
	_, err := h.ledger.Append(context.Background(), &model.Transaction{
		UserID:      userID,
		Type:        model.TxTypeBonus,
		AmountMinor: amount,
		Currency:    "USD",
		Status:      model.TxStatusCompleted,
		SourceRef:   &ref,
		FrozenUntil: frozenUntil,
	})
	require.NoError(t, err)
}

func (h *harness) pendingOrder(t *testing.T, userID uuid.UUID, amount int64, activation bool) *model.Order {
	t.Helper()
	rate := decimal.NewFromInt(450)
	order, err := h.store.Orders().Create(context.Background(), &model.Order{
		UserID:          userID,
		Status:          model.OrderPending,
		StructureType:   model.StructurePrimary,
		TotalMinor:      amount,
		Currency:        "USD",
		GatewayAmount:   ToGateway(amount, rate, 0),
		GatewayCurrency: "KZT",
		FxRate:          &rate,
	}, []*model.OrderItem{{PriceMinor: amount, Qty: 1, IsActivationSnapshot: activation}})
	require.NoError(t, err)
	return order
}

func signedCallback(orderID uuid.UUID, amount, status, txnID string) CallbackEvent {
	return CallbackEvent{
		OrderID:       orderID.String(),
		Amount:        json.Number(amount),
		Status:        status,
		TransactionID: txnID,
		Signature:     signedCallbackFor(orderID.String(), amount, status, txnID),
	}
}

func signedCallbackFor(orderID, amount, status, txnID string) string {
	return gateway.CallbackSignature(orderID, amount, status, txnID, testSecret)
}

type fakeInitiator struct {
	url   string
	err   error
	calls []gateway.InitRequest
}

func (f *fakeInitiator) InitPayment(_ context.Context, req gateway.InitRequest) (string, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	return f.url, nil
}
