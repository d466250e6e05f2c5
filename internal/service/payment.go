package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/gateway"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

const defaultPaymentDescription = "Monthly activation payment"

// PaymentInitiator starts a payment with the external provider.
type PaymentInitiator interface {
	InitPayment(ctx context.Context, req gateway.InitRequest) (string, error)
}

// CommissionDistributor distributes commission for a settled purchase.
type CommissionDistributor interface {
	Distribute(ctx context.Context, p Purchase) (*DistributionResult, error)
}

// ActivationRefresher recomputes a user's activation after a purchase.
type ActivationRefresher interface {
	Refresh(ctx context.Context, userID uuid.UUID) (*model.ActivationState, error)
}

// CallbackEvent is the provider's payment notification. Amount keeps the
// provider's exact text since it is part of the signed message.
type CallbackEvent struct {
	OrderID       string      `json:"order_id"`
	Amount        json.Number `json:"amount"`
	Status        string      `json:"status"`
	TransactionID string      `json:"transaction_id"`
	Signature     string      `json:"signature"`
}

// Callback outcomes.
const (
	CallbackSettled   = "settled"
	CallbackCancelled = "cancelled"
	CallbackDuplicate = "duplicate"
	CallbackIgnored   = "ignored"
)

// CallbackResult reports how a callback was applied.
type CallbackResult struct {
	OrderID     uuid.UUID           `json:"order_id"`
	Outcome     string              `json:"outcome"`
	Transaction *model.Transaction  `json:"transaction,omitempty"`
	Balance     *model.Balance      `json:"balance,omitempty"`
	Commission  *DistributionResult `json:"commission,omitempty"`
}

// CreatePaymentRequest asks for a new gateway payment. When Items is empty
// the whole amount becomes one line, flagged for activation when Activation
// is set.
type CreatePaymentRequest struct {
	UserID        uuid.UUID
	AmountMinor   int64
	Description   string
	StructureType model.StructureType
	Activation    bool
	Items         []*model.OrderItem
}

// CreatePaymentResult is the redirect for a created payment.
type CreatePaymentResult struct {
	OrderID         uuid.UUID       `json:"order_id"`
	PaymentURL      string          `json:"payment_url"`
	GatewayAmount   decimal.Decimal `json:"gateway_amount"`
	GatewayCurrency string          `json:"gateway_currency"`
}

// PaymentService settles provider callbacks against orders and starts new
// payments.
type PaymentService struct {
	orders      OrderStore
	ledger      LedgerStore
	commissions CommissionDistributor
	activation  ActivationRefresher
	initiator   PaymentInitiator
	fx          *FXConverter
	events      events.Publisher
	clock       clock.Clock

	gatewayName     string
	gatewayCurrency string
	secret          string
	currency        string
}

// NewPaymentService creates a new PaymentService instance. commissions and
// activation may be nil.
func NewPaymentService(
	orders OrderStore,
	ledger LedgerStore,
	commissions CommissionDistributor,
	activation ActivationRefresher,
	initiator PaymentInitiator,
	fx *FXConverter,
	publisher events.Publisher,
	c clock.Clock,
	gatewayCfg config.GatewayConfig,
	ledgerCfg config.LedgerConfig,
) *PaymentService {
	return &PaymentService{
		orders:          orders,
		ledger:          ledger,
		commissions:     commissions,
		activation:      activation,
		initiator:       initiator,
		fx:              fx,
		events:          publisher,
		clock:           c,
		gatewayName:     gatewayCfg.Name,
		gatewayCurrency: gatewayCfg.Currency,
		secret:          gatewayCfg.SecretKey,
		currency:        ledgerCfg.Currency,
	}
}

var errSecretNotConfigured = errors.New("gateway secret key not configured")

func isSuccessStatus(status string) bool {
	switch strings.ToLower(status) {
	case "success", "paid":
		return true
	}
	return false
}

// HandleCallback verifies and applies a provider callback. A callback seen
// before, or one for an order that is already paid, yields the duplicate
// outcome and no mutation. A bad signature mutates nothing.
func (s *PaymentService) HandleCallback(ctx context.Context, ev CallbackEvent) (*CallbackResult, error) {
	amountText := ev.Amount.String()
	if ev.OrderID == "" || amountText == "" || ev.Status == "" || ev.TransactionID == "" || ev.Signature == "" {
		return nil, fmt.Errorf("%w: order_id, amount, status, transaction_id and signature are required", model.ErrValidation)
	}

	if s.secret == "" {
		log.Error().Str("order_id", ev.OrderID).Msg("Payment callback rejected: gateway secret not configured")
		return nil, errSecretNotConfigured
	}
	if !gateway.VerifyCallback(ev.OrderID, amountText, ev.Status, ev.TransactionID, s.secret, ev.Signature) {
		log.Warn().
			Bool("security", true).
			Str("order_id", ev.OrderID).
			Str("transaction_id", ev.TransactionID).
			Msg("Payment callback signature mismatch")
		return nil, model.ErrSignatureMismatch
	}

	orderID, err := uuid.Parse(ev.OrderID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid order_id %q", model.ErrValidation, ev.OrderID)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	ref := model.GatewaySourceRef(ev.TransactionID)
	existing, err := s.ledger.GetBySourceRef(ctx, ref)
	switch {
	case err == nil:
		log.Info().Str("order_id", ev.OrderID).Str("source_ref", ref).Msg("Payment callback already applied")
		return &CallbackResult{OrderID: orderID, Outcome: CallbackDuplicate, Transaction: existing}, nil
	case !errors.Is(err, model.ErrNotFound):
		return nil, fmt.Errorf("failed to check source_ref: %w", err)
	}

	if isSuccessStatus(ev.Status) {
		return s.settle(ctx, order, ev, ref)
	}
	return s.cancel(ctx, order, ev.Status)
}

func (s *PaymentService) settle(ctx context.Context, order *model.Order, ev CallbackEvent, ref string) (*CallbackResult, error) {
	amount, err := decimal.NewFromString(ev.Amount.String())
	if err != nil || !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %q must be a positive number", model.ErrValidation, ev.Amount)
	}

	rate := s.fx.RateFor(order)
	minor, err := ToMinor(amount, rate)
	if err != nil {
		return nil, err
	}
	if minor <= 0 {
		return nil, fmt.Errorf("%w: amount %s converts to zero", model.ErrValidation, amount)
	}

	gatewayCurrency := order.GatewayCurrency
	if gatewayCurrency == "" {
		gatewayCurrency = s.gatewayCurrency
	}
	now := s.clock.Now()
	structure := order.StructureType
	orderID := order.ID

	purchase := &model.Transaction{
		UserID:        order.UserID,
		Type:          model.TxTypePurchase,
		AmountMinor:   -minor,
		Currency:      s.currency,
		Status:        model.TxStatusCompleted,
		StructureType: &structure,
		SourceID:      &orderID,
		SourceRef:     &ref,
		CreatedAt:     now,
		Payload: model.PurchasePayload{
			Gateway:              s.gatewayName,
			GatewayTransactionID: ev.TransactionID,
			GatewayAmount:        amount,
			GatewayCurrency:      gatewayCurrency,
			FxRate:               rate,
		},
	}

	stored, balance, err := s.orders.Settle(ctx, order.ID, purchase, now)
	if err != nil {
		if errors.Is(err, model.ErrDuplicateEvent) {
			log.Info().Str("order_id", order.ID.String()).Str("source_ref", ref).Msg("Order already settled")
			return &CallbackResult{OrderID: order.ID, Outcome: CallbackDuplicate, Transaction: stored}, nil
		}
		return nil, fmt.Errorf("failed to settle order: %w", err)
	}

	log.Info().
		Str("order_id", order.ID.String()).
		Str("user_id", order.UserID.String()).
		Str("source_ref", ref).
		Int64("amount_minor", minor).
		Str("fx_rate", rate.String()).
		Msg("Payment settled")

	result := &CallbackResult{OrderID: order.ID, Outcome: CallbackSettled, Transaction: stored, Balance: balance}
	publish(ctx, s.events, s.clock, events.PaymentSettled, stored)

	// Eligibility under the buyer and ancestor policies must see this order.
	s.refreshActivation(ctx, order.UserID)

	if s.commissions != nil {
		dist, err := s.commissions.Distribute(ctx, Purchase{
			ID:            order.ID,
			BuyerID:       order.UserID,
			AmountMinor:   minor,
			StructureType: structure,
			Currency:      s.currency,
		})
		if err != nil {
			log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Commission distribution needs retry")
		}
		result.Commission = dist
	}

	return result, nil
}

func (s *PaymentService) cancel(ctx context.Context, order *model.Order, status string) (*CallbackResult, error) {
	changed, err := s.orders.Cancel(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel order: %w", err)
	}
	if !changed {
		log.Info().
			Str("order_id", order.ID.String()).
			Str("order_status", string(order.Status)).
			Str("callback_status", status).
			Msg("Payment callback left order unchanged")
		return &CallbackResult{OrderID: order.ID, Outcome: CallbackIgnored}, nil
	}

	log.Info().Str("order_id", order.ID.String()).Str("callback_status", status).Msg("Payment cancelled")
	publish(ctx, s.events, s.clock, events.PaymentCancelled, map[string]any{
		"order_id": order.ID,
		"user_id":  order.UserID,
		"status":   status,
	})
	return &CallbackResult{OrderID: order.ID, Outcome: CallbackCancelled}, nil
}

// CreatePayment records a pending order with the current FX snapshot and
// asks the provider for a payment URL. A provider failure cancels the order
// and returns model.ErrGateway; no ledger row is written either way.
func (s *PaymentService) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	if req.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive, got %d", model.ErrValidation, req.AmountMinor)
	}
	structure := req.StructureType
	if structure == "" {
		structure = model.StructurePrimary
	}
	if !structure.Valid() {
		return nil, fmt.Errorf("%w: unknown structure type %q", model.ErrValidation, structure)
	}

	items := req.Items
	if len(items) == 0 {
		items = []*model.OrderItem{{PriceMinor: req.AmountMinor, Qty: 1, IsActivationSnapshot: req.Activation}}
	}
	var total int64
	for _, item := range items {
		if item.Qty <= 0 || item.PriceMinor < 0 {
			return nil, fmt.Errorf("%w: order lines need a positive quantity and a non-negative price", model.ErrValidation)
		}
		total += item.LineTotal()
	}
	if total != req.AmountMinor {
		return nil, fmt.Errorf("%w: line total %d does not match amount %d", model.ErrValidation, total, req.AmountMinor)
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = defaultPaymentDescription
	}
	rate := s.fx.Rate()
	gatewayAmount := s.fx.ToGateway(req.AmountMinor, rate)

	order, err := s.orders.Create(ctx, &model.Order{
		UserID:          req.UserID,
		Status:          model.OrderPending,
		StructureType:   structure,
		TotalMinor:      req.AmountMinor,
		Currency:        s.currency,
		GatewayAmount:   gatewayAmount,
		GatewayCurrency: s.gatewayCurrency,
		FxRate:          &rate,
		Description:     description,
	}, items)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	url, err := s.initiator.InitPayment(ctx, gateway.InitRequest{
		OrderID:     order.ID,
		Amount:      gatewayAmount,
		Currency:    s.gatewayCurrency,
		Description: description,
	})
	if err != nil {
		if _, cancelErr := s.orders.Cancel(ctx, order.ID); cancelErr != nil {
			log.Error().Err(cancelErr).Str("order_id", order.ID.String()).Msg("Failed to cancel order after gateway error")
		}
		log.Error().Err(err).Str("order_id", order.ID.String()).Msg("Payment initiation failed")
		if !errors.Is(err, model.ErrGateway) {
			err = fmt.Errorf("%w: %v", model.ErrGateway, err)
		}
		return nil, err
	}

	return &CreatePaymentResult{
		OrderID:         order.ID,
		PaymentURL:      url,
		GatewayAmount:   gatewayAmount,
		GatewayCurrency: s.gatewayCurrency,
	}, nil
}

// RetryCommission re-runs distribution for a paid order. Levels already
// credited come back as duplicates.
func (s *PaymentService) RetryCommission(ctx context.Context, orderID uuid.UUID) (*DistributionResult, error) {
	if s.commissions == nil {
		return nil, fmt.Errorf("%w: commission engine not configured", model.ErrValidation)
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != model.OrderPaid {
		return nil, fmt.Errorf("%w: order %s is %s, not paid", model.ErrValidation, orderID, order.Status)
	}

	purchaseType := model.TxTypePurchase
	rows, err := s.ledger.List(ctx, order.UserID, model.TransactionFilter{
		Type:     &purchaseType,
		SourceID: &order.ID,
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: purchase row for order %s", model.ErrIntegrity, orderID)
	}

	s.refreshActivation(ctx, order.UserID)
	return s.commissions.Distribute(ctx, Purchase{
		ID:            order.ID,
		BuyerID:       order.UserID,
		AmountMinor:   -rows[0].AmountMinor,
		StructureType: order.StructureType,
		Currency:      rows[0].Currency,
	})
}

func (s *PaymentService) refreshActivation(ctx context.Context, userID uuid.UUID) {
	if s.activation == nil {
		return
	}
	if _, err := s.activation.Refresh(ctx, userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to refresh activation")
	}
}
