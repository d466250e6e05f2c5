package model

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payload is the typed metadata attached to a transaction. Each transaction
// type has exactly one payload shape.
type Payload interface {
	PayloadType() TxType
}

// CommissionPayload records how a commission row was computed.
type CommissionPayload struct {
	BuyerID             uuid.UUID       `json:"buyer_id"`
	PurchaseAmountMinor int64           `json:"purchase_amount_minor"`
	Percent             decimal.Decimal `json:"percent"`
	PlanID              string          `json:"plan_id"`
}

// PayloadType implements Payload.
func (CommissionPayload) PayloadType() TxType { return TxTypeCommission }

// PurchasePayload records the gateway side of a settled payment.
type PurchasePayload struct {
	Gateway              string          `json:"gateway"`
	GatewayTransactionID string          `json:"gateway_transaction_id"`
	GatewayAmount        decimal.Decimal `json:"gateway_amount"`
	GatewayCurrency      string          `json:"gateway_currency"`
	FxRate               decimal.Decimal `json:"fx_rate"`
}

// PayloadType implements Payload.
func (PurchasePayload) PayloadType() TxType { return TxTypePurchase }

// WithdrawalPayload links a withdrawal row to its request.
type WithdrawalPayload struct {
	WithdrawalID uuid.UUID  `json:"withdrawal_id"`
	MethodID     *uuid.UUID `json:"method_id,omitempty"`
	FeeMinor     int64      `json:"fee_minor"`
	Trigger      string     `json:"trigger"`
	Period       string     `json:"period,omitempty"`
}

// PayloadType implements Payload.
func (WithdrawalPayload) PayloadType() TxType { return TxTypeWithdrawal }

// BonusPayload explains a manual or promotional credit.
type BonusPayload struct {
	Reason string `json:"reason"`
}

// PayloadType implements Payload.
func (BonusPayload) PayloadType() TxType { return TxTypeBonus }

// AdjustmentPayload explains a manual correction.
type AdjustmentPayload struct {
	Reason   string `json:"reason"`
	Operator string `json:"operator,omitempty"`
}

// PayloadType implements Payload.
func (AdjustmentPayload) PayloadType() TxType { return TxTypeAdjustment }

// EncodePayload serializes p for storage. A nil payload encodes to nil.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", p.PayloadType(), err)
	}
	return raw, nil
}

// DecodePayload parses raw into the payload shape registered for t.
func DecodePayload(t TxType, raw []byte) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var (
		p   Payload
		err error
	)
	switch t {
	case TxTypeCommission:
		var v CommissionPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxTypePurchase:
		var v PurchasePayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxTypeWithdrawal:
		var v WithdrawalPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxTypeBonus:
		var v BonusPayload
		err = json.Unmarshal(raw, &v)
		p = v
	case TxTypeAdjustment:
		var v AdjustmentPayload
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown transaction type %q", ErrValidation, t)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", t, err)
	}
	return p, nil
}
