package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Idempotency key prefixes.
const (
	SourceRefGateway        = "gateway_"
	SourceRefAutoWithdrawal = "auto_withdrawal_"
	SourceRefCommission     = "commission_"
)

// GatewaySourceRef is the idempotency key of a settled gateway payment.
func GatewaySourceRef(externalTxnID string) string {
	return SourceRefGateway + externalTxnID
}

// AutoWithdrawalSourceRef is the idempotency key of an automatic withdrawal.
func AutoWithdrawalSourceRef(withdrawalID uuid.UUID) string {
	return SourceRefAutoWithdrawal + withdrawalID.String()
}

// CommissionSourceRef is unique per (purchase, ancestor, level).
func CommissionSourceRef(purchaseID, ancestorID uuid.UUID, level int) string {
	return fmt.Sprintf("%s%s_%s_%d", SourceRefCommission, purchaseID, ancestorID, level)
}

// Validate checks the shape of a transaction about to be appended.
// Field errors wrap ErrValidation; sign violations wrap ErrIntegrity.
func (t *Transaction) Validate() error {
	if t.UserID == uuid.Nil {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrValidation, t.Type)
	}
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}
	if strings.TrimSpace(t.Currency) == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	if t.AmountMinor == 0 {
		return fmt.Errorf("%w: amount must be non-zero", ErrValidation)
	}
	if t.SourceRef != nil && strings.TrimSpace(*t.SourceRef) == "" {
		return fmt.Errorf("%w: source_ref must not be blank when present", ErrValidation)
	}
	if t.StructureType != nil && !t.StructureType.Valid() {
		return fmt.Errorf("%w: unknown structure type %q", ErrValidation, *t.StructureType)
	}

	switch t.Type {
	case TxTypeCommission:
		if t.Level == nil || *t.Level < 1 {
			return fmt.Errorf("%w: commission rows need a level >= 1", ErrValidation)
		}
		if t.AmountMinor < 0 {
			return fmt.Errorf("%w: commission amount %d is negative", ErrIntegrity, t.AmountMinor)
		}
	case TxTypeBonus:
		if t.AmountMinor < 0 {
			return fmt.Errorf("%w: bonus amount %d is negative", ErrIntegrity, t.AmountMinor)
		}
	case TxTypeWithdrawal, TxTypePurchase:
		if t.AmountMinor > 0 {
			return fmt.Errorf("%w: %s amount %d must be a debit", ErrIntegrity, t.Type, t.AmountMinor)
		}
	}
	if t.Type != TxTypeCommission && t.Level != nil {
		return fmt.Errorf("%w: level is only set on commission rows", ErrValidation)
	}

	if t.Payload != nil && t.Payload.PayloadType() != t.Type {
		return fmt.Errorf("%w: %s payload on %s row", ErrValidation, t.Payload.PayloadType(), t.Type)
	}
	return nil
}
