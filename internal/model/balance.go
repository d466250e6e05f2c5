package model

import (
	"time"

	"github.com/google/uuid"
)

// Balance is derived from the transaction log at read time. It is never
// stored as authoritative state.
type Balance struct {
	UserID         uuid.UUID `json:"user_id"`
	AvailableMinor int64     `json:"available_minor"`
	FrozenMinor    int64     `json:"frozen_minor"`
	PendingMinor   int64     `json:"pending_minor"`
	WithdrawnMinor int64     `json:"withdrawn_minor"`
	// InFlightWithdrawalMinor is the (non-positive) sum of processing
	// withdrawal rows, already included in PendingMinor.
	InFlightWithdrawalMinor int64     `json:"in_flight_withdrawal_minor"`
	AsOf                    time.Time `json:"as_of"`
}

// WithdrawableMinor is the available amount minus withdrawals still in flight.
func (b *Balance) WithdrawableMinor() int64 {
	return b.AvailableMinor + b.InFlightWithdrawalMinor
}

// Apply folds one transaction into the balance as of b.AsOf.
func (b *Balance) Apply(tx *Transaction) {
	switch tx.Status {
	case TxStatusCompleted:
		if tx.IsFrozenAt(b.AsOf) {
			b.FrozenMinor += tx.AmountMinor
		} else {
			b.AvailableMinor += tx.AmountMinor
		}
		if tx.Type == TxTypeWithdrawal {
			b.WithdrawnMinor += tx.AmountMinor
		}
	case TxStatusProcessing:
		b.PendingMinor += tx.AmountMinor
		if tx.Type == TxTypeWithdrawal {
			b.InFlightWithdrawalMinor += tx.AmountMinor
		}
	}
}

// FoldBalance derives a user's balance from their rows as of now.
// Rows belonging to other users are ignored.
func FoldBalance(userID uuid.UUID, txs []*Transaction, now time.Time) Balance {
	b := Balance{UserID: userID, AsOf: now}
	for _, tx := range txs {
		if tx.UserID != userID {
			continue
		}
		b.Apply(tx)
	}
	return b
}
