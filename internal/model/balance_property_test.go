// Package model property-based tests for balance derivation.
package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"pgregory.net/rapid"
)

var (
	allTypes    = []TxType{TxTypeCommission, TxTypeBonus, TxTypeWithdrawal, TxTypeAdjustment, TxTypePurchase}
	allStatuses = []TxStatus{TxStatusPending, TxStatusProcessing, TxStatusCompleted, TxStatusFailed, TxStatusFrozen}
)

// genTransaction draws a transaction for userID with a frozen_until around now.
func genTransaction(t *rapid.T, userID uuid.UUID, now time.Time) *Transaction {
	tx := &Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Type:        rapid.SampledFrom(allTypes).Draw(t, "type"),
		Status:      rapid.SampledFrom(allStatuses).Draw(t, "status"),
		AmountMinor: rapid.Int64Range(-100000, 100000).Draw(t, "amount"),
		Currency:    "USD",
	}
	if rapid.Bool().Draw(t, "hasFrozenUntil") {
		offset := time.Duration(rapid.Int64Range(-3600, 3600).Draw(t, "frozenOffsetSec")) * time.Second
		until := now.Add(offset)
		tx.FrozenUntil = &until
	}
	return tx
}

// TestFoldBalanceMatchesDefinitionProperty checks the fold against a direct
// reading of the balance definition, one sum per field.
func TestFoldBalanceMatchesDefinitionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
		userID := uuid.New()
		otherID := uuid.New()

		n := rapid.IntRange(0, 40).Draw(t, "n")
		txs := make([]*Transaction, 0, n)
		for i := 0; i < n; i++ {
			owner := userID
			if rapid.IntRange(0, 4).Draw(t, "foreign") == 0 {
				owner = otherID
			}
			txs = append(txs, genTransaction(t, owner, now))
		}

		var available, frozen, pending, withdrawn, inFlight int64
		for _, tx := range txs {
			if tx.UserID != userID {
				continue
			}
			if tx.Status == TxStatusCompleted && (tx.FrozenUntil == nil || !tx.FrozenUntil.After(now)) {
				available += tx.AmountMinor
			}
			if tx.Status == TxStatusCompleted && tx.FrozenUntil != nil && tx.FrozenUntil.After(now) {
				frozen += tx.AmountMinor
			}
			if tx.Status == TxStatusProcessing {
				pending += tx.AmountMinor
			}
			if tx.Status == TxStatusCompleted && tx.Type == TxTypeWithdrawal {
				withdrawn += tx.AmountMinor
			}
			if tx.Status == TxStatusProcessing && tx.Type == TxTypeWithdrawal {
				inFlight += tx.AmountMinor
			}
		}

		b := FoldBalance(userID, txs, now)
		if b.AvailableMinor != available {
			t.Fatalf("available mismatch: expected %d, got %d", available, b.AvailableMinor)
		}
		if b.FrozenMinor != frozen {
			t.Fatalf("frozen mismatch: expected %d, got %d", frozen, b.FrozenMinor)
		}
		if b.PendingMinor != pending {
			t.Fatalf("pending mismatch: expected %d, got %d", pending, b.PendingMinor)
		}
		if b.WithdrawnMinor != withdrawn {
			t.Fatalf("withdrawn mismatch: expected %d, got %d", withdrawn, b.WithdrawnMinor)
		}
		if b.InFlightWithdrawalMinor != inFlight {
			t.Fatalf("in-flight mismatch: expected %d, got %d", inFlight, b.InFlightWithdrawalMinor)
		}
	})
}

// TestFoldBalanceOrderIndependentProperty checks that the fold does not
// depend on row order.
func TestFoldBalanceOrderIndependentProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Now().UTC()
		userID := uuid.New()
		n := rapid.IntRange(0, 30).Draw(t, "n")
		txs := make([]*Transaction, 0, n)
		for i := 0; i < n; i++ {
			txs = append(txs, genTransaction(t, userID, now))
		}

		perm := rapid.Permutation(txs).Draw(t, "perm")
		if FoldBalance(userID, txs, now) != FoldBalance(userID, perm, now) {
			t.Fatalf("fold depends on order")
		}
	})
}

func TestFoldBalance_ExpiredFreezeCountsAsAvailable(t *testing.T) {
	now := time.Now()
	userID := uuid.New()
	past := now.Add(-time.Second)
	future := now.Add(time.Hour)

	txs := []*Transaction{
		{UserID: userID, Type: TxTypeCommission, Status: TxStatusCompleted, AmountMinor: 1000, FrozenUntil: &past},
		{UserID: userID, Type: TxTypeCommission, Status: TxStatusCompleted, AmountMinor: 500, FrozenUntil: &future},
	}

	b := FoldBalance(userID, txs, now)
	if b.AvailableMinor != 1000 {
		t.Errorf("AvailableMinor = %d, want 1000", b.AvailableMinor)
	}
	if b.FrozenMinor != 500 {
		t.Errorf("FrozenMinor = %d, want 500", b.FrozenMinor)
	}
}
