// Package service implements the ledger and commission core: balance reads,
// the sponsor graph, commission fan-out, monthly activation, auto-withdrawal
// and frozen-funds sweeps, and payment settlement.
package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

// LedgerService reads and appends ledger rows.
type LedgerService struct {
	store        LedgerStore
	clock        clock.Clock
	defaultLimit int
	maxLimit     int
}

// NewLedgerService creates a new LedgerService instance.
func NewLedgerService(store LedgerStore, c clock.Clock, cfg config.LedgerConfig) *LedgerService {
	defaultLimit, maxLimit := cfg.ListDefaultLimit, cfg.ListMaxLimit
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	if maxLimit < defaultLimit {
		maxLimit = defaultLimit
	}
	return &LedgerService{store: store, clock: c, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// Append records tx. A repeated source_ref yields the first row and
// model.ErrDuplicateEvent, which callers treat as success.
func (s *LedgerService) Append(ctx context.Context, tx *model.Transaction) (*model.Transaction, error) {
	return s.store.Append(ctx, tx)
}

// GetBalance derives the user's balance at the current time.
func (s *LedgerService) GetBalance(ctx context.Context, userID uuid.UUID) (*model.Balance, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	return s.store.GetBalance(ctx, userID, s.clock.Now())
}

// ListTransactions returns one page of the user's rows, newest first.
func (s *LedgerService) ListTransactions(ctx context.Context, userID uuid.UUID, filter model.TransactionFilter) ([]*model.Transaction, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}
	if filter.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", model.ErrValidation)
	}
	if filter.Type != nil && !filter.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q", model.ErrValidation, *filter.Type)
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", model.ErrValidation, *filter.Status)
	}
	if filter.From != nil && filter.To != nil && filter.To.Before(*filter.From) {
		return nil, fmt.Errorf("%w: to is before from", model.ErrValidation)
	}

	switch {
	case filter.Limit <= 0:
		filter.Limit = s.defaultLimit
	case filter.Limit > s.maxLimit:
		filter.Limit = s.maxLimit
	}
	return s.store.List(ctx, userID, filter)
}
