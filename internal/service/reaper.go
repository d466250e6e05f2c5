package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/events"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

const defaultReaperBatch = 500

// ReleaseResult reports one frozen-funds sweep.
type ReleaseResult struct {
	Scanned     int      `json:"scanned"`
	Released    int      `json:"released"`
	Skipped     int      `json:"skipped"`
	Failed      int      `json:"failed"`
	Interrupted bool     `json:"interrupted"`
	Errors      []string `json:"errors,omitempty"`
}

// Counts reports the rows released.
func (r *ReleaseResult) Counts() map[string]int {
	return map[string]int{"released": r.Released}
}

// FrozenFundsReaper clears elapsed freeze windows. Balances already treat
// an elapsed window as available, so the sweep only tidies stored state.
type FrozenFundsReaper struct {
	ledger    LedgerStore
	events    events.Publisher
	clock     clock.Clock
	batchSize int
}

// NewFrozenFundsReaper creates a new FrozenFundsReaper instance.
func NewFrozenFundsReaper(ledger LedgerStore, publisher events.Publisher, c clock.Clock, batchSize int) *FrozenFundsReaper {
	if batchSize <= 0 {
		batchSize = defaultReaperBatch
	}
	return &FrozenFundsReaper{ledger: ledger, events: publisher, clock: c, batchSize: batchSize}
}

// Run releases at most one batch of matured rows. Rows released by an
// overlapping run count as skipped.
func (r *FrozenFundsReaper) Run(ctx context.Context) (*ReleaseResult, error) {
	now := r.clock.Now()

	ids, err := r.ledger.ListMatured(ctx, now, r.batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list matured transactions: %w", err)
	}

	result := &ReleaseResult{Scanned: len(ids)}
	var released []uuid.UUID
	for _, id := range ids {
		if ctx.Err() != nil {
			result.Interrupted = true
			break
		}

		ok, err := r.ledger.ReleaseFrozen(ctx, id, now)
		switch {
		case err != nil:
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", id, err))
			log.Error().Err(err).Str("transaction_id", id.String()).Msg("Failed to release frozen funds")
		case ok:
			result.Released++
			released = append(released, id)
		default:
			result.Skipped++
		}
	}

	if len(released) > 0 {
		publish(ctx, r.events, r.clock, events.FundsReleased, map[string]any{
			"transaction_ids": released,
			"released_at":     now,
		})
	}

	log.Info().
		Int("scanned", result.Scanned).
		Int("released", result.Released).
		Int("skipped", result.Skipped).
		Int("failed", result.Failed).
		Msg("Frozen funds sweep finished")
	return result, nil
}
