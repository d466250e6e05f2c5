package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/clock"
)

// MonthWindow computes calendar month bounds in a fixed location.
type MonthWindow struct {
	loc *time.Location
}

// NewMonthWindow creates a MonthWindow. A nil location means UTC.
func NewMonthWindow(loc *time.Location) *MonthWindow {
	if loc == nil {
		loc = time.UTC
	}
	return &MonthWindow{loc: loc}
}

// Start returns the first instant of the month containing t.
func (w *MonthWindow) Start(t time.Time) time.Time {
	loc := time.UTC
	if w != nil {
		loc = w.loc
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// Bounds returns [start of month, start of next month) around t.
func (w *MonthWindow) Bounds(t time.Time) (time.Time, time.Time) {
	start := w.Start(t)
	return start, start.AddDate(0, 1, 0)
}

// ActivationCache stores derived activation states for a short time. It is
// an optimization only; a miss or an error falls back to recomputation.
type ActivationCache interface {
	Get(ctx context.Context, userID uuid.UUID, period time.Time) (*model.ActivationState, bool, error)
	Set(ctx context.Context, state *model.ActivationState, ttl time.Duration) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// ActivationTracker derives the monthly activation state of a user from
// activation-flagged purchase lines. The state is recomputed, never
// patched, and resets at every month boundary.
type ActivationTracker struct {
	orders   OrderStore
	members  NetworkStore
	cache    ActivationCache
	clock    clock.Clock
	months   *MonthWindow
	required int64
	ttl      time.Duration
}

// NewActivationTracker creates a new ActivationTracker. cache and members may be nil.
func NewActivationTracker(
	orders OrderStore,
	members NetworkStore,
	cache ActivationCache,
	c clock.Clock,
	months *MonthWindow,
	cfg config.ActivationConfig,
) *ActivationTracker {
	return &ActivationTracker{
		orders:   orders,
		members:  members,
		cache:    cache,
		clock:    c,
		months:   months,
		required: cfg.RequiredMinor,
		ttl:      cfg.CacheTTL,
	}
}

// Evaluate returns the user's activation state for the current month.
func (t *ActivationTracker) Evaluate(ctx context.Context, userID uuid.UUID) (*model.ActivationState, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", model.ErrValidation)
	}

	now := t.clock.Now()
	start, end := t.months.Bounds(now)

	if t.cache != nil {
		state, ok, err := t.cache.Get(ctx, userID, start)
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Activation cache read failed")
		} else if ok {
			return state, nil
		}
	}

	sum, err := t.orders.SumActivationPurchases(ctx, userID, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum activation purchases: %w", err)
	}

	state := &model.ActivationState{
		UserID:             userID,
		PeriodStart:        start,
		QualifyingSumMinor: sum,
		RequiredMinor:      t.required,
		Met:                sum >= t.required,
	}

	if t.cache != nil && t.ttl > 0 {
		if err := t.cache.Set(ctx, state, t.ttl); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Activation cache write failed")
		}
	}
	return state, nil
}

// IsActivated reports whether the user met this month's threshold.
func (t *ActivationTracker) IsActivated(ctx context.Context, userID uuid.UUID) (bool, error) {
	state, err := t.Evaluate(ctx, userID)
	if err != nil {
		return false, err
	}
	return state.Met, nil
}

// Refresh drops any cached state, recomputes it and mirrors the result
// onto the member's display status. An administratively frozen member
// keeps its status.
func (t *ActivationTracker) Refresh(ctx context.Context, userID uuid.UUID) (*model.ActivationState, error) {
	if t.cache != nil {
		if err := t.cache.Invalidate(ctx, userID); err != nil {
			log.Warn().Err(err).Str("user_id", userID.String()).Msg("Activation cache invalidate failed")
		}
	}

	state, err := t.Evaluate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if t.members == nil {
		return state, nil
	}

	member, err := t.members.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return state, nil
		}
		return nil, err
	}
	if member.ActivationStatus == model.ActivationFrozen {
		return state, nil
	}

	want := model.ActivationInactive
	if state.Met {
		want = model.ActivationActive
	}
	if member.ActivationStatus != want {
		if err := t.members.SetActivationStatus(ctx, userID, want); err != nil {
			return nil, fmt.Errorf("failed to update activation status: %w", err)
		}
	}
	return state, nil
}
