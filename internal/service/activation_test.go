package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/config"
	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

func TestActivation_ResetsAtMonthBoundary(t *testing.T) {
	h := newHarness(t)
	userID := h.chain(t, 1)[0]

	order := h.pendingOrder(t, userID, 5000, true)
	h.store.Orders().MarkPaid(order.ID, testNow)

	state, err := h.activation.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, state.Met)
	assert.Equal(t, int64(5000), state.QualifyingSumMinor)
	assert.Equal(t, int64(0), state.RemainingMinor())

	h.clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	state, err = h.activation.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, state.Met)
	assert.Equal(t, int64(0), state.QualifyingSumMinor)
	assert.Equal(t, int64(4000), state.RemainingMinor())
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), state.PeriodStart)
}

func TestActivation_OnlySnapshotFlaggedLinesCount(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()

	order, err := h.store.Orders().Create(context.Background(), &model.Order{
		UserID: userID, Status: model.OrderPending, StructureType: model.StructurePrimary, TotalMinor: 6000, Currency: "USD",
	}, []*model.OrderItem{
		{PriceMinor: 1500, Qty: 2, IsActivationSnapshot: true},
		{PriceMinor: 3000, Qty: 1, IsActivationSnapshot: false},
	})
	require.NoError(t, err)
	h.store.Orders().MarkPaid(order.ID, testNow)

	pending := h.pendingOrder(t, userID, 9000, true)
	require.Equal(t, model.OrderPending, pending.Status)

	state, err := h.activation.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), state.QualifyingSumMinor)
	assert.False(t, state.Met)
}

func TestActivation_MonthWindowUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	w := NewMonthWindow(loc)

	// 2026-03-31 20:00 UTC is already April in UTC+5.
	start, end := w.Bounds(time.Date(2026, 3, 31, 20, 0, 0, 0, time.UTC))
	assert.True(t, start.Equal(time.Date(2026, 4, 1, 0, 0, 0, 0, loc)))
	assert.True(t, end.Equal(time.Date(2026, 5, 1, 0, 0, 0, 0, loc)))
}

func TestActivation_RefreshMirrorsStatus(t *testing.T) {
	h := newHarness(t)
	ids := h.chain(t, 2)

	order := h.pendingOrder(t, ids[0], 4000, true)
	h.store.Orders().MarkPaid(order.ID, testNow)

	_, err := h.activation.Refresh(context.Background(), ids[0])
	require.NoError(t, err)
	m, err := h.store.Members().Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.ActivationActive, m.ActivationStatus)

	require.NoError(t, h.store.Members().SetActivationStatus(context.Background(), ids[1], model.ActivationFrozen))
	order = h.pendingOrder(t, ids[1], 4000, true)
	h.store.Orders().MarkPaid(order.ID, testNow)

	state, err := h.activation.Refresh(context.Background(), ids[1])
	require.NoError(t, err)
	assert.True(t, state.Met)
	m, err = h.store.Members().Get(context.Background(), ids[1])
	require.NoError(t, err)
	assert.Equal(t, model.ActivationFrozen, m.ActivationStatus)

	h.clock.Set(time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC))
	_, err = h.activation.Refresh(context.Background(), ids[0])
	require.NoError(t, err)
	m, err = h.store.Members().Get(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, model.ActivationInactive, m.ActivationStatus)
}

// mapCache is an in-process ActivationCache.
type mapCache struct {
	mu     sync.Mutex
	states map[uuid.UUID]*model.ActivationState
}

func (c *mapCache) Get(_ context.Context, userID uuid.UUID, period time.Time) (*model.ActivationState, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.states[userID]
	if !ok || !s.PeriodStart.Equal(period) {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (c *mapCache) Set(_ context.Context, s *model.ActivationState, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	c.states[s.UserID] = &cp
	return nil
}

func (c *mapCache) Invalidate(_ context.Context, userID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, userID)
	return nil
}

func TestActivation_CacheServesUntilRefresh(t *testing.T) {
	h := newHarness(t)
	userID := uuid.New()
	cache := &mapCache{states: make(map[uuid.UUID]*model.ActivationState)}
	tracker := NewActivationTracker(h.store.Orders(), nil, cache, h.clock, NewMonthWindow(time.UTC),
		config.ActivationConfig{RequiredMinor: 4000, CacheTTL: time.Minute})

	state, err := tracker.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, state.Met)

	order := h.pendingOrder(t, userID, 4000, true)
	h.store.Orders().MarkPaid(order.ID, testNow)

	state, err = tracker.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, state.Met, "cached state is served until refreshed")

	state, err = tracker.Refresh(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, state.Met)

	h.clock.Set(time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))
	state, err = tracker.Evaluate(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, state.Met, "a new month never reads last month's cache entry")
}
