package cache

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/model"
)

var march = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestActivationCache_SetAndGet(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewActivationCache(db, "nexus:")
	ctx := context.Background()

	state := &model.ActivationState{
		UserID: uuid.New(), PeriodStart: march, QualifyingSumMinor: 5000, RequiredMinor: 4000, Met: true,
	}
	raw, err := json.Marshal(state)
	require.NoError(t, err)
	key := "nexus:activation:" + state.UserID.String()

	mock.ExpectSet(key, raw, time.Minute).SetVal("OK")
	require.NoError(t, c.Set(ctx, state, time.Minute))

	mock.ExpectGet(key).SetVal(string(raw))
	got, ok, err := c.Get(ctx, state.UserID, march)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5000), got.QualifyingSumMinor)
	assert.True(t, got.Met)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivationCache_OtherMonthIsMiss(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewActivationCache(db, "")
	userID := uuid.New()

	raw, err := json.Marshal(&model.ActivationState{UserID: userID, PeriodStart: march, Met: true})
	require.NoError(t, err)
	mock.ExpectGet("ledger:activation:" + userID.String()).SetVal(string(raw))

	_, ok, err := c.Get(context.Background(), userID, march.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivationCache_MissingKey(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewActivationCache(db, "")
	userID := uuid.New()

	mock.ExpectGet("ledger:activation:" + userID.String()).RedisNil()
	_, ok, err := c.Get(context.Background(), userID, march)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestActivationCache_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewActivationCache(db, "")
	userID := uuid.New()
	key := "ledger:activation:" + userID.String()

	mock.ExpectGet(key).SetErr(errors.New("connection refused"))
	_, _, err := c.Get(context.Background(), userID, march)
	assert.Error(t, err)

	mock.ExpectGet(key).SetVal("{not json")
	_, _, err = c.Get(context.Background(), userID, march)
	assert.Error(t, err)

	mock.ExpectDel(key).SetVal(1)
	assert.NoError(t, c.Invalidate(context.Background(), userID))
	assert.NoError(t, mock.ExpectationsWereMet())
}
