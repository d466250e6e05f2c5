package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Func(ReleaseFrozenFunds, func(context.Context) (any, error) { return 1, nil })))
	require.NoError(t, r.Register(Func(AutoWithdrawals, func(context.Context) (any, error) { return 2, nil })))
	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(Func("", nil)))

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, []string{AutoWithdrawals, ReleaseFrozenFunds}, r.Names())

	_, ok := r.Get("nope")
	assert.False(t, ok)
}

func TestRunner_RunsAndReportsOutput(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Func("count", func(context.Context) (any, error) {
		return map[string]int{"processed": 3}, nil
	})))
	runner := NewRunner(r, time.Second)

	result, err := runner.Run(context.Background(), "count")
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, map[string]int{"processed": 3}, result.Output)

	_, err = runner.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownJob)
}

func TestRunner_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry()
	require.NoError(t, r.Register(Func("fail", func(context.Context) (any, error) { return nil, boom })))

	_, err := NewRunner(r, 0).Run(context.Background(), "fail")
	assert.ErrorIs(t, err, boom)
}

func TestRunner_AppliesTimeout(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Func("slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	_, err := NewRunner(r, 20*time.Millisecond).Run(context.Background(), "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunner_OverlappingTriggerIsSkipped(t *testing.T) {
	var (
		runs    atomic.Int32
		started = make(chan struct{})
		release = make(chan struct{})
	)
	r := NewRegistry()
	require.NoError(t, r.Register(Func("sweep", func(context.Context) (any, error) {
		runs.Add(1)
		close(started)
		<-release
		return nil, nil
	})))
	runner := NewRunner(r, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := runner.Run(context.Background(), "sweep")
		assert.NoError(t, err)
	}()
	<-started

	result, err := runner.Run(context.Background(), "sweep")
	require.NoError(t, err)
	assert.True(t, result.Skipped)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), runs.Load())
}

func TestScheduler_Add(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Func(AutoWithdrawals, func(context.Context) (any, error) { return nil, nil })))
	s := NewScheduler(NewRunner(r, 0))

	require.NoError(t, s.Add("0 3 * * *", AutoWithdrawals))
	require.NoError(t, s.Add("", AutoWithdrawals))
	assert.Error(t, s.Add("not a schedule", AutoWithdrawals))
	assert.ErrorIs(t, s.Add("@hourly", "missing"), ErrUnknownJob)
	assert.Equal(t, 1, s.Entries())

	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
