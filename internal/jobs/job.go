// Package jobs registers the periodic sweeps and runs them from cron or on
// demand.
package jobs

import (
	"context"
	"errors"
)

// Job names.
const (
	AutoWithdrawals    = "auto-withdrawals"
	ReleaseFrozenFunds = "release-frozen-funds"
)

// ErrUnknownJob is returned for a name that is not registered.
var ErrUnknownJob = errors.New("unknown job")

// Job is a sweep that can be triggered by name. Run must be safe to invoke
// concurrently with itself.
type Job interface {
	Name() string
	Run(ctx context.Context) (any, error)
}

// Counter is implemented by job outputs that report headline counts, such
// as processed or released.
type Counter interface {
	Counts() map[string]int
}

type funcJob struct {
	name string
	fn   func(ctx context.Context) (any, error)
}

func (j funcJob) Name() string                         { return j.name }
func (j funcJob) Run(ctx context.Context) (any, error) { return j.fn(ctx) }

// Func adapts fn into a Job.
func Func(name string, fn func(ctx context.Context) (any, error)) Job {
	return funcJob{name: name, fn: fn}
}
