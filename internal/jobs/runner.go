package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/igorlevin49-blip/nexus-growth-layer/internal/pkg/lock"
)

// Result reports one trigger of a job.
type Result struct {
	Job       string        `json:"job"`
	Skipped   bool          `json:"skipped"`
	Output    any           `json:"output,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Runner executes registered jobs. A trigger that arrives while the same
// job is already running in this process is skipped; overlapping runs from
// other processes stay safe through the jobs' own idempotency.
type Runner struct {
	registry *Registry
	locks    *lock.KeyLock
	timeout  time.Duration
}

// NewRunner creates a new Runner. A zero timeout leaves ctx untouched.
func NewRunner(registry *Registry, timeout time.Duration) *Runner {
	return &Runner{registry: registry, locks: lock.NewKeyLock(), timeout: timeout}
}

// Registry returns the underlying registry.
func (r *Runner) Registry() *Registry { return r.registry }

// Run triggers the named job once.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	job, ok := r.registry.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}

	result := &Result{Job: name, StartedAt: time.Now()}
	ran, err := r.locks.WithTryLock("job:"+name, func() error {
		runCtx := ctx
		if r.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, r.timeout)
			defer cancel()
		}
		out, err := job.Run(runCtx)
		result.Output = out
		return err
	})
	result.Duration = time.Since(result.StartedAt)

	if !ran {
		result.Skipped = true
		log.Info().Str("job", name).Msg("Job already running, trigger skipped")
		return result, nil
	}
	if err != nil {
		log.Error().Err(err).Str("job", name).Dur("duration", result.Duration).Msg("Job failed")
		return result, fmt.Errorf("job %s: %w", name, err)
	}

	log.Info().Str("job", name).Dur("duration", result.Duration).Msg("Job finished")
	return result, nil
}
