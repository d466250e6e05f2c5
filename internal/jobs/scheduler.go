package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// zerologPrintf bridges cron's Printf logger to zerolog.
type zerologPrintf struct{}

func (zerologPrintf) Printf(format string, v ...any) {
	log.Info().Str("component", "cron").Msgf(format, v...)
}

// Scheduler fires jobs on cron schedules through a Runner.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	parser cron.Parser
}

// NewScheduler creates a Scheduler using standard five-field expressions.
func NewScheduler(runner *Runner) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	logger := cron.PrintfLogger(zerologPrintf{})
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger)),
		),
		runner: runner,
		parser: parser,
	}
}

// Add schedules the named job. An empty spec leaves the job HTTP-only.
func (s *Scheduler) Add(spec, name string) error {
	if spec == "" {
		return nil
	}
	if _, ok := s.runner.Registry().Get(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}

	_, err := s.cron.AddFunc(spec, func() {
		// Failures are already logged by the runner.
		_, _ = s.runner.Run(context.Background(), name)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}
	log.Info().Str("job", name).Str("schedule", spec).Msg("Job scheduled")
	return nil
}

// Entries returns the number of scheduled jobs.
func (s *Scheduler) Entries() int { return len(s.cron.Entries()) }

// Start begins firing in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts new firings and waits for running ones until ctx ends.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		log.Warn().Msg("Scheduler stopped before running jobs finished")
	}
}
