package core

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"pushci/internal/logging"
)

// Builder runs one build to completion. *Coordinator is the implementation.
type Builder interface {
	Run(ctx context.Context, job Job) BuildResult
}

// Scheduler hands accepted jobs to background goroutines so intake never waits
// for a build.
type Scheduler struct {
	builder Builder
	ctx     context.Context
	group   errgroup.Group
	console *slog.Logger
}

// NewScheduler creates a scheduler whose builds run under ctx, never under a
// request context: a build outlives the push that caused it. Cancelling ctx
// kills running commands and abandons builds still waiting for the lock.
func NewScheduler(ctx context.Context, builder Builder, console *slog.Logger) *Scheduler {
	return &Scheduler{
		builder: builder,
		ctx:     ctx,
		console: logging.Ensure(console),
	}
}

// Dispatch starts job in the background and returns immediately.
func (s *Scheduler) Dispatch(job Job) {
	s.console.Info("build dispatched", "build", job.ID, "repository", job.Repository, "commit", job.CommitSHA)
	s.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				s.console.Error("build panicked", "build", job.ID, "panic", fmt.Sprint(r))
				err = fmt.Errorf("build %s panicked: %v", job.ID, r)
			}
		}()
		s.builder.Run(s.ctx, job)
		return nil
	})
}

// Wait blocks until every dispatched build has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
