package core

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"pushci/internal/logging"
	"pushci/internal/storage"
)

// Coordinator runs builds one at a time against the shared working copy:
// update, run tasks, classify, report.
type Coordinator struct {
	Updater  *Updater
	Pipeline *Pipeline
	Reporter Reporter
	Recorders []Recorder
	Logs     *storage.LogStorage
	Tasks    []Task
	LogURL   func(sha string) string

	// lock serialises every build in the process. Weight 1 makes it a mutex
	// with a non-blocking TryAcquire.
	lock    *semaphore.Weighted
	console *slog.Logger
}

// NewCoordinator wires a coordinator from the server config.
func NewCoordinator(cfg *Config, runner CommandRunner, logs *storage.LogStorage, reporter Reporter, console *slog.Logger) *Coordinator {
	return &Coordinator{
		Updater:  NewUpdater(runner, cfg.Workdir),
		Pipeline: NewPipeline(runner, cfg.Workdir),
		Reporter: reporter,
		Logs:     logs,
		Tasks:    cfg.Tasks,
		LogURL:   cfg.LogURL,
		lock:     semaphore.NewWeighted(1),
		console:  logging.Ensure(console),
	}
}

// AddRecorder attaches a recorder that receives every terminal result.
func (c *Coordinator) AddRecorder(r Recorder) {
	c.Recorders = append(c.Recorders, r)
}

// Run builds one job and returns its terminal result. It never fails: every
// problem is turned into the reported status. Exactly one terminal status is
// reported per call.
func (c *Coordinator) Run(ctx context.Context, job Job) BuildResult {
	console := c.console.With("build", job.ID, "repository", job.Repository, "branch", job.Branch)
	target := StatusTarget{
		Repository: job.Repository,
		CommitSHA:  job.CommitSHA,
		LogURL:     c.LogURL(job.CommitSHA),
	}

	if !c.lock.TryAcquire(1) {
		// The build log is opened only under the lock: opening truncates, and a
		// running build of the same commit may still be writing to it.
		waiting := c.Logs.ConsoleLog(job.CommitSHA)
		c.report(ctx, waiting, target, Waiting())
		if err := c.lock.Acquire(ctx, 1); err != nil {
			result := Cancelled()
			c.report(ctx, waiting, target, result)
			console.Warn("build cancelled while waiting for the working copy", "error", err)
			return result
		}
	}
	defer c.lock.Release(1)

	log, err := c.Logs.OpenForBuild(job.CommitSHA)
	if err != nil {
		console.Error("could not open build log, logging to console only", "error", err)
		log = c.Logs.ConsoleLog(job.CommitSHA)
	}

	c.report(ctx, log, target, Running())
	result := c.build(ctx, job, log)
	c.report(ctx, log, target, result)

	if err := log.Close(); err != nil {
		console.Warn("could not close build log", "error", err)
	}
	for _, r := range c.Recorders {
		if err := r.Record(job, result, log.Path()); err != nil {
			console.Warn("could not record build result", "error", err)
		}
	}
	console.Info("build finished", "status", result.Status.String(), "message", result.Message)
	return result
}

func (c *Coordinator) build(ctx context.Context, job Job, log LogWriter) BuildResult {
	if err := c.Updater.Update(ctx, log, job.CloneURL, job.Branch, job.MainBranch); err != nil {
		log.Append(err.Error())
		return UpdateFailed()
	}

	if err := c.Pipeline.RunAll(ctx, log, c.Tasks); err != nil {
		log.Append(err.Error())
		var failure *TaskFailure
		if errors.As(err, &failure) {
			return TaskFailed(failure.Task)
		}
		return BuildResult{StatusFailure, err.Error()}
	}
	return Succeeded()
}

// report writes the transition to the build log and sends it to the host.
func (c *Coordinator) report(ctx context.Context, log Appender, target StatusTarget, result BuildResult) {
	log.Append(result.String())
	c.Reporter.Report(ctx, log, target, result)
}
