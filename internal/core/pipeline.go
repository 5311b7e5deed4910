package core

import (
	"context"
	"strings"
)

// TaskFailure is returned by RunAll for the first task that exited non-zero.
type TaskFailure struct {
	Task string
	Err  error
}

func (f *TaskFailure) Error() string {
	return "task " + f.Task + " failed: " + f.Err.Error()
}

func (f *TaskFailure) Unwrap() error {
	return f.Err
}

// Pipeline runs configured tasks inside the working copy
type Pipeline struct {
	Runner CommandRunner
	Dir    string
}

func NewPipeline(runner CommandRunner, dir string) *Pipeline {
	return &Pipeline{Runner: runner, Dir: dir}
}

// RunAll executes tasks in order and stops at the first failure, which it
// returns as a *TaskFailure. Tasks after the failing one never start.
func (p *Pipeline) RunAll(ctx context.Context, log LogWriter, tasks []Task) error {
	for _, task := range tasks {
		log.Append("==> " + task.Name)
		log.Append("$ " + strings.Join(append([]string{task.Command}, task.Args...), " "))

		err := p.Runner.Run(ctx, p.Dir, log, task.Command, task.Args...)
		log.Flush()
		if err != nil {
			return &TaskFailure{Task: task.Name, Err: err}
		}
	}
	return nil
}
