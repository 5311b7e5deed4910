package core_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"pushci/internal/core"
	"pushci/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// call is one command seen by fakeRunner.
type call struct {
	dir string
	out io.Writer
	cmd string
}

// fakeRunner records every command instead of running it. Commands listed in
// fail exit non-zero; output is printed to the command's writer.
type fakeRunner struct {
	mu     sync.Mutex
	calls  []call
	fail   map[string]bool
	output map[string]string
	hook   func(cmd string)

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{fail: map[string]bool{}, output: map[string]string{}}
}

func (f *fakeRunner) Run(_ context.Context, dir string, out io.Writer, name string, args ...string) error {
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		peak := f.maxInflight.Load()
		if n <= peak || f.maxInflight.CompareAndSwap(peak, n) {
			break
		}
	}

	cmd := strings.Join(append([]string{name}, args...), " ")
	f.mu.Lock()
	f.calls = append(f.calls, call{dir: dir, out: out, cmd: cmd})
	fail := f.fail[cmd]
	text := f.output[cmd]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	if text != "" {
		_, _ = io.WriteString(out, text)
	}
	if fail {
		return errors.New("exit status 1")
	}
	return nil
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func (f *fakeRunner) Commands() []string {
	var cmds []string
	for _, c := range f.Calls() {
		cmds = append(cmds, c.cmd)
	}
	return cmds
}

// report is one status seen by fakeReporter.
type report struct {
	target core.StatusTarget
	result core.BuildResult
}

type fakeReporter struct {
	mu      sync.Mutex
	reports []report
}

func (r *fakeReporter) Report(_ context.Context, _ core.Appender, target core.StatusTarget, result core.BuildResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report{target: target, result: result})
}

// For returns the results reported for one commit, in order.
func (r *fakeReporter) For(sha string) []core.BuildResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	var results []core.BuildResult
	for _, rep := range r.reports {
		if rep.target.CommitSHA == sha {
			results = append(results, rep.result)
		}
	}
	return results
}

// memLog is an in-memory core.LogWriter.
type memLog struct {
	mu    sync.Mutex
	lines []string
}

func (m *memLog) Append(line string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, line)
}

func (m *memLog) Write(p []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		m.Append(line)
	}
	return len(p), nil
}

func (m *memLog) Flush() {}

func (m *memLog) Lines() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines...)
}

func newCoordinator(t *testing.T, runner core.CommandRunner, reporter core.Reporter, tasks []core.Task) (*core.Coordinator, *storage.LogStorage) {
	t.Helper()
	dir := t.TempDir()
	cfg := &core.Config{
		BaseURL:    "http://ci.example.com",
		MainBranch: "main",
		Workdir:    filepath.Join(dir, "work", "target_repo"),
		Tasks:      tasks,
	}
	logs := storage.NewLogStorage(filepath.Join(dir, "logs"), quietLogger())
	return core.NewCoordinator(cfg, runner, logs, reporter, quietLogger()), logs
}

func testJob(sha string) core.Job {
	return core.NewJob("https://example.com/octo/hello.git", "octo/hello", "feature", sha, "main")
}
