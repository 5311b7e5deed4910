package core_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushci/internal/core"
	"pushci/internal/storage"
)

func openLog(t *testing.T) (*storage.LogStorage, *storage.BuildLog) {
	t.Helper()
	logs := storage.NewLogStorage(filepath.Join(t.TempDir(), "logs"), quietLogger())
	log, err := logs.OpenForBuild("executor")
	require.NoError(t, err)
	return logs, log
}

func readLog(t *testing.T, logs *storage.LogStorage, key string) string {
	t.Helper()
	data, err := logs.Read(key)
	require.NoError(t, err)
	return string(data)
}

func TestExecutorStreamsStdoutAndStderrInOrder(t *testing.T) {
	logs, log := openLog(t)
	executor := core.NewExecutor(0)

	err := executor.Run(context.Background(), t.TempDir(), log, "sh", "-c", "echo out; echo err 1>&2; echo out2")
	require.NoError(t, err)
	require.NoError(t, log.Close())

	assert.Equal(t, "out\nerr\nout2\n", readLog(t, logs, "executor"))
}

func TestExecutorRunsInDirectory(t *testing.T) {
	logs, log := openLog(t)
	dir := t.TempDir()
	executor := core.NewExecutor(0)

	require.NoError(t, executor.Run(context.Background(), dir, log, "pwd"))
	require.NoError(t, log.Close())

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(strings.TrimSpace(readLog(t, logs, "executor")))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestExecutorNonZeroExit(t *testing.T) {
	_, log := openLog(t)
	executor := core.NewExecutor(0)

	err := executor.Run(context.Background(), t.TempDir(), log, "sh", "-c", "exit 42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command failed")
}

func TestExecutorMissingCommand(t *testing.T) {
	_, log := openLog(t)
	executor := core.NewExecutor(0)

	err := executor.Run(context.Background(), t.TempDir(), log, "nonexistent-command-xyz123")
	assert.Error(t, err)
}

func TestExecutorTimeout(t *testing.T) {
	_, log := openLog(t)
	executor := core.NewExecutor(100 * time.Millisecond)

	start := time.Now()
	err := executor.Run(context.Background(), t.TempDir(), log, "sleep", "5")
	require.Error(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
}
