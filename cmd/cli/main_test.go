package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushci/internal/core"
	"pushci/internal/ledger"
	"pushci/internal/security"
	"pushci/internal/webhook"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand(io.Discard)
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTriggerPostsPushEvent(t *testing.T) {
	var (
		got    webhook.PushEvent
		header string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/push", r.URL.Path)
		header = r.Header.Get(webhook.EventHeader)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = io.WriteString(w, "Push request accepted. Building repository...")
	}))
	defer srv.Close()

	out, err := execute(t, "trigger", "--server", srv.URL,
		"--repo", "octo/hello", "--clone-url", "https://github.com/octo/hello.git",
		"--branch", "feature", "--sha", "abc123")

	require.NoError(t, err)
	assert.Equal(t, "Push request accepted. Building repository...\n", out)
	assert.Equal(t, "push", header)
	assert.Equal(t, "refs/heads/feature", got.Ref)
	assert.Equal(t, "abc123", got.After)
	assert.Equal(t, "octo/hello", got.Repository.FullName)
}

func TestTriggerRequiresRepository(t *testing.T) {
	_, err := execute(t, "trigger", "--server", "http://127.0.0.1:1", "--sha", "abc123")
	assert.Error(t, err)
}

func TestLogsPrintsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/logs/abc123" {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, "success: All tasks finished successfully.\n")
	}))
	defer srv.Close()

	out, err := execute(t, "logs", "abc123", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "success: All tasks finished successfully.\n", out)

	_, err = execute(t, "logs", "missing", "--server", srv.URL)
	assert.Error(t, err)
}

func TestLedgerCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.jsonl")
	kp, err := security.GenerateKeyPair()
	require.NoError(t, err)
	l, err := ledger.OpenLedger(path, kp)
	require.NoError(t, err)
	job := core.NewJob("https://example.com/octo/hello.git", "octo/hello", "feature", "0123456789abcdef", "main")
	require.NoError(t, l.Record(job, core.Succeeded(), ""))

	out, err := execute(t, "ledger", "verify", path)
	require.NoError(t, err)
	assert.Equal(t, "ledger verification ok (1 blocks)\n", out)

	out, err = execute(t, "ledger", "inspect", path)
	require.NoError(t, err)
	assert.Contains(t, out, "octo/hello")
	assert.Contains(t, out, "0123456")
	assert.Contains(t, out, "success")
}

func TestKeygen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keys")

	out, err := execute(t, "keygen", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "new key pair")

	out, err = execute(t, "keygen", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "existing key pair")
}
