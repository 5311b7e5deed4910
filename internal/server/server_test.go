package server_test

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushci/internal/core"
	"pushci/internal/metrics"
	"pushci/internal/server"
	"pushci/internal/storage"
)

const headSHA = "2222222222222222222222222222222222222222"

const pushBody = `{
  "ref": "refs/heads/feature",
  "before": "1111111111111111111111111111111111111111",
  "after": "` + headSHA + `",
  "repository": {"full_name": "octo/hello", "clone_url": "https://github.com/octo/hello.git"}
}`

type recordingDispatcher struct {
	mu   sync.Mutex
	jobs []core.Job
}

func (d *recordingDispatcher) Dispatch(job core.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

type verifierFunc func() error

func (f verifierFunc) VerifyChain() error { return f() }

func setup(t *testing.T) (*server.Server, *recordingDispatcher, *storage.LogStorage) {
	t.Helper()
	console := slog.New(slog.NewTextHandler(io.Discard, nil))
	logs := storage.NewLogStorage(t.TempDir(), console)
	dispatcher := &recordingDispatcher{}
	return server.New(dispatcher, logs, "main", console), dispatcher, logs
}

func do(h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPushIsAcceptedAndDispatched(t *testing.T) {
	srv, dispatcher, _ := setup(t)

	rec := do(srv.Handler(), http.MethodPost, "/push", pushBody, map[string]string{"X-GitHub-Event": "push"})

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Push request accepted. Building repository...", rec.Body.String())
	require.Len(t, dispatcher.jobs, 1)
	job := dispatcher.jobs[0]
	assert.Equal(t, headSHA, job.CommitSHA)
	assert.Equal(t, "feature", job.Branch)
	assert.Equal(t, "main", job.MainBranch)
	assert.Equal(t, "octo/hello", job.Repository)
}

func TestPushWithoutEventHeaderIsAccepted(t *testing.T) {
	srv, dispatcher, _ := setup(t)

	rec := do(srv.Handler(), http.MethodPost, "/push", pushBody, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, dispatcher.jobs, 1)
}

func TestPushOfDeletedBranchIsNotBuilt(t *testing.T) {
	srv, dispatcher, _ := setup(t)
	body := strings.Replace(pushBody, headSHA, strings.Repeat("0", 40), 1)

	rec := do(srv.Handler(), http.MethodPost, "/push", body, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SHA was zero, no build was tested.", rec.Body.String())
	assert.Empty(t, dispatcher.jobs)
}

func TestPingIsIgnored(t *testing.T) {
	srv, dispatcher, _ := setup(t)

	rec := do(srv.Handler(), http.MethodPost, "/push", `{"zen":"Keep it logically awesome."}`, map[string]string{"X-GitHub-Event": "ping"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Event ignored.", rec.Body.String())
	assert.Empty(t, dispatcher.jobs)
}

func TestMalformedPushIsRejected(t *testing.T) {
	srv, dispatcher, _ := setup(t)

	for _, body := range []string{`{"ref":`, `{}`, `[]`} {
		rec := do(srv.Handler(), http.MethodPost, "/push", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, dispatcher.jobs)
}

func TestOversizedPushIsRejected(t *testing.T) {
	srv, dispatcher, _ := setup(t)
	body := `{"pad":"` + strings.Repeat("x", server.MaxPushBody) + `"}`

	rec := do(srv.Handler(), http.MethodPost, "/push", body, nil)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, dispatcher.jobs)
}

func TestGetLog(t *testing.T) {
	srv, _, logs := setup(t)
	log, err := logs.OpenForBuild(headSHA)
	require.NoError(t, err)
	log.Append("pending: Running tasks...")
	log.Append("success: All tasks finished successfully.")
	require.NoError(t, log.Close())

	rec := do(srv.Handler(), http.MethodGet, "/logs/"+headSHA, "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "pending: Running tasks...\nsuccess: All tasks finished successfully.\n", rec.Body.String())
}

func TestGetLogErrors(t *testing.T) {
	srv, _, _ := setup(t)
	h := srv.Handler()

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/logs/"+headSHA, "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/logs/..%2Fsecret", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/logs/abc.def", "", nil).Code)
}

func TestVerifyLedger(t *testing.T) {
	srv, _, _ := setup(t)

	rec := do(srv.Handler(), http.MethodGet, "/ledger/verify", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	srv.SetLedger(verifierFunc(func() error { return nil }))
	rec = do(srv.Handler(), http.MethodGet, "/ledger/verify", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ledger verification ok", rec.Body.String())

	srv.SetLedger(verifierFunc(func() error { return errors.New("hash mismatch at index 3") }))
	rec = do(srv.Handler(), http.MethodGet, "/ledger/verify", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "hash mismatch at index 3")
}

func TestHealthz(t *testing.T) {
	srv, _, _ := setup(t)

	rec := do(srv.Handler(), http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestUnknownMethod(t *testing.T) {
	srv, _, _ := setup(t)

	rec := do(srv.Handler(), http.MethodGet, "/push", "", nil)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsCountRoutes(t *testing.T) {
	srv, _, _ := setup(t)
	srv.SetMetrics(metrics.New())
	h := srv.Handler()

	do(h, http.MethodPost, "/push", pushBody, nil)
	do(h, http.MethodGet, "/logs/"+headSHA, "", nil)
	do(h, http.MethodGet, "/logs/"+headSHA, "", nil)

	rec := do(h, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pushci_http_requests_total{code="202",method="POST",route="/push"} 1`)
	assert.Contains(t, body, `pushci_http_requests_total{code="404",method="GET",route="/logs/{sha}"} 2`)
}
