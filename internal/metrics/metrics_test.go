package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pushci/internal/core"
	"pushci/internal/metrics"
)

func TestRecordCountsBuildsByStatus(t *testing.T) {
	m := metrics.New()
	job := core.NewJob("https://example.com/octo/hello.git", "octo/hello", "main", "abc", "main")

	require.NoError(t, m.Record(job, core.Succeeded(), ""))
	require.NoError(t, m.Record(job, core.Succeeded(), ""))
	require.NoError(t, m.Record(job, core.TaskFailed("test"), ""))

	assert.Equal(t, 2, testutil.CollectAndCount(m.Registry, "pushci_builds_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Registry, "pushci_last_build_timestamp_seconds"))

	body := scrape(t, m)
	assert.Contains(t, body, `pushci_builds_total{repository="octo/hello",status="success"} 2`)
	assert.Contains(t, body, `pushci_builds_total{repository="octo/hello",status="failure"} 1`)
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHandlerServesTextFormat(t *testing.T) {
	m := metrics.New()
	m.ObserveRequest(http.MethodPost, "/push", http.StatusAccepted)

	assert.Contains(t, scrape(t, m), `pushci_http_requests_total{code="202",method="POST",route="/push"} 1`)
}
