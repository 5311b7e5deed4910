// Package metrics exposes build and request counters in the Prometheus text
// format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pushci/internal/core"
)

const namespace = "pushci"

// Metrics owns a private registry so tests and multiple servers in one
// process do not collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	builds    *prometheus.CounterVec
	lastBuild *prometheus.GaugeVec
	requests  *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "builds_total",
			Help:      "Counts finished builds by repository and status.",
		}, []string{"repository", "status"}),
		lastBuild: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_build_timestamp_seconds",
			Help:      "Unix time the last build of a repository finished.",
		}, []string{"repository"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Counts HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
	}
	m.Registry.MustRegister(m.builds, m.lastBuild, m.requests)
	return m
}

// Record counts a finished build. It satisfies core.Recorder.
func (m *Metrics) Record(job core.Job, result core.BuildResult, _ string) error {
	m.builds.WithLabelValues(job.Repository, result.Status.String()).Inc()
	m.lastBuild.WithLabelValues(job.Repository).Set(float64(time.Now().Unix()))
	return nil
}

// ObserveRequest counts one served request. route is the matched pattern, not
// the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveRequest(method, route string, code int) {
	m.requests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
