package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"pushci/internal/core"
	"pushci/internal/logging"
	"pushci/internal/storage"
	"pushci/internal/webhook"
)

// MaxPushBody is the largest push payload accepted. GitHub caps webhook
// deliveries at 25 MB.
const MaxPushBody = 25 << 20

const (
	msgAccepted = "Push request accepted. Building repository..."
	msgZeroSHA  = "SHA was zero, no build was tested."
	msgIgnored  = "Event ignored."
)

// Dispatcher starts a build without waiting for it. *core.Scheduler is the
// implementation.
type Dispatcher interface {
	Dispatch(job core.Job)
}

// Verifier checks the integrity of the build ledger.
type Verifier interface {
	VerifyChain() error
}

// Metrics counts served requests and exposes the collected metrics.
type Metrics interface {
	ObserveRequest(method, route string, code int)
	Handler() http.Handler
}

// Server is the HTTP face of the CI server.
type Server struct {
	dispatcher Dispatcher
	logs       *storage.LogStorage
	ledger     Verifier
	metrics    Metrics
	mainBranch string
	console    *slog.Logger
}

func New(dispatcher Dispatcher, logs *storage.LogStorage, mainBranch string, console *slog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		logs:       logs,
		mainBranch: mainBranch,
		console:    logging.Ensure(console),
	}
}

// SetLedger enables GET /ledger/verify.
func (s *Server) SetLedger(v Verifier) {
	s.ledger = v
}

// SetMetrics enables GET /metrics and request counting.
func (s *Server) SetMetrics(m Metrics) {
	s.metrics = m
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Post("/push", s.handlePush)
	r.Get("/logs/{sha}", s.handleLog)
	r.Get("/ledger/verify", s.handleVerifyLedger)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// POST /push
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if event := r.Header.Get(webhook.EventHeader); event != "" && event != "push" {
		s.console.Debug("ignoring webhook event", "event", event)
		writeText(w, http.StatusOK, msgIgnored)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPushBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeText(w, http.StatusRequestEntityTooLarge, "Payload too large.")
			return
		}
		writeText(w, http.StatusBadRequest, "Could not read request body.")
		return
	}

	push, err := webhook.DecodePush(data)
	if err != nil {
		s.console.Warn("rejected push payload", "error", err)
		writeText(w, http.StatusBadRequest, "Invalid push payload.")
		return
	}

	if push.IsDeletion() {
		s.console.Info("push without a head commit", "repository", push.Repository.FullName, "ref", push.Ref)
		writeText(w, http.StatusOK, msgZeroSHA)
		return
	}

	s.dispatcher.Dispatch(push.Job(s.mainBranch))
	writeText(w, http.StatusAccepted, msgAccepted)
}

// GET /logs/{sha}
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	sha := chi.URLParam(r, "sha")
	if !storage.ValidKey(sha) {
		writeText(w, http.StatusBadRequest, "invalid commit id")
		return
	}

	data, err := s.logs.Read(sha)
	if errors.Is(err, storage.ErrLogNotFound) {
		writeText(w, http.StatusNotFound, "log not found")
		return
	}
	if err != nil {
		s.console.Error("could not read build log", "commit", sha, "error", err)
		writeText(w, http.StatusInternalServerError, "could not read log")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// GET /ledger/verify
func (s *Server) handleVerifyLedger(w http.ResponseWriter, _ *http.Request) {
	if s.ledger == nil {
		writeText(w, http.StatusNotFound, "ledger disabled")
		return
	}
	if err := s.ledger.VerifyChain(); err != nil {
		s.console.Error("ledger verification failed", "error", err)
		writeText(w, http.StatusInternalServerError, "ledger verification failed: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, "ledger verification ok")
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		if s.metrics != nil {
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			s.metrics.ObserveRequest(r.Method, route, ww.Status())
		}
		s.console.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeText(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, msg)
}
