package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pushci/internal/core"
	"pushci/internal/github"
	"pushci/internal/ledger"
	"pushci/internal/logging"
	"pushci/internal/metrics"
	"pushci/internal/security"
	"pushci/internal/server"
	"pushci/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pushci-server: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		addr       string
		drain      time.Duration
	)

	cmd := &cobra.Command{
		Use:           "pushci-server",
		Short:         "Build every pushed commit and report its status",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Listen = addr
			}
			console, err := logging.New(cfg.LogFormat, cfg.LogLevel, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(console)
			return serve(cmd.Context(), cfg, drain, console)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pushci.yaml", "path to the server config")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides the config")
	cmd.Flags().DurationVar(&drain, "drain-timeout", 5*time.Minute, "how long shutdown waits for running builds")
	return cmd
}

func serve(ctx context.Context, cfg *core.Config, drain time.Duration, console *slog.Logger) error {
	logs := storage.NewLogStorage(cfg.LogDir, console.With("component", "buildlog"))
	reporter := github.NewStatusReporter(cfg.APIURL, cfg.Token)
	coordinator := core.NewCoordinator(cfg, core.NewExecutor(cfg.TaskTimeout), logs, reporter, console.With("component", "coordinator"))

	// builds are not tied to any request and survive a graceful shutdown
	// until the drain timeout runs out
	buildCtx, cancelBuilds := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBuilds()
	scheduler := core.NewScheduler(buildCtx, coordinator, console.With("component", "scheduler"))

	srv := server.New(scheduler, logs, cfg.MainBranch, console.With("component", "http"))

	m := metrics.New()
	coordinator.AddRecorder(m)
	srv.SetMetrics(m)

	if cfg.Ledger.Path != "" {
		keys, created, err := security.EnsureKeyPair(cfg.Ledger.KeyDir)
		if err != nil {
			return err
		}
		if created {
			console.Info("generated ledger signing keys", "dir", cfg.Ledger.KeyDir)
		}
		l, err := ledger.OpenLedger(cfg.Ledger.Path, keys)
		if err != nil {
			return err
		}
		if err := l.VerifyChain(); err != nil {
			console.Warn("ledger failed verification", "path", cfg.Ledger.Path, "error", err)
		}
		coordinator.AddRecorder(l)
		srv.SetLedger(l)
		console.Info("ledger enabled", "path", cfg.Ledger.Path, "blocks", l.NextIndex())
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		console.Info("listening", "addr", cfg.Listen, "tasks", len(cfg.Tasks), "main_branch", cfg.MainBranch)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
	case <-ctx.Done():
		console.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		console.Warn("http shutdown incomplete", "error", err)
	}

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drain)
	defer cancelDrain()
	err := scheduler.Wait(drainCtx)
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if err != nil {
		console.Warn("builds still running, cancelling them", "error", err)
		cancelBuilds()
		killCtx, cancelKill := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancelKill()
		return scheduler.Wait(killCtx)
	}
	return nil
}
