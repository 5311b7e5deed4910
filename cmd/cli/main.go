package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pushci/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "pushci: %+v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(stderr io.Writer) *cobra.Command {
	var (
		logLevel string
		console  *slog.Logger
	)

	root := &cobra.Command{
		Use:           "pushci",
		Short:         "Operate a pushci server: trigger builds, read logs, check the ledger",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log verbosity (debug, info, warn, error)")
	root.PersistentPreRunE = func(*cobra.Command, []string) error {
		logger, err := logging.New("text", logLevel, stderr)
		if err != nil {
			return err
		}
		console = logger
		return nil
	}

	root.AddCommand(
		newTriggerCommand(),
		newLogsCommand(),
		newRunCommand(func() *slog.Logger { return console }),
		newLedgerCommand(),
		newKeygenCommand(),
	)
	return root
}
