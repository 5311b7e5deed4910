package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"go.trai.ch/zerr"

	"pushci/internal/core"
	"pushci/internal/github"
	"pushci/internal/ledger"
	"pushci/internal/security"
	"pushci/internal/storage"
)

// ErrBuildFailed is returned by run when the build did not succeed.
var ErrBuildFailed = zerr.New("build did not succeed")

// printReporter writes statuses to out instead of posting them.
type printReporter struct {
	out io.Writer
}

func (p printReporter) Report(_ context.Context, _ core.Appender, target core.StatusTarget, result core.BuildResult) {
	_, _ = fmt.Fprintf(p.out, "%s %s: %s\n", target.CommitSHA, result.Status, result.Message)
}

func newRunCommand(console func() *slog.Logger) *cobra.Command {
	var (
		configPath string
		cloneURL   string
		repo       string
		branch     string
		sha        string
		report     bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one build in the foreground with the server's config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logger := console()
			logs := storage.NewLogStorage(cfg.LogDir, logger)

			var reporter core.Reporter = printReporter{out: cmd.OutOrStdout()}
			if report {
				reporter = github.NewStatusReporter(cfg.APIURL, cfg.Token)
			}
			coordinator := core.NewCoordinator(cfg, core.NewExecutor(cfg.TaskTimeout), logs, reporter, logger)

			if cfg.Ledger.Path != "" {
				keys, _, err := security.EnsureKeyPair(cfg.Ledger.KeyDir)
				if err != nil {
					return err
				}
				l, err := ledger.OpenLedger(cfg.Ledger.Path, keys)
				if err != nil {
					return err
				}
				coordinator.AddRecorder(l)
			}

			result := coordinator.Run(cmd.Context(), core.NewJob(cloneURL, repo, branch, sha, cfg.MainBranch))
			if result.Status != core.StatusSuccess {
				return zerr.With(ErrBuildFailed, "result", result.String())
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "pushci.yaml", "path to the server config")
	cmd.Flags().StringVar(&cloneURL, "clone-url", "", "URL to clone from")
	cmd.Flags().StringVar(&repo, "repo", "", "repository full name, used for status reports")
	cmd.Flags().StringVar(&branch, "branch", "main", "branch to build")
	cmd.Flags().StringVar(&sha, "sha", "", "commit id the log is filed under")
	cmd.Flags().BoolVar(&report, "report", false, "post statuses to the host instead of printing them")
	_ = cmd.MarkFlagRequired("clone-url")
	_ = cmd.MarkFlagRequired("sha")
	return cmd
}
