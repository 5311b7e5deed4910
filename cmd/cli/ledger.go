package main

import (
	"fmt"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"pushci/internal/ledger"
	"pushci/internal/security"
	"pushci/pkg/utils"
)

func newLedgerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and verify the build ledger",
	}
	cmd.AddCommand(newLedgerInspectCommand(), newLedgerVerifyCommand())
	return cmd
}

func newLedgerInspectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <ledger.jsonl>",
		Short: "List the recorded builds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ledger.OpenLedger(args[0], nil)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "INDEX\tTIME\tREPOSITORY\tBRANCH\tCOMMIT\tSTATUS\tHASH")
			for _, b := range l.Blocks() {
				_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
					b.Index, b.Timestamp, b.Repository, b.Branch, utils.ShortSHA(b.Commit), b.Status, shortHash(b.Hash))
			}
			return w.Flush()
		},
	}
}

func newLedgerVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <ledger.jsonl>",
		Short: "Check hashes, links and signatures of every block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := ledger.OpenLedger(args[0], nil)
			if err != nil {
				return err
			}
			if err := l.VerifyChain(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ledger verification ok (%d blocks)\n", l.NextIndex())
			return nil
		},
	}
}

func newKeygenCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create the ledger signing keys if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			kp, created, err := security.EnsureKeyPair(dir)
			if err != nil {
				return err
			}
			state := "existing"
			if created {
				state = "new"
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s key pair in %s\npublic key: %s\n",
				state, filepath.Clean(dir), kp.PublicHex())
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "keys", "directory holding server.pub and server.priv")
	return cmd
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}
