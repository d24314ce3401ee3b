package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/engine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [id]...",
		Short: "Replay queued actions to the server",
		Long: `Replay queued actions to the server in the order they were queued.

With ids, only those actions are replayed, including ones parked in error.
Without ids, every queued action is replayed and parked ones are left alone
(see resync).

Exit codes:
  0 - Every attempted action was accepted or will be retried
  1 - The server rejected at least one action
  2 - Command error (server not configured, storage unavailable, etc.)

Examples:
  pwasync sync
  pwasync sync a1b2 c3d4 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, rootOpts, modeDispatch)
			if err != nil {
				return err
			}
			defer rt.Close()

			// A one-shot command has no browser events; probe instead.
			rt.engine.CheckNetwork(cmd.Context())

			var report engine.SyncReport
			if len(args) > 0 {
				report, err = rt.engine.SyncSelected(cmd.Context(), args)
			} else {
				report, err = rt.engine.SyncNow(cmd.Context())
			}
			return finishSync(rootOpts, cmd, report, err)
		},
	}
	return cmd
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resync",
		Short: "Replay every action, including ones parked in error",
		Long: `Move every action parked in error back to the queue and replay the
whole queue in order.

Exit codes:
  0 - Every attempted action was accepted or will be retried
  1 - The server rejected at least one action
  2 - Command error (server not configured, storage unavailable, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, rootOpts, modeDispatch)
			if err != nil {
				return err
			}
			defer rt.Close()

			rt.engine.CheckNetwork(cmd.Context())
			report, err := rt.engine.ResyncAll(cmd.Context())
			return finishSync(rootOpts, cmd, report, err)
		},
	}
	return cmd
}

func finishSync(opts *RootOptions, cmd *cobra.Command, report engine.SyncReport, err error) error {
	if err != nil {
		return engineExitError("sync failed", err)
	}

	out := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err := out.Success(report, func(w io.Writer) { writeReport(w, report) }); err != nil {
		return err
	}
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d actions rejected by the server", report.Failed))
	}
	return nil
}

func writeReport(w io.Writer, r engine.SyncReport) {
	fmt.Fprintf(w, "Sync: %d succeeded, %d retried, %d failed, %d skipped\n",
		r.Succeeded, r.Retried, r.Failed, r.Skipped)
	if r.Coalesced {
		fmt.Fprintln(w, "  (joined a pass already in progress)")
	}
	for _, e := range r.Errors {
		mark := "↻"
		if e.Code == engine.ErrCodeTransportFatal {
			mark = "✗"
		}
		line := fmt.Sprintf("  %s %s %s: %s", mark, e.ItemID, e.Code, e.Message)
		if e.ServerErrorID != "" {
			line += fmt.Sprintf(" (log id %s)", e.ServerErrorID)
		}
		fmt.Fprintln(w, line)
	}
}
