package cli

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/engine"
	"github.com/roach88/pwasync/internal/netstate"
)

// NetworkOptions holds flags for the network command.
type NetworkOptions struct {
	*RootOptions
	ForcedOffline string
	AutoOffline   string
	Check         bool
	History       bool
	Since         time.Duration
}

// HistoryRow is one entry of `network --history`.
type HistoryRow struct {
	NetworkResult
	RecordedAt time.Time `json:"recorded_at"`
}

// NewNetworkCommand creates the network command.
func NewNetworkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &NetworkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "network",
		Short: "Show or change the network state",
		Long: `Show the current network state, toggle the offline policies, probe the
server, or list recorded state transitions.

Examples:
  pwasync network
  pwasync network --forced-offline=true
  pwasync network --auto-offline=true --check
  pwasync network --history --since 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNetwork(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ForcedOffline, "forced-offline", "", "set forced offline (true|false)")
	cmd.Flags().StringVar(&opts.AutoOffline, "auto-offline", "", "set auto offline on slow network (true|false)")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "probe the server and refresh the state")
	cmd.Flags().BoolVar(&opts.History, "history", false, "list recorded state transitions")
	cmd.Flags().DurationVar(&opts.Since, "since", 24*time.Hour, "history window")

	cmd.AddCommand(newPollCommand(rootOpts))
	return cmd
}

func runNetwork(opts *NetworkOptions, cmd *cobra.Command) error {
	var p netstate.Partial
	for _, f := range []struct {
		name  string
		value string
		dst   **bool
	}{
		{"--forced-offline", opts.ForcedOffline, &p.ForcedOffline},
		{"--auto-offline", opts.AutoOffline, &p.AutoOffline},
	} {
		if f.value == "" {
			continue
		}
		v, err := strconv.ParseBool(f.value)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid "+f.name, err)
		}
		*f.dst = netstate.Bool(v)
	}

	rt, err := openRuntime(cmd, opts.RootOptions, modeLocal)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()
	out := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.History {
		entries, err := rt.engine.NetworkHistory(ctx, time.Now().Add(-opts.Since))
		if err != nil {
			return engineExitError("failed to load network history", err)
		}
		rows := make([]HistoryRow, len(entries))
		for i, e := range entries {
			rows[i] = HistoryRow{NetworkResult: networkResult(e.State), RecordedAt: e.RecordedAt.UTC()}
		}
		return out.Success(rows, func(w io.Writer) { writeHistory(w, rows) })
	}

	if !p.Empty() {
		if _, err := rt.engine.SetNetwork(ctx, p); err != nil {
			if !engine.IsPolicyConflict(err) {
				return engineExitError("failed to update network state", err)
			}
			out.VerboseLog("network state unchanged")
		}
	}
	if opts.Check {
		if rt.http == nil {
			return NewExitError(ExitCommandError, "--check needs server.url")
		}
		rt.engine.CheckNetwork(ctx)
	}

	result := networkResult(rt.engine.State())
	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Network: %s\n", describeNetwork(result))
		fmt.Fprintf(w, "  browser online: %t\n", result.BrowserOnline)
		fmt.Fprintf(w, "  forced offline: %t\n", result.ForcedOffline)
		fmt.Fprintf(w, "  auto offline:   %t\n", result.AutoOffline)
		fmt.Fprintf(w, "  slow network:   %t\n", result.SlowNetwork)
	})
}

func writeHistory(w io.Writer, rows []HistoryRow) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "No network transitions recorded.")
		return
	}
	for _, r := range rows {
		fmt.Fprintf(w, "%s  %s\n", r.RecordedAt.Format(time.RFC3339), describeNetwork(r.NetworkResult))
	}
}

// newPollCommand creates `network poll`, which persists the speed poll
// configuration.
func newPollCommand(rootOpts *RootOptions) *cobra.Command {
	var cfg netstate.PollConfig

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Show or persist the slow-network poll configuration",
		Long: `Show the slow-network poll configuration, or persist new values. Persisted
values take precedence over the config file.

Examples:
  pwasync network poll
  pwasync network poll --interval 10s --threshold 2s --window 1m`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, rootOpts, modeLocal)
			if err != nil {
				return err
			}
			defer rt.Close()

			current := rt.manager.PollConfig()
			flags := cmd.Flags()
			if flags.Changed("interval") || flags.Changed("threshold") || flags.Changed("window") {
				if flags.Changed("interval") {
					current.Interval = cfg.Interval
				}
				if flags.Changed("threshold") {
					current.SlowThreshold = cfg.SlowThreshold
				}
				if flags.Changed("window") {
					current.Window = cfg.Window
				}
				current = current.WithDefaults()
				if err := rt.store.SavePollConfig(cmd.Context(), current); err != nil {
					return WrapExitError(ExitCommandError, "failed to save poll config", err)
				}
			}

			out := rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
			return out.Success(current, func(w io.Writer) {
				fmt.Fprintf(w, "Interval:       %s\n", current.Interval)
				fmt.Fprintf(w, "Slow threshold: %s\n", current.SlowThreshold)
				fmt.Fprintf(w, "Window:         %s\n", current.Window)
			})
		},
	}

	cmd.Flags().DurationVar(&cfg.Interval, "interval", 0, "poll interval")
	cmd.Flags().DurationVar(&cfg.SlowThreshold, "threshold", 0, "average round trip above which the network is slow")
	cmd.Flags().DurationVar(&cfg.Window, "window", 0, "averaging window")
	return cmd
}
