package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/metrics"
	"github.com/roach88/pwasync/internal/netstate"
)

// StatusResult is the status command payload.
type StatusResult struct {
	DeviceID string           `json:"device_id"`
	Version  string           `json:"version"`
	Network  NetworkResult    `json:"network"`
	Counts   action.Counts    `json:"counts"`
	Metrics  metrics.Snapshot `json:"metrics"`
}

// NetworkResult is the JSON view of a network state.
type NetworkResult struct {
	netstate.Flags
	Online           bool `json:"online"`
	OfflineVirtually bool `json:"offline_virtually"`
}

func networkResult(s netstate.State) NetworkResult {
	return NetworkResult{Flags: s.Serialize(), Online: s.IsOnline(), OfflineVirtually: s.IsOfflineVirtually()}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var topic string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show queue counts and network state",
		Long: `Show the queued/syncing/error badge counts, the persisted network
state, and the device id.

Examples:
  pwasync status
  pwasync status --topic offline --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, rootOpts, modeLocal)
			if err != nil {
				return err
			}
			defer rt.Close()

			counts, err := rt.engine.Counts(cmd.Context(), topic)
			if err != nil {
				return engineExitError("failed to count actions", err)
			}
			result := StatusResult{
				DeviceID: rt.engine.DeviceID(),
				Version:  action.EngineVersion,
				Network:  networkResult(rt.engine.State()),
				Counts:   counts,
				Metrics:  rt.engine.Metrics(),
			}

			out := rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
			return out.Success(result, func(w io.Writer) { writeStatus(w, result) })
		},
	}

	cmd.Flags().StringVar(&topic, "topic", "", "only count this topic")
	return cmd
}

func writeStatus(w io.Writer, r StatusResult) {
	fmt.Fprintf(w, "Device:  %s\n", r.DeviceID)
	fmt.Fprintf(w, "Network: %s\n", describeNetwork(r.Network))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Queue ===")
	fmt.Fprintf(w, "  Queued:  %d\n", r.Counts.Queued)
	fmt.Fprintf(w, "  Syncing: %d\n", r.Counts.Syncing)
	fmt.Fprintf(w, "  Error:   %d\n", r.Counts.Error)
	fmt.Fprintf(w, "  Total:   %d\n", r.Counts.Total)
}

func describeNetwork(n NetworkResult) string {
	switch {
	case n.Online && n.SlowNetwork:
		return "online (slow)"
	case n.Online:
		return "online"
	case !n.BrowserOnline:
		return "offline"
	case n.ForcedOffline:
		return "offline (forced)"
	default:
		return "offline (slow network, auto-offline on)"
	}
}
