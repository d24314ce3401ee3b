package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync engine with the local operator API",
		Long: `Run the sync engine until interrupted. The network state is polled on
the configured interval, queued actions are replayed automatically when the
client comes back online, and the operator API is served on --listen.

Examples:
  pwasync serve
  pwasync serve --listen 127.0.0.1:9000 --config /etc/pwasync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "API listen address (overrides api.listen)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cmd.SetContext(ctx)

	rt, err := openRuntime(cmd, opts.RootOptions, modeServe)
	if err != nil {
		return err
	}
	defer rt.Close()

	listen := rt.cfg.API.Listen
	if opts.Listen != "" {
		listen = opts.Listen
	}

	// Initial probe so a fresh process does not trust a stale persisted state.
	rt.engine.CheckNetwork(ctx)

	errCh := make(chan error, 2)
	go func() { errCh <- rt.engine.Run(ctx) }()
	go func() { errCh <- api.NewServer(rt.engine, api.WithLogger(rt.log)).ListenAndServe(ctx, listen) }()

	fmt.Fprintf(cmd.ErrOrStderr(), "pwasync serving on %s (device %s)\n", listen, rt.engine.DeviceID())

	var first error
	for range 2 {
		if err := <-errCh; err != nil && first == nil {
			first = err
			stop()
		}
	}
	if first != nil {
		return WrapExitError(ExitCommandError, "serve failed", first)
	}
	return nil
}
