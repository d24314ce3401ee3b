package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/action"
)

// EnqueueOptions holds flags for the enqueue command.
type EnqueueOptions struct {
	*RootOptions
	File string
}

// NewEnqueueCommand creates the enqueue command.
func NewEnqueueCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EnqueueOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "enqueue <topic> [payload-json]",
		Short: "Queue an action for later replay",
		Long: `Queue an action that could not be sent to the server.

The payload is a JSON document given as the second argument, read from
--file, or read from stdin when the argument is "-".

Examples:
  pwasync enqueue offline '{"action":"UpdateRow","id":42}'
  pwasync enqueue ui5 --file payload.json
  echo '{}' | pwasync enqueue offline -`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEnqueue(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read payload from file")
	return cmd
}

func runEnqueue(opts *EnqueueOptions, cmd *cobra.Command, args []string) error {
	raw, err := readPayload(cmd, opts.File, args[1:])
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read payload", err)
	}
	payload, err := action.ParsePayload(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	rt, err := openRuntime(cmd, opts.RootOptions, modeLocal)
	if err != nil {
		return err
	}
	defer rt.Close()

	id, err := rt.engine.Enqueue(cmd.Context(), args[0], payload)
	if err != nil {
		return engineExitError("failed to enqueue action", err)
	}

	out := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return out.Success(map[string]string{"id": id}, func(w io.Writer) {
		fmt.Fprintf(w, "Queued %s\n", id)
	})
}

func readPayload(cmd *cobra.Command, file string, args []string) ([]byte, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, fmt.Errorf("give the payload as an argument or with --file, not both")
	case file != "":
		return os.ReadFile(file)
	case len(args) == 0:
		return nil, fmt.Errorf("payload is required")
	case args[0] == "-":
		return io.ReadAll(cmd.InOrStdin())
	default:
		return []byte(args[0]), nil
	}
}

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Topic    string
	Statuses []string
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions, oldest first",
		Long: `List queued actions in replay order.

Examples:
  pwasync list
  pwasync list --topic offline --status error
  pwasync list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Topic, "topic", "", "only list this topic")
	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "only list these statuses (queued|syncing|error)")
	return cmd
}

func runList(opts *ListOptions, cmd *cobra.Command) error {
	f := action.Filter{Topic: opts.Topic}
	for _, s := range opts.Statuses {
		st, err := action.ParseStatus(s)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --status", err)
		}
		f.Statuses = append(f.Statuses, st)
	}

	rt, err := openRuntime(cmd, opts.RootOptions, modeLocal)
	if err != nil {
		return err
	}
	defer rt.Close()

	items, err := rt.engine.List(cmd.Context(), f)
	if err != nil {
		return engineExitError("failed to list actions", err)
	}

	out := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return out.Success(items, func(w io.Writer) { writeItems(w, items) })
}

func writeItems(w io.Writer, items []action.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No queued actions.")
		return
	}

	idWidth, topicWidth := len("ID"), len("TOPIC")
	for _, it := range items {
		idWidth = max(idWidth, len(it.ID))
		topicWidth = max(topicWidth, len(it.Topic))
	}

	fmt.Fprintf(w, "%-*s  %-*s  %-7s  %5s  %s\n", idWidth, "ID", topicWidth, "TOPIC", "STATUS", "TRIES", "CREATED")
	for _, it := range items {
		fmt.Fprintf(w, "%-*s  %-*s  %-7s  %5d  %s\n",
			idWidth, it.ID, topicWidth, it.Topic, it.Status, it.Tries, it.CreatedAt.UTC().Format(time.RFC3339))
		if it.LastError != nil {
			fmt.Fprintf(w, "%*s  last error: %s\n", idWidth, "", it.LastError.Error())
		}
	}
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete selected actions from the queue",
		Long: `Delete actions by id. Unknown ids are ignored.

Examples:
  pwasync delete a1b2 c3d4`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, rootOpts, modeLocal)
			if err != nil {
				return err
			}
			defer rt.Close()

			n, err := rt.engine.DeleteSelected(cmd.Context(), args)
			if err != nil {
				return engineExitError("failed to delete actions", err)
			}
			out := rootOpts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
			return out.Success(map[string]int{"deleted": n}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted %d of %d actions\n", n, len(args))
			})
		},
	}
	return cmd
}

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [id]...",
		Short: "Export selected actions as a JSON document",
		Long: `Export actions as a JSON document for support or manual replay.
With no ids every queued action is exported. The document is written to
stdout unless --output is given.

Examples:
  pwasync export > queue.json
  pwasync export a1b2 c3d4 -o selected.json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, cmd, args)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the document to this file")
	return cmd
}

func runExport(opts *ExportOptions, cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd, opts.RootOptions, modeLocal)
	if err != nil {
		return err
	}
	defer rt.Close()

	doc, err := rt.engine.ExportSelected(cmd.Context(), args)
	if err != nil {
		return engineExitError("failed to export actions", err)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode export", err)
	}
	data = append(data, '\n')

	if opts.Output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(opts.Output, data, 0o644); err != nil {
		return WrapExitError(ExitCommandError, "failed to write export", err)
	}

	out := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())
	return out.Success(map[string]any{"path": opts.Output, "actions": len(doc.Actions)}, func(w io.Writer) {
		fmt.Fprintf(w, "Exported %d actions to %s\n", len(doc.Actions), opts.Output)
	})
}
