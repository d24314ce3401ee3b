package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/pwasync/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Path   string   `json:"path"`
	Errors []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a config file against the schema",
		Long: `Validate a pwasync config file without opening the database.

Environment variables are expanded first, then the document is checked
against the built-in schema: unknown keys, wrong types and out-of-range
values are reported. Without an argument the --config path (or
./pwasync.yaml) is validated.

Exit codes:
  0 - The config is valid
  1 - The config is invalid
  2 - Command error (file not found, etc.)

Examples:
  pwasync validate
  pwasync validate /etc/pwasync.yaml --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultPath
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd.OutOrStdout(), cmd.ErrOrStderr())

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewExitError(ExitCommandError, fmt.Sprintf("config file not found: %s", path))
		}
		return WrapExitError(ExitCommandError, "cannot read config file", err)
	}
	formatter.VerboseLog("Validating %s (%d bytes)", path, len(data))

	cfg, err := config.Parse(data, path)
	if err != nil {
		result := ValidationResult{Valid: false, Path: path, Errors: splitErrors(err.Error())}
		if formatter.Format == "json" {
			if err := formatter.Success(result, nil); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s\n", path)
			for _, e := range result.Errors {
				fmt.Fprintf(formatter.Writer, "  %s\n", e)
			}
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%s is not a valid config", path))
	}

	result := ValidationResult{Valid: true, Path: path}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %s is valid\n", path)
		fmt.Fprintf(w, "  database:    %s\n", cfg.Database)
		if cfg.Server.URL != "" {
			fmt.Fprintf(w, "  server:      %s (%s)\n", cfg.Server.URL, cfg.Server.Codec)
		} else {
			fmt.Fprintln(w, "  server:      not configured")
		}
		fmt.Fprintf(w, "  api listen:  %s\n", cfg.API.Listen)
	})
}

func splitErrors(msg string) []string {
	var out []string
	for _, line := range strings.Split(msg, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
