package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigFile and EnvFile locate configuration. Empty means syncore.yaml
	// and .env in the working directory, both optional.
	ConfigFile string
	EnvFile    string

	// Database overrides data.path from the configuration.
	Database string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the syncore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "syncore",
		Short: "syncore - local-first budget sync core",
		Long: `Local-first storage, workspace partitioning and merge reconciliation
for a budgeting app. Data lives in a local SQLite store that can be switched
to a mirrored mode backed by a remote account.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to config file (default ./syncore.yaml)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "path to dotenv file (default ./.env)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to the SQLite data store (overrides data.path)")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewModeCommand(opts))
	cmd.AddCommand(NewWorkspaceCommand(opts))
	cmd.AddCommand(NewBudgetCommand(opts))
	cmd.AddCommand(NewCategoryCommand(opts))
	cmd.AddCommand(NewCardCommand(opts))
	cmd.AddCommand(NewTemplateCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewCanonicalizeCommand(opts))
	cmd.AddCommand(NewWipeCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// Execute runs the root command with os.Args. Errors a command already
// wrote to its output are not printed again.
func Execute() error {
	err := NewRootCommand().Execute()
	var exitErr *ExitError
	if err != nil && !(errors.As(err, &exitErr) && exitErr.Reported) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
