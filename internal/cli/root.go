// Package cli implements the mangod operator commands.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/app"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Config  string
	Verbose bool
	Format  string // "text" | "json" | "yaml"

	// App supplies host collaborators, such as the transport, to every
	// command that builds the sync core.
	App app.Options
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command of mangod.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(app.Options{})
}

// NewRootCommandWith creates the root command with host collaborators.
func NewRootCommandWith(appOpts app.Options) *cobra.Command {
	opts := &RootOptions{App: appOpts}

	cmd := &cobra.Command{
		Use:   "mangod",
		Short: "mangod - offline-first sync core",
		Long: `Operator commands for the offline-first sync core of the point of sale:
the sync queue, remote conflicts, storage retention and device trust.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (default $CONFIG_PATH or ./mangod.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewConflictsCommand(opts))
	cmd.AddCommand(NewRetentionCommand(opts))
	cmd.AddCommand(NewStorageCommand(opts))
	cmd.AddCommand(NewTrustCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))

	return cmd
}
