package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/toanmango432/stage-mangobiz-sub004/internal/db"
)

// MigrateResult lists applied versions and the resulting schema state.
type MigrateResult struct {
	Applied []int64             `json:"applied" yaml:"applied"`
	Status  []db.MigrationState `json:"status" yaml:"status"`
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	var statusOnly bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(rootOpts, cmd, statusOnly)
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "only report migration status")

	return cmd
}

func runMigrate(opts *RootOptions, cmd *cobra.Command, statusOnly bool) error {
	out := newFormatter(opts, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	d, err := db.Open(cfg.Database.Path, cfg.Database.BusyTimeout)
	if err != nil {
		return out.Error(ExitCommandError, err)
	}
	defer d.Close()

	res := MigrateResult{Applied: []int64{}}
	if !statusOnly {
		if res.Applied, err = db.Migrate(ctx, d.DB); err != nil {
			return out.Error(ExitFailure, err)
		}
	}
	if res.Status, err = db.MigrationStatus(ctx, d.DB); err != nil {
		return out.Error(ExitFailure, err)
	}

	return out.Success(res, func(w io.Writer) error {
		if !statusOnly {
			fmt.Fprintf(w, "applied %d migration(s)\n", len(res.Applied))
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "VERSION\tAPPLIED\tPATH")
		for _, s := range res.Status {
			fmt.Fprintf(tw, "%d\t%t\t%s\n", s.Version, s.Applied, s.Path)
		}
		return tw.Flush()
	})
}
