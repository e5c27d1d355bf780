package cli

import (
	"github.com/spf13/cobra"

	"github.com/relaydb/relaydb/internal/app"
	"github.com/relaydb/relaydb/internal/logutil"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Driver string
	DSN    string
	Dir    string
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations",
		Long: `Apply pending goose migrations without starting the server.

Example:
  relaydb migrate --db ./app.db --dir ./migrations`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logutil.New(opts.Verbose)
			defer log.Sync()
			return app.Migrate(log, opts.Driver, opts.DSN, opts.Dir)
		},
	}

	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite3", "database driver (sqlite3|postgres)")
	cmd.Flags().StringVar(&opts.DSN, "db", "", "database path or DSN (required)")
	cmd.Flags().StringVar(&opts.Dir, "dir", "./migrations", "migrations directory")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
