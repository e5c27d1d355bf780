package cli

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaydb/relaydb/internal/app"
	"github.com/relaydb/relaydb/internal/logutil"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr          string
	Driver        string
	DSN           string
	MigrationsDir string
	TxWarnAfter   time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the relaydb server: open the database, run pending migrations
when a migrations directory is given, and accept websocket connections.

Example:
  relaydb serve --db ./app.db
  relaydb serve --driver postgres --db "postgres://localhost/app?sslmode=disable" --migrations ./migrations`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logutil.New(opts.Verbose)
			defer log.Sync()

			srv, err := app.NewServer(app.Config{
				Addr:          opts.Addr,
				Driver:        opts.Driver,
				DSN:           opts.DSN,
				MigrationsDir: opts.MigrationsDir,
				TxWarnAfter:   opts.TxWarnAfter,
			}, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite3", "database driver (sqlite3|postgres)")
	cmd.Flags().StringVar(&opts.DSN, "db", "", "database path or DSN (required)")
	cmd.Flags().StringVar(&opts.MigrationsDir, "migrations", "", "migrations directory to apply at startup")
	cmd.Flags().DurationVar(&opts.TxWarnAfter, "tx-warn-after", 30*time.Second, "warn when a transaction is held longer than this")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
