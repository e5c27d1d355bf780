package cli

import (
	"context"
	"fmt"
	"time"

	faker "github.com/go-faker/faker/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relaydb/relaydb/internal/logutil"
	"github.com/relaydb/relaydb/pkg/client"
	"github.com/relaydb/relaydb/pkg/prng"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	URL    string
	Count  int
	Driver string
	Seed   int64
}

type seedTodo struct {
	Title string `faker:"sentence"`
	Owner string `faker:"name"`
}

// NewSeedCommand creates the seed command. It fills the todos table with
// fake rows through a regular client connection, so the inserts exercise
// the same path as any other caller and emit one coalesced notification.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert fake rows through a running server",
		Long: `Insert fake todo rows through a running server.

Example:
  relaydb seed --url ws://localhost:8080/ws --count 100`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logutil.New(opts.Verbose)
			defer log.Sync()
			return seed(cmd.Context(), log, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "ws://localhost:8080/ws", "server websocket URL")
	cmd.Flags().IntVar(&opts.Count, "count", 50, "number of rows to insert")
	cmd.Flags().StringVar(&opts.Driver, "driver", "sqlite3", "placeholder style of the server's database (sqlite3|postgres)")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 0, "seed for reproducible fake data (0 = random)")

	return cmd
}

func seed(ctx context.Context, log *zap.Logger, opts *SeedOptions) error {
	// The server rejects empty batches as a protocol violation, so catch a
	// useless count before dialing.
	if opts.Count < 1 {
		return fmt.Errorf("count must be at least 1, got %d", opts.Count)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	if opts.Seed != 0 {
		faker.SetCryptoSource(prng.New(opts.Seed))
	}

	c, err := client.Dial(ctx, opts.URL, client.WithLogger(log))
	if err != nil {
		return err
	}
	defer c.Close()

	text := "INSERT INTO todos (title, owner) VALUES (?, ?)"
	if opts.Driver == "postgres" {
		text = "INSERT INTO todos (title, owner) VALUES ($1, $2)"
	}

	stmts := make([]client.Statement, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		var row seedTodo
		if err := faker.FakeData(&row); err != nil {
			return fmt.Errorf("generate row: %w", err)
		}
		stmts = append(stmts, client.Statement{Text: text, Args: []any{row.Title, row.Owner}})
	}

	if err := c.RunBatched(ctx, stmts); err != nil {
		return err
	}
	log.Info("seeded", zap.Int("rows", opts.Count))
	return nil
}
