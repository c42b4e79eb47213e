package cli

import (
	"fmt"

	"FundLedger/internal/persistence"

	"github.com/spf13/cobra"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate <up|down>",
		Short: "Apply or roll back event log migrations",
		Long: `Apply all pending migrations (up) or roll back the most recent one (down).
Migrations are embedded in the binary.`,
		Args:         cobra.ExactArgs(1),
		ValidArgs:    []string{"up", "down"},
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			logger := rootOpts.logger(cfg, "migrate")

			db, err := openDB(cmd.Context(), cfg.Postgres)
			if err != nil {
				return err
			}
			defer db.Close()

			migrator := persistence.NewMigrator(db, persistence.Migrations(), logger)
			switch args[0] {
			case "up":
				if err := migrator.Up(cmd.Context()); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
			case "down":
				if err := migrator.Down(cmd.Context()); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
			default:
				return fmt.Errorf("unknown direction %q (use up or down)", args[0])
			}
			return nil
		},
	}
	return cmd
}
