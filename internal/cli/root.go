// Package cli implements the fundledger command line: serve, calc and
// migrate.
package cli

import (
	"os"

	"FundLedger/internal/config"
	"FundLedger/internal/observability"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
}

// NewRootCommand creates the fundledger root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fundledger",
		Short: "Pooled investment fund ledger",
		Long: `fundledger runs a pooled investment fund: share accounting, valuation
with management and performance fees, the subscribe/redeem request lifecycle
and custody checks on orders placed with a trading venue.`,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("FUND_CONFIG"), "path to the YAML config (defaults plus FUND_* env when empty)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewCalcCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))

	return cmd
}

func (o *RootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = o.LogLevel
	}
	return cfg, nil
}

func (o *RootOptions) logger(cfg *config.Config, component string) zerolog.Logger {
	return observability.NewLoggerWithLevel(component, observability.ParseLogLevel(cfg.Logging.Level))
}
