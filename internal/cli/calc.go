package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/ledger"
	"FundLedger/internal/persistence"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/query"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// CalcOptions holds flags for the calc command.
type CalcOptions struct {
	*RootOptions
	Prices       map[string]string
	FromSnapshot bool
}

// CalcReport is what calc prints.
type CalcReport struct {
	Sequence     int64                        `json:"sequence"`
	Calculations *query.CalculationsResponse `json:"calculations"`
	Holdings     *query.HoldingsResponse     `json:"holdings"`
}

// NewCalcCommand creates the calc command.
func NewCalcCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CalcOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Print GAV, fees, NAV and share price for given prices",
		Long: `Value the fund at the given prices without touching the running service.
The fund is the configured genesis state, or the latest verified snapshot
with --from-snapshot. Prices are in whole units of the base asset.

Example:
  fundledger calc -c fund.yaml --price USDC=1 --price ETH=2450.5`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runCalc(cmd.Context(), opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringToStringVar(&opts.Prices, "price", nil, "asset price in base units, repeatable (ASSET=PRICE)")
	cmd.Flags().BoolVar(&opts.FromSnapshot, "from-snapshot", false, "value the latest verified snapshot from Postgres")

	return cmd
}

func runCalc(ctx context.Context, opts *CalcOptions) (*CalcReport, error) {
	cfg, err := opts.load()
	if err != nil {
		return nil, err
	}
	logger := opts.logger(cfg, "calc")

	comps, err := BuildFund(cfg, logger, nil)
	if err != nil {
		return nil, err
	}

	if opts.FromSnapshot {
		db, err := openDB(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		snap, err := persistence.NewSnapshotManager(db, cfg.Fund.ID).LoadLatestSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		if snap == nil {
			return nil, fmt.Errorf("fund %s has no verified snapshot", cfg.Fund.ID)
		}
		if err := comps.Restore(snap); err != nil {
			return nil, err
		}
	} else if err := comps.ApplyGenesis(); err != nil {
		return nil, err
	}

	prices, err := parsePrices(opts.Prices, comps.BaseDecimals())
	if err != nil {
		return nil, err
	}
	if len(prices) > 0 {
		if _, err := comps.Feed.Apply(pricefeed.Update{Source: "calc", Sequence: 1, Timestamp: time.Now().UTC(), Prices: prices}); err != nil {
			return nil, err
		}
	}

	qs := query.NewQueryService(direct{comps.Fund}, nil)
	calcs, err := qs.GetCalculations(ctx, true)
	if err != nil {
		return nil, err
	}
	holdings, err := qs.GetHoldings(ctx)
	if err != nil {
		return nil, err
	}
	return &CalcReport{Sequence: comps.Fund.Sequence(), Calculations: calcs, Holdings: holdings}, nil
}

func parsePrices(raw map[string]string, baseDecimals int) (map[ledger.Asset]int64, error) {
	prices := make(map[ledger.Asset]int64, len(raw))
	for a, s := range raw {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", a, err)
		}
		units, err := ingestion.ToUnits(d, baseDecimals)
		if err != nil {
			return nil, fmt.Errorf("price %s: %w", a, err)
		}
		prices[ledger.Asset(a)] = units
	}
	return prices, nil
}

// direct reads a fund that only the calling goroutine touches.
type direct struct{ f *core.Fund }

func (d direct) Read(_ context.Context, _ string, fn func(f *core.Fund) (any, error)) (any, error) {
	return fn(d.f)
}
