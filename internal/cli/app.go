package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"FundLedger/internal/asset"
	"FundLedger/internal/config"
	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"
	"FundLedger/internal/permission"
	"FundLedger/internal/persistence"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/venue"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Market is a venue whose book can be carried across restarts.
type Market interface {
	core.Venue
	Snapshot() *venue.MarketState
	Restore(st *venue.MarketState) error
}

// Components is a fund together with the in-process collaborators it was
// wired to.
type Components struct {
	Config *config.Config
	Feed   *pricefeed.Feed
	Vault  *asset.Vault
	Market Market
	Fund   *core.Fund
}

// BuildFund wires a fund from cfg. The fund starts empty; callers restore a
// snapshot or apply the genesis balances.
func BuildFund(cfg *config.Config, logger zerolog.Logger, metrics *observability.Metrics, opts ...core.Option) (*Components, error) {
	feed := pricefeed.New(cfg.Oracle.UpdateInterval)
	for _, a := range cfg.Assets {
		if err := feed.Register(ledger.Asset(a.Symbol), a.Decimals); err != nil {
			return nil, err
		}
	}

	vault := asset.NewVault()
	v, err := venue.New(venue.Kind(cfg.Venue.Kind), vault)
	if err != nil {
		return nil, err
	}
	market, ok := v.(Market)
	if !ok {
		return nil, fmt.Errorf("venue kind %q cannot be snapshotted", cfg.Venue.Kind)
	}

	cc, err := cfg.CoreConfig()
	if err != nil {
		return nil, err
	}
	fundOpts := append([]core.Option{core.WithLogger(logger), core.WithMetrics(metrics)}, opts...)
	fund, err := core.NewFund(cc, core.Dependencies{
		Oracle:    feed,
		Venue:     market,
		Assets:    vault,
		Subscribe: cfg.Permissions.Subscribe.Build(),
		Redeem:    cfg.Permissions.Redeem.Build(),
		Risk:      permission.NewRisk(cfg.Permissions.Risk),
	}, fundOpts...)
	if err != nil {
		return nil, err
	}

	return &Components{Config: cfg, Feed: feed, Vault: vault, Market: market, Fund: fund}, nil
}

// ApplyGenesis credits the configured starting balances.
func (c *Components) ApplyGenesis() error {
	for _, g := range c.Config.Genesis {
		a := ledger.Asset(g.Asset)
		dec, ok := c.Feed.Decimals(a)
		if !ok {
			return fmt.Errorf("genesis: unknown asset %s", a)
		}
		units, err := ingestion.ToUnits(g.Amount, dec)
		if err != nil {
			return fmt.Errorf("genesis %s/%s: %w", g.Owner, a, err)
		}
		if err := c.Vault.Credit(a, ledger.Address(g.Owner), units); err != nil {
			return fmt.Errorf("genesis %s/%s: %w", g.Owner, a, err)
		}
	}
	return nil
}

// Snapshot captures the fund, vault and market together. It must run where
// nothing else is mutating them: on the sequencer or before it starts.
func (c *Components) Snapshot() *persistence.SnapshotData {
	return &persistence.SnapshotData{
		Fund:      c.Fund.CreateSnapshotState(),
		Vault:     c.Vault.Snapshot(),
		Market:    c.Market.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}
}

// Restore loads snap into all three. Nothing should have run against the
// components yet.
func (c *Components) Restore(snap *persistence.SnapshotData) error {
	if snap.Vault == nil || snap.Market == nil {
		return fmt.Errorf("snapshot at sequence %d lacks vault or market state", snap.Fund.Sequence)
	}
	if err := c.Vault.Restore(snap.Vault); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	if err := c.Market.Restore(snap.Market); err != nil {
		return fmt.Errorf("restore market: %w", err)
	}
	if err := c.Fund.RestoreFromSnapshot(snap.Fund); err != nil {
		return fmt.Errorf("restore fund: %w", err)
	}
	return nil
}

// BaseDecimals is the decimals of the fund's base asset.
func (c *Components) BaseDecimals() int {
	dec, _ := c.Feed.Decimals(c.Fund.BaseAsset())
	return dec
}

func openDB(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return db, nil
}
