package core_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/permission"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/venue"

	"github.com/stretchr/testify/require"
)

const (
	manager ledger.Address = "manager"
	alice   ledger.Address = "alice"
	bob     ledger.Address = "bob"
	worker  ledger.Address = "worker"

	usd ledger.Asset = "USD" // 3 decimals, base asset
	eth ledger.Asset = "ETH" // 6 decimals

	baseUnit = int64(1_000)
	oneETH   = int64(1_000_000)
	ethPrice = int64(2_000_000) // 2000 USD per ETH in USD smallest units

	interval = time.Minute
)

var t0 = time.Unix(1_700_000_000, 0).UTC()

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fakeVenue escrows on place and lets the test decide how each order ends.
type fakeVenue struct {
	vault   *asset.Vault
	addr    ledger.Address
	orders  map[string]*core.OrderTerms
	n        int
	onPlace  func()
	placeErr error
}

func newFakeVenue(vault *asset.Vault) *fakeVenue {
	return &fakeVenue{
		vault:  vault,
		addr:   ledger.NewExternalAddress("fake-venue"),
		orders: make(map[string]*core.OrderTerms),
	}
}

func (v *fakeVenue) Address() ledger.Address { return v.addr }

func (v *fakeVenue) Place(maker ledger.Address, sell, buy ledger.Asset, sellQty, buyQty int64) (string, error) {
	if v.onPlace != nil {
		v.onPlace()
	}
	if v.placeErr != nil {
		return "", v.placeErr
	}
	if err := v.vault.TransferFrom(sell, v.addr, maker, v.addr, sellQty); err != nil {
		return "", err
	}
	v.n++
	h := fmt.Sprintf("fake-%d", v.n)
	v.orders[h] = &core.OrderTerms{Maker: maker, SellAsset: sell, BuyAsset: buy, SellQty: sellQty, BuyQty: buyQty, Active: true}
	return h, nil
}

func (v *fakeVenue) Take(string, int64, ledger.Address) error {
	return errors.New("fake venue: take not supported")
}

func (v *fakeVenue) Cancel(h string) error {
	o, ok := v.orders[h]
	if !ok || !o.Active {
		return errors.New("fake venue: not active")
	}
	o.Active = false
	return v.vault.Transfer(o.SellAsset, v.addr, o.Maker, o.SellQty)
}

func (v *fakeVenue) Lookup(h string) (core.OrderTerms, error) {
	o, ok := v.orders[h]
	if !ok {
		return core.OrderTerms{}, errors.New("fake venue: unknown order")
	}
	return *o, nil
}

// settle ends an order: filled of the escrow is consumed, returned goes back
// to the maker, and delivered of the buy asset is paid to the maker.
func (v *fakeVenue) settle(t *testing.T, h string, filled, returned, delivered int64) {
	t.Helper()
	o := v.orders[h]
	require.NoError(t, v.vault.Transfer(o.SellAsset, v.addr, o.Maker, returned))
	require.NoError(t, v.vault.Credit(o.BuyAsset, o.Maker, delivered))
	o.SellQty -= filled
	o.Active = false
}

type harness struct {
	t       *testing.T
	clock   *fakeClock
	feed    *pricefeed.Feed
	vault   *asset.Vault
	market  *venue.SimpleMarket
	fake    *fakeVenue
	fund    *core.Fund
	persist chan core.CoreOutput
	deps    core.Dependencies
	cfg     core.Config
	seq     int64
}

type harnessOption func(*harness)

func withConfig(mutate func(*core.Config)) harnessOption {
	return func(h *harness) { mutate(&h.cfg) }
}

func withFakeVenue() harnessOption {
	return func(h *harness) {
		h.fake = newFakeVenue(h.vault)
		h.deps.Venue = h.fake
	}
}

// withAssets swaps the asset ledger the fund sees; venues keep the vault.
func withAssets(wrap func(*asset.Vault) core.AssetLedger) harnessOption {
	return func(h *harness) { h.deps.Assets = wrap(h.vault) }
}

// refusingLedger fails every pull from refuse even though balance and
// allowance cover it.
type refusingLedger struct {
	*asset.Vault
	refuse ledger.Address
}

func (l *refusingLedger) TransferFrom(a ledger.Asset, spender, from, to ledger.Address, amount int64) error {
	if from == l.refuse {
		return errors.New("asset ledger: transfer rejected")
	}
	return l.Vault.TransferFrom(a, spender, from, to, amount)
}

// revokeRefusingLedger fails every approval of zero.
type revokeRefusingLedger struct {
	*asset.Vault
}

func (l *revokeRefusingLedger) Approve(a ledger.Asset, owner, spender ledger.Address, amount int64) error {
	if amount == 0 {
		return errors.New("asset ledger: approve rejected")
	}
	return l.Vault.Approve(a, owner, spender, amount)
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	clock := &fakeClock{now: t0}
	feed := pricefeed.New(interval)
	require.NoError(t, feed.Register(usd, 3))
	require.NoError(t, feed.Register(eth, 6))

	vault := asset.NewVault()
	market := venue.NewSimpleMarket(vault)

	h := &harness{
		t:       t,
		clock:   clock,
		feed:    feed,
		vault:   vault,
		market:  market,
		persist: make(chan core.CoreOutput, 4096),
		cfg: core.Config{
			FundID:        "alpha",
			Manager:       manager,
			BaseAsset:     usd,
			MaxOpenOrders: 4,
		},
		deps: core.Dependencies{
			Oracle:    feed,
			Venue:     market,
			Assets:    vault,
			Subscribe: permission.Open{},
			Redeem:    permission.Open{},
			Risk:      permission.NewRisk(permission.RiskConfig{MaxPriceDeviationBps: 1_000}),
			Clock:     clock,
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.pushPrices(map[ledger.Asset]int64{usd: baseUnit, eth: ethPrice})

	fund, err := core.NewFund(h.cfg, h.deps, core.WithOutputs(h.persist, nil))
	require.NoError(t, err)
	h.fund = fund
	return h
}

func (h *harness) pushPrices(prices map[ledger.Asset]int64) {
	h.t.Helper()
	h.seq++
	_, err := h.feed.Apply(pricefeed.Update{Source: "test", Sequence: h.seq, Timestamp: h.clock.Now(), Prices: prices})
	require.NoError(h.t, err)
}

// tick lets one update interval pass and publishes unchanged prices.
func (h *harness) tick() {
	h.t.Helper()
	h.clock.Advance(interval)
	h.pushPrices(map[ledger.Asset]int64{usd: baseUnit})
}

// fundInvestor gives addr base asset and lets the fund pull all of it.
func (h *harness) fundInvestor(addr ledger.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.vault.Credit(usd, addr, amount))
	require.NoError(h.t, h.vault.Approve(usd, addr, h.fund.Address(), h.vault.BalanceOf(usd, addr)))
}

// invest runs a full subscription at the base unit share price.
func (h *harness) invest(addr ledger.Address, shares int64) {
	h.t.Helper()
	h.fundInvestor(addr, shares+1)
	id, err := h.fund.RequestSubscription(addr, shares, shares, 1)
	require.NoError(h.t, err)
	h.tick()
	h.tick()
	_, err = h.fund.ExecuteRequest(worker, id)
	require.NoError(h.t, err)
}

func (h *harness) fundBalance(a ledger.Asset) int64 {
	return h.vault.BalanceOf(a, h.fund.Address())
}

// drain returns every output emitted so far.
func (h *harness) drain() []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-h.persist:
			out = append(out, o)
		default:
			return out
		}
	}
}
