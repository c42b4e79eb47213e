package core_test

import (
	"errors"
	"testing"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/permission"
	"FundLedger/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Order tracking
// ============================================================================

func TestMakeOrder_OccupiesSlot(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))

	id, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)

	open := h.fund.OpenOrders()
	require.Len(t, open, 1)
	assert.Equal(t, id, open[0].ID)
	assert.Equal(t, state.OrderOpen, open[0].Status)
	assert.Equal(t, state.OrderMake, open[0].Kind)
	assert.Zero(t, h.fundBalance(eth), "sell quantity is escrowed at the venue")
	assert.Equal(t, oneETH, h.fund.PreviousHoldings(eth))
	assert.Len(t, h.market.ActiveOffers(), 1)

	// Parked holdings still count toward GAV.
	gav, err := h.fund.CalcGav()
	require.NoError(t, err)
	assert.Equal(t, ethPrice, gav)

	holdings, err := h.fund.Holdings()
	require.NoError(t, err)
	for _, hd := range holdings {
		if hd.Asset == eth {
			assert.Equal(t, core.Holding{Asset: eth, Parked: oneETH, Baseline: oneETH}, hd)
		}
	}
}

func TestMakeOrder_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		caller  ledger.Address
		sellQty int64
		buyQty  int64
		wantErr error
	}{
		{"not manager", alice, oneETH, ethPrice, core.ErrPreconditionFailed},
		{"zero quantity", manager, 0, ethPrice, core.ErrPreconditionFailed},
		{"price far below reference", manager, oneETH, ethPrice / 2, core.ErrPreconditionFailed},
		{"price far above reference", manager, oneETH, ethPrice * 2, core.ErrPreconditionFailed},
		{"more than the fund holds", manager, 2 * oneETH, 2 * ethPrice, core.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))
			h.drain()

			_, err := h.fund.MakeOrder(tt.caller, eth, usd, tt.sellQty, tt.buyQty)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, h.fund.OpenOrders())
			assert.Equal(t, oneETH, h.fundBalance(eth))
			assert.Empty(t, h.drain())
		})
	}
}

func TestMakeOrder_ArenaFull(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))

	for i := 0; i < h.fund.MaxOpenOrders(); i++ {
		_, err := h.fund.MakeOrder(manager, eth, usd, 1_000, 2_000)
		require.NoError(t, err)
	}
	_, err := h.fund.MakeOrder(manager, eth, usd, 1_000, 2_000)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	assert.Len(t, h.fund.OpenOrders(), h.fund.MaxOpenOrders())
}

func TestMakeOrder_KillSwitch(t *testing.T) {
	h := newHarness(t, func(h *harness) {
		h.deps.Risk = permission.NewRisk(permission.RiskConfig{KillSwitch: true})
	})
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))

	_, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
}

func TestMakeOrder_PlacementFailureRevokesApproval(t *testing.T) {
	h := newHarness(t, withFakeVenue())
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))
	h.fake.placeErr = errors.New("venue down")

	_, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	assert.ErrorIs(t, err, h.fake.placeErr)
	assert.Zero(t, h.vault.Allowance(eth, h.fund.Address(), h.fake.Address()))
	assert.Empty(t, h.fund.OpenOrders())
}

func TestMakeOrder_FailedRevokeIsReported(t *testing.T) {
	h := newHarness(t, withFakeVenue(), withAssets(func(v *asset.Vault) core.AssetLedger {
		return &revokeRefusingLedger{Vault: v}
	}))
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))
	h.fake.placeErr = errors.New("venue down")

	_, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.Error(t, err)
	assert.ErrorIs(t, err, h.fake.placeErr)
	assert.Contains(t, err.Error(), "revoke approval")
	assert.Equal(t, oneETH, h.vault.Allowance(eth, h.fund.Address(), h.fake.Address()))
	assert.Empty(t, h.fund.OpenOrders())
}

func TestMakeOrder_RefusesReentry(t *testing.T) {
	h := newHarness(t, withFakeVenue())
	h.invest(alice, 2_000)
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))

	var nested error
	h.fake.onPlace = func() {
		_, nested = h.fund.RequestRedemption(alice, 1_000, 0, 0)
	}
	_, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)

	assert.ErrorIs(t, nested, core.ErrPreconditionFailed)
	_, ok := h.fund.Request(2)
	assert.False(t, ok, "nested request must not be filed")
}

func TestTakeOrder_FillsCounterOrder(t *testing.T) {
	h := newHarness(t)
	h.invest(alice, 2_000_000)

	// bob rests 1 ETH for 2000 USD
	require.NoError(t, h.vault.Credit(eth, bob, oneETH))
	require.NoError(t, h.vault.Approve(eth, bob, h.market.Address(), oneETH))
	handle, err := h.market.Place(bob, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)

	id, err := h.fund.TakeOrder(manager, handle, oneETH/2)
	require.NoError(t, err)

	assert.Equal(t, oneETH/2, h.fundBalance(eth))
	assert.Equal(t, int64(1_000_000), h.fundBalance(usd))
	assert.Equal(t, ethPrice/2, h.vault.BalanceOf(usd, bob))
	assert.Empty(t, h.fund.OpenOrders(), "takes settle immediately")

	order, ok := h.fund.Order(id)
	require.True(t, ok)
	assert.Equal(t, state.OrderTake, order.Kind)
	assert.Equal(t, state.OrderFullyFilled, order.Status)
	assert.Equal(t, usd, order.SellAsset)
	assert.Equal(t, eth, order.BuyAsset)

	// Value moved from USD to ETH at the oracle price.
	gav, err := h.fund.CalcGav()
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), gav)
}

func TestTakeOrder_Rejections(t *testing.T) {
	h := newHarness(t)
	h.invest(alice, 2_000_000)
	require.NoError(t, h.vault.Credit(eth, bob, oneETH))
	require.NoError(t, h.vault.Approve(eth, bob, h.market.Address(), oneETH))
	handle, err := h.market.Place(bob, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)

	_, err = h.fund.TakeOrder(alice, handle, 1_000)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	_, err = h.fund.TakeOrder(manager, handle, 2*oneETH)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	_, err = h.fund.TakeOrder(manager, "sm-404", 1_000)
	assert.Error(t, err)

	require.NoError(t, h.market.Cancel(handle))
	_, err = h.fund.TakeOrder(manager, handle, 1_000)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
	assert.Equal(t, int64(2_000_000), h.fundBalance(usd))
}

func TestCancelOrder_Permissions(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), 2*oneETH))
	first, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)
	second, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)

	assert.ErrorIs(t, h.fund.CancelOrder(alice, first), core.ErrPreconditionFailed)
	require.NoError(t, h.fund.CancelOrder(manager, first))
	assert.Equal(t, oneETH, h.fundBalance(eth))
	assert.Len(t, h.fund.OpenOrders(), 2, "slot is held until reconciliation")

	require.NoError(t, h.fund.Shutdown(manager))
	require.NoError(t, h.fund.CancelOrder(alice, second))
	assert.Equal(t, 2*oneETH, h.fundBalance(eth))

	assert.ErrorIs(t, h.fund.CancelOrder(manager, 404), core.ErrPreconditionFailed)
}

// ============================================================================
// Custody guard
// ============================================================================

func TestCloseOpenOrders_PartialFillAtMarket(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))
	id, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)
	handle := h.market.ActiveOffers()[0]

	// bob takes 0.4 ETH and pays the fund directly
	require.NoError(t, h.vault.Credit(usd, bob, 800_000))
	require.NoError(t, h.vault.Approve(usd, bob, h.market.Address(), 800_000))
	require.NoError(t, h.market.Take(handle, 400_000, bob))

	embezzled, err := h.fund.ProofOfEmbezzlement(manager, eth, usd)
	require.NoError(t, err)
	assert.False(t, embezzled, "resting remainder is still accounted for")

	_, err = h.fund.CloseOpenOrders(manager, eth, usd)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed, "order still active")

	require.NoError(t, h.fund.CancelOrder(manager, id))
	embezzled, err = h.fund.CloseOpenOrders(manager, eth, usd)
	require.NoError(t, err)
	assert.False(t, embezzled)
	assert.False(t, h.fund.IsShutDown())
	assert.Empty(t, h.fund.OpenOrders())

	order, _ := h.fund.Order(id)
	assert.Equal(t, state.OrderPartiallyFilled, order.Status)
	assert.Equal(t, int64(400_000), order.FillQty)
	assert.Equal(t, int64(600_000), h.fund.PreviousHoldings(eth))
	assert.Equal(t, int64(800_000), h.fund.PreviousHoldings(usd))
}

func TestCloseOpenOrders_NoMatchingSlots(t *testing.T) {
	h := newHarness(t)
	h.drain()

	embezzled, err := h.fund.CloseOpenOrders(manager, eth, usd)
	require.NoError(t, err)
	assert.False(t, embezzled)
	assert.Empty(t, h.drain())
}

func TestProofOfEmbezzlement_Symmetry(t *testing.T) {
	tests := []struct {
		name      string
		filled    int64
		returned  int64
		delivered int64
		theft     int64
		want      bool
	}{
		{"full fill", oneETH, 0, ethPrice, 0, false},
		{"over delivery", oneETH, 0, ethPrice + 5, 0, false},
		{"half fill", oneETH / 2, oneETH / 2, ethPrice / 2, 0, false},
		{"cancelled untouched", 0, oneETH, 0, 0, false},
		{"short delivery", oneETH, 0, ethPrice - 1, 0, true},
		{"half fill short delivery", oneETH / 2, oneETH / 2, ethPrice/2 - 1, 0, true},
		{"escrow withheld", 0, 0, 0, 0, true},
		{"vault drained", oneETH, 0, ethPrice, oneETH / 2, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, withFakeVenue())
			require.NoError(t, h.vault.Credit(eth, h.fund.Address(), 2*oneETH))
			id, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
			require.NoError(t, err)
			order, _ := h.fund.Order(id)

			h.fake.settle(t, order.VenueHandle, tt.filled, tt.returned, tt.delivered)
			if tt.theft > 0 {
				require.NoError(t, h.vault.Transfer(eth, h.fund.Address(), bob, tt.theft))
			}

			embezzled, err := h.fund.CloseOpenOrders(manager, eth, usd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, embezzled)
			assert.Equal(t, tt.want, h.fund.IsShutDown())
			assert.Empty(t, h.fund.OpenOrders(), "slots are freed either way")
			assert.Equal(t, h.fundBalance(eth), h.fund.PreviousHoldings(eth))
			assert.Equal(t, h.fundBalance(usd), h.fund.PreviousHoldings(usd))
		})
	}
}

func TestProofOfEmbezzlement_IgnoresFundFlows(t *testing.T) {
	h := newHarness(t, withFakeVenue())
	h.invest(alice, 3_000)
	id, err := h.fund.MakeOrder(manager, usd, eth, 2_000, 1_000)
	require.NoError(t, err)
	order, _ := h.fund.Order(id)

	// A subscription and a redemption move USD while the order rests.
	h.invest(bob, 1_000)
	reqID, err := h.fund.RequestRedemption(alice, 1_000, 1_000, 0)
	require.NoError(t, err)
	h.tick()
	h.tick()
	outcome, err := h.fund.ExecuteRequest(worker, reqID)
	require.NoError(t, err)
	require.Equal(t, state.OutcomeSettled, outcome)

	h.fake.settle(t, order.VenueHandle, 2_000, 0, 1_000)
	embezzled, err := h.fund.CloseOpenOrders(manager, usd, eth)
	require.NoError(t, err)
	assert.False(t, embezzled)
	assert.Equal(t, int64(1_000), h.fundBalance(usd))
	assert.Equal(t, int64(1_000), h.fundBalance(eth))
}

func TestProofOfEmbezzlement_ReportsEvent(t *testing.T) {
	h := newHarness(t, withFakeVenue())
	require.NoError(t, h.vault.Credit(eth, h.fund.Address(), oneETH))
	id, err := h.fund.MakeOrder(manager, eth, usd, oneETH, ethPrice)
	require.NoError(t, err)
	order, _ := h.fund.Order(id)
	h.fake.settle(t, order.VenueHandle, oneETH, 0, 0)
	h.drain()

	embezzled, err := h.fund.ProofOfEmbezzlement(manager, eth, usd)
	require.NoError(t, err)
	require.True(t, embezzled)

	var types []string
	for _, out := range h.drain() {
		types = append(types, out.Envelope.EventType.String())
	}
	assert.Equal(t, []string{"EmbezzlementDetected", "ShutdownToggled"}, types)

	// Trading is closed once shut down.
	_, err = h.fund.MakeOrder(manager, usd, eth, 1, 1)
	assert.ErrorIs(t, err, core.ErrPreconditionFailed)
}
