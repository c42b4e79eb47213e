package state_test

import (
	"math"
	"testing"
	"time"

	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1_700_000_000, 0)

func TestInitialCalculations(t *testing.T) {
	c := state.InitialCalculations(1_000, t0)
	assert.Equal(t, int64(1_000), c.SharePrice)
	assert.Zero(t, c.Gav)
	assert.Zero(t, c.Nav)
	assert.Zero(t, c.UnclaimedRewards)
	assert.Zero(t, c.TotalSupply)
	assert.True(t, c.Timestamp.Equal(t0))
}

func TestRequestBook_MonotonicIDs(t *testing.T) {
	b := state.NewRequestBook()
	r1 := b.File(state.Request{Owner: "alice", Kind: state.RequestSubscribe, NumShares: 10})
	r2 := b.File(state.Request{Owner: "bob", Kind: state.RequestRedeem, NumShares: 5})

	assert.Equal(t, int64(1), r1.ID)
	assert.Equal(t, int64(2), r2.ID)
	assert.Equal(t, int64(3), b.NextID())
	assert.Equal(t, state.RequestOpen, r1.Status)

	got, ok := b.Get(2)
	require.True(t, ok)
	assert.Equal(t, r2, got)

	_, ok = b.Get(0)
	assert.False(t, ok)
	_, ok = b.Get(3)
	assert.False(t, ok)
}

func TestRequestBook_CloseIsOneWay(t *testing.T) {
	b := state.NewRequestBook()
	r := b.File(state.Request{Owner: "alice", Kind: state.RequestSubscribe})

	require.NoError(t, b.Close(r.ID, state.RequestExecuted, state.OutcomeSettled, t0))
	assert.Equal(t, state.RequestExecuted, r.Status)
	assert.Equal(t, state.OutcomeSettled, r.Outcome)

	err := b.Close(r.ID, state.RequestCancelled, state.OutcomeNone, t0)
	require.Error(t, err)
	assert.Equal(t, state.RequestExecuted, r.Status, "terminal status must not change")

	r2 := b.File(state.Request{Owner: "alice", Kind: state.RequestRedeem})
	require.Error(t, b.Close(r2.ID, state.RequestOpen, state.OutcomeNone, t0))
}

func TestRequestBook_SnapshotRestore(t *testing.T) {
	b := state.NewRequestBook()
	b.File(state.Request{Owner: "alice", Kind: state.RequestSubscribe, Value: 100})
	b.File(state.Request{Owner: "bob", Kind: state.RequestRedeem, Value: 50})

	snap := b.Snapshot()
	snap[0].Value = 999

	r, _ := b.Get(1)
	assert.Equal(t, int64(100), r.Value, "snapshot must be a copy")

	other := state.NewRequestBook()
	require.NoError(t, other.Restore(b.Snapshot()))
	assert.Equal(t, 2, other.Len())
	assert.Equal(t, int64(3), other.NextID())

	bad := []state.Request{{ID: 2}}
	assert.Error(t, other.Restore(bad))
}

func TestRequestKind_Valid(t *testing.T) {
	assert.True(t, state.RequestSubscribe.Valid())
	assert.True(t, state.RequestRedeem.Valid())
	assert.False(t, state.RequestKind(0).Valid())
	assert.Equal(t, "settlement_mismatch", state.OutcomeSettlementMismatch.String())
}

func TestOrderBook_ArenaCapacity(t *testing.T) {
	b := state.NewOrderBook(2)
	assert.Equal(t, 2, b.Capacity())

	for i := 0; i < 2; i++ {
		o := b.Record(state.Order{SellAsset: "ETH", BuyAsset: "USD", SellQty: 1, BuyQty: 2, Kind: state.OrderMake})
		slot, ok := b.FreeSlot()
		require.True(t, ok)
		require.NoError(t, b.Occupy(slot, o.ID))
	}

	_, ok := b.FreeSlot()
	assert.False(t, ok, "arena should be full")
	assert.Equal(t, 2, b.OpenCount())

	b.Release(0)
	slot, ok := b.FreeSlot()
	require.True(t, ok)
	assert.Equal(t, 0, slot, "lowest free index is reused")
}

func TestOrderBook_OccupyErrors(t *testing.T) {
	b := state.NewOrderBook(1)
	o := b.Record(state.Order{Kind: state.OrderMake})

	assert.Error(t, b.Occupy(1, o.ID), "out of range")
	assert.Error(t, b.Occupy(0, 42), "unknown order")
	require.NoError(t, b.Occupy(0, o.ID))
	assert.Error(t, b.Occupy(0, o.ID), "occupied")
}

func TestOrderBook_IntendedQuantities(t *testing.T) {
	b := state.NewOrderBook(4)
	place := func(sell, buy string, sellQty, buyQty int64) {
		o := b.Record(state.Order{SellAsset: ledgerAsset(sell), BuyAsset: ledgerAsset(buy), SellQty: sellQty, BuyQty: buyQty, Kind: state.OrderMake})
		slot, _ := b.FreeSlot()
		require.NoError(t, b.Occupy(slot, o.ID))
	}
	place("ETH", "USD", 10, 20_000)
	place("ETH", "USD", 5, 10_500)
	place("BTC", "ETH", 1, 15)

	intended := func(sum int64, err error) int64 {
		require.NoError(t, err)
		return sum
	}
	assert.Equal(t, int64(15), intended(b.IntendedSell("ETH")))
	assert.Equal(t, int64(30_500), intended(b.IntendedBuy("USD")))
	assert.Equal(t, int64(15), intended(b.IntendedBuy("ETH")))
	assert.Len(t, b.SlotsFor("ETH", "USD"), 2)
	assert.Len(t, b.SlotsFor("USD", "ETH"), 0)
	assert.True(t, b.Touches("BTC"))
	assert.False(t, b.Touches("DAI"))

	// Take orders never occupy a slot
	b.Record(state.Order{SellAsset: "DAI", BuyAsset: "USD", Kind: state.OrderTake, Status: state.OrderFullyFilled})
	assert.Equal(t, 3, b.OpenCount())
	assert.Equal(t, 4, b.Len())
}

func TestOrderBook_IntendedQuantitiesOverflow(t *testing.T) {
	b := state.NewOrderBook(2)
	for i := 0; i < 2; i++ {
		o := b.Record(state.Order{SellAsset: "ETH", BuyAsset: "USD", SellQty: math.MaxInt64/2 + 1, BuyQty: math.MaxInt64, Kind: state.OrderMake})
		require.NoError(t, b.Occupy(i, o.ID))
	}

	_, err := b.IntendedSell("ETH")
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
	_, err = b.IntendedBuy("USD")
	assert.ErrorIs(t, err, fpmath.ErrOverflow)
}

func TestOrderBook_SnapshotRestore(t *testing.T) {
	b := state.NewOrderBook(3)
	o := b.Record(state.Order{SellAsset: "ETH", BuyAsset: "USD", SellQty: 1, BuyQty: 1, Kind: state.OrderMake})
	require.NoError(t, b.Occupy(1, o.ID))

	orders, slots := b.Snapshot()
	restored := state.NewOrderBook(3)
	require.NoError(t, restored.Restore(orders, slots))
	assert.Equal(t, 1, restored.OpenCount())
	open := restored.OpenSlots()
	require.Len(t, open, 1)
	assert.Equal(t, 1, open[0].Index)

	small := state.NewOrderBook(2)
	assert.Error(t, small.Restore(orders, []int64{0, 0, 1}))
	assert.Error(t, restored.Restore(orders, []int64{7}))
}

func TestHoldings_Clone(t *testing.T) {
	h := state.Holdings{}
	h.Set("ETH", 10)
	c := h.Clone()
	c.Set("ETH", 0)
	assert.Equal(t, int64(10), h.Get("ETH"))
	assert.Zero(t, h.Get("USD"))
}

func ledgerAsset(s string) ledger.Asset { return ledger.Asset(s) }
