package venue

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
)

var (
	ErrUnknownOrder  = errors.New("venue: unknown order")
	ErrOrderInactive = errors.New("venue: order not active")
	ErrInvalidOrder  = errors.New("venue: invalid order")
)

type offer struct {
	handle  string
	maker   ledger.Address
	sell    ledger.Asset
	buy     ledger.Asset
	remSell int64
	remBuy  int64
	active  bool
}

// SimpleMarket is an in-process order book. Makers' sell quantities are
// escrowed at the market address until taken or cancelled; takers pay the
// maker directly.
type SimpleMarket struct {
	mu      sync.Mutex
	address ledger.Address
	assets  Transferer
	offers  map[string]*offer
	nextID  int64
}

func NewSimpleMarket(assets Transferer) *SimpleMarket {
	return &SimpleMarket{
		address: ledger.NewExternalAddress("simple-market"),
		assets:  assets,
		offers:  make(map[string]*offer),
	}
}

func (m *SimpleMarket) Address() ledger.Address {
	return m.address
}

func (m *SimpleMarket) Place(maker ledger.Address, sell, buy ledger.Asset, sellQty, buyQty int64) (string, error) {
	if sellQty <= 0 || buyQty <= 0 || sell == buy {
		return "", fmt.Errorf("%w: %d %s for %d %s", ErrInvalidOrder, sellQty, sell, buyQty, buy)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.assets.TransferFrom(sell, m.address, maker, m.address, sellQty); err != nil {
		return "", fmt.Errorf("escrow: %w", err)
	}
	m.nextID++
	o := &offer{
		handle:  fmt.Sprintf("sm-%d", m.nextID),
		maker:   maker,
		sell:    sell,
		buy:     buy,
		remSell: sellQty,
		remBuy:  buyQty,
		active:  true,
	}
	m.offers[o.handle] = o
	return o.handle, nil
}

// Take buys qty of the offer's sell asset for taker at the offer's price.
func (m *SimpleMarket) Take(handle string, qty int64, taker ledger.Address) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.activeOffer(handle)
	if err != nil {
		return err
	}
	if qty <= 0 || qty > o.remSell {
		return fmt.Errorf("%w: take %d of %d", ErrInvalidOrder, qty, o.remSell)
	}
	cost, err := core.TakeCost(o.terms(), qty)
	if err != nil {
		return err
	}

	if err := m.assets.TransferFrom(o.buy, m.address, taker, o.maker, cost); err != nil {
		return fmt.Errorf("taker payment: %w", err)
	}
	if err := m.assets.Transfer(o.sell, m.address, taker, qty); err != nil {
		return fmt.Errorf("release escrow: %w", err)
	}

	o.remSell -= qty
	o.remBuy -= cost
	if o.remBuy < 0 {
		o.remBuy = 0
	}
	if o.remSell == 0 {
		o.active = false
	}
	return nil
}

// Cancel returns the unfilled escrow to the maker.
func (m *SimpleMarket) Cancel(handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, err := m.activeOffer(handle)
	if err != nil {
		return err
	}
	if err := m.assets.Transfer(o.sell, m.address, o.maker, o.remSell); err != nil {
		return fmt.Errorf("return escrow: %w", err)
	}
	o.active = false
	return nil
}

func (m *SimpleMarket) Lookup(handle string) (core.OrderTerms, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.offers[handle]
	if !ok {
		return core.OrderTerms{}, fmt.Errorf("%w: %s", ErrUnknownOrder, handle)
	}
	return o.terms(), nil
}

// ActiveOffers returns the handles of resting offers, sorted.
func (m *SimpleMarket) ActiveOffers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for h, o := range m.offers {
		if o.active {
			out = append(out, h)
		}
	}
	sort.Strings(out)
	return out
}

func (m *SimpleMarket) activeOffer(handle string) (*offer, error) {
	o, ok := m.offers[handle]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, handle)
	}
	if !o.active {
		return nil, fmt.Errorf("%w: %s", ErrOrderInactive, handle)
	}
	return o, nil
}

func (o *offer) terms() core.OrderTerms {
	return core.OrderTerms{
		Maker:     o.maker,
		SellAsset: o.sell,
		BuyAsset:  o.buy,
		SellQty:   o.remSell,
		BuyQty:    o.remBuy,
		Active:    o.active,
	}
}

// OfferState is a serializable resting or finished offer.
type OfferState struct {
	Handle  string         `json:"handle"`
	Maker   ledger.Address `json:"maker"`
	Sell    ledger.Asset   `json:"sell"`
	Buy     ledger.Asset   `json:"buy"`
	RemSell int64          `json:"rem_sell"`
	RemBuy  int64          `json:"rem_buy"`
	Active  bool           `json:"active"`
}

type MarketState struct {
	NextID int64        `json:"next_id"`
	Offers []OfferState `json:"offers"`
}

func (m *SimpleMarket) Snapshot() *MarketState {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := &MarketState{NextID: m.nextID, Offers: make([]OfferState, 0, len(m.offers))}
	for _, o := range m.offers {
		st.Offers = append(st.Offers, OfferState{
			Handle: o.handle, Maker: o.maker, Sell: o.sell, Buy: o.buy,
			RemSell: o.remSell, RemBuy: o.remBuy, Active: o.active,
		})
	}
	sort.Slice(st.Offers, func(i, j int) bool { return st.Offers[i].Handle < st.Offers[j].Handle })
	return st
}

// Restore replaces the book. Escrowed balances live in the asset ledger
// and are restored with it.
func (m *SimpleMarket) Restore(st *MarketState) error {
	offers := make(map[string]*offer, len(st.Offers))
	for _, s := range st.Offers {
		if s.Handle == "" || s.RemSell < 0 || s.RemBuy < 0 {
			return fmt.Errorf("%w: snapshot offer %q", ErrInvalidOrder, s.Handle)
		}
		if _, dup := offers[s.Handle]; dup {
			return fmt.Errorf("%w: duplicate offer %q", ErrInvalidOrder, s.Handle)
		}
		offers[s.Handle] = &offer{
			handle: s.Handle, maker: s.Maker, sell: s.Sell, buy: s.Buy,
			remSell: s.RemSell, remBuy: s.RemBuy, active: s.Active,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.offers = offers
	m.nextID = st.NextID
	return nil
}
