package server

import (
	"net/http"

	"FundLedger/internal/core"
	"FundLedger/internal/ledger"
	"FundLedger/internal/sequencer"

	"github.com/shopspring/decimal"
)

// AssetLedger is the participant side of the fungible-asset primitive:
// investors approve the fund before subscribing, counterparties approve the
// venue before posting offers.
type AssetLedger interface {
	BalanceOf(asset ledger.Asset, owner ledger.Address) int64
	Allowance(asset ledger.Asset, owner, spender ledger.Address) int64
	Approve(asset ledger.Asset, owner, spender ledger.Address, amount int64) error
}

// OfferBook lets counterparties rest offers on the venue the fund trades
// against.
type OfferBook interface {
	Address() ledger.Address
	Place(maker ledger.Address, sell, buy ledger.Asset, sellQty, buyQty int64) (string, error)
}

// --- Asset ledger ---

// AssetBalanceResponse is an owner's holding of one asset and what it has
// allowed the fund and the venue to pull.
type AssetBalanceResponse struct {
	Asset          string          `json:"asset"`
	Owner          string          `json:"owner"`
	Balance        decimal.Decimal `json:"balance"`
	FundAllowance  decimal.Decimal `json:"fund_allowance"`
	VenueAllowance decimal.Decimal `json:"venue_allowance"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

func (g *gateway) getAssetBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if g.deps.Assets == nil {
		g.writeError(w, r, sequencer.ErrStopped)
		return
	}
	a, owner := ledger.Asset(params["asset"]), ledger.Address(params["owner"])
	v, err := g.deps.Commands.Submit(r.Context(), sequencer.Command{
		Name: "query_asset_balance",
		Run: func(f *core.Fund) (any, error) {
			dec, ok := f.Decimals(a)
			if !ok {
				return nil, badInput("unknown asset %s", a)
			}
			resp := &AssetBalanceResponse{
				Asset:         a.String(),
				Owner:         owner.String(),
				Balance:       decimal.New(g.deps.Assets.BalanceOf(a, owner), -int32(dec)),
				FundAllowance: decimal.New(g.deps.Assets.Allowance(a, owner, f.Address()), -int32(dec)),
				AsOfSequence:  f.Sequence(),
			}
			if g.deps.Offers != nil {
				resp.VenueAllowance = decimal.New(g.deps.Assets.Allowance(a, owner, g.deps.Offers.Address()), -int32(dec))
			}
			return resp, nil
		},
	})
	g.respond(w, r, v, err)
}

type approveBody struct {
	Asset string `json:"asset"`
	// Spender is "fund", "venue" or a raw address; empty means the fund
	Spender string          `json:"spender"`
	Amount  decimal.Decimal `json:"amount"`
}

// ApprovalResponse echoes the allowance now in force.
type ApprovalResponse struct {
	Asset        string          `json:"asset"`
	Spender      string          `json:"spender"`
	Allowance    decimal.Decimal `json:"allowance"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

func (g *gateway) approve(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Assets == nil {
		g.writeError(w, r, sequencer.ErrStopped)
		return
	}
	var body approveBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	a := ledger.Asset(body.Asset)
	g.command(w, r, "approve", func(f *core.Fund, who ledger.Address) (any, error) {
		spender, err := g.spender(f, body.Spender)
		if err != nil {
			return nil, err
		}
		amount, err := units(f, a, body.Amount)
		if err != nil {
			return nil, err
		}
		if err := g.deps.Assets.Approve(a, who, spender, amount); err != nil {
			return nil, err
		}
		dec, _ := f.Decimals(a)
		return &ApprovalResponse{
			Asset:        a.String(),
			Spender:      spender.String(),
			Allowance:    decimal.New(g.deps.Assets.Allowance(a, who, spender), -int32(dec)),
			AsOfSequence: f.Sequence(),
		}, nil
	})
}

func (g *gateway) spender(f *core.Fund, name string) (ledger.Address, error) {
	switch name {
	case "", "fund":
		return f.Address(), nil
	case "venue":
		if g.deps.Offers == nil {
			return "", badInput("no venue configured")
		}
		return g.deps.Offers.Address(), nil
	default:
		return ledger.Address(name), nil
	}
}

// --- Venue offers ---

// OfferPlacedResponse carries the handle a take order refers to.
type OfferPlacedResponse struct {
	Handle       string `json:"handle"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// placeOffer rests a counterparty offer on the venue. The caller must have
// approved the venue for the sell quantity.
func (g *gateway) placeOffer(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Offers == nil {
		g.writeError(w, r, sequencer.ErrStopped)
		return
	}
	var body makeOrderBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	sell, buy := ledger.Asset(body.SellAsset), ledger.Asset(body.BuyAsset)
	g.command(w, r, "place_offer", func(f *core.Fund, who ledger.Address) (any, error) {
		sellQty, err := units(f, sell, body.SellQty)
		if err != nil {
			return nil, err
		}
		buyQty, err := units(f, buy, body.BuyQty)
		if err != nil {
			return nil, err
		}
		handle, err := g.deps.Offers.Place(who, sell, buy, sellQty, buyQty)
		if err != nil {
			return nil, err
		}
		return &OfferPlacedResponse{Handle: handle, AsOfSequence: f.Sequence()}, nil
	})
}
