package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"
	"FundLedger/internal/query"
	"FundLedger/internal/sequencer"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// CallerHeader names the address a command acts as.
	CallerHeader = "X-Fund-Caller"
	// IdempotencyHeader carries an optional client command id.
	IdempotencyHeader = "Idempotency-Key"

	defaultRequestTimeout = 10 * time.Second
)

// CommandRunner executes work on the fund's sequencer.
type CommandRunner interface {
	Submit(ctx context.Context, cmd sequencer.Command) (any, error)
}

// PriceInjector applies operator prices, in smallest units.
type PriceInjector interface {
	InjectPrices(ctx context.Context, prices map[ledger.Asset]int64) (gap bool, err error)
}

// Snapshotter persists a verified snapshot on demand.
type Snapshotter interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// GatewayDeps holds what the HTTP/JSON routes serve from. Prices,
// Snapshots, Assets and Offers are optional; their routes answer 503 when
// unset.
type GatewayDeps struct {
	Commands  CommandRunner
	Queries   *query.QueryService
	Prices    PriceInjector
	Snapshots Snapshotter
	Assets    AssetLedger
	Offers    OfferBook
	Metrics   *observability.Metrics
	Timeout   time.Duration

	// Set from ServerDeps by NewHTTPHandler
	Logger zerolog.Logger
}

type gateway struct {
	deps      GatewayDeps
	marshaler runtime.Marshaler
}

// NewGatewayMux builds the grpc-gateway mux with every fund route.
func NewGatewayMux(deps GatewayDeps) (*runtime.ServeMux, error) {
	if deps.Timeout <= 0 {
		deps.Timeout = defaultRequestTimeout
	}
	g := &gateway{deps: deps, marshaler: &runtime.JSONBuiltin{}}
	mux := runtime.NewServeMux()

	routes := []struct {
		method, path, name string
		h                  runtime.HandlerFunc
	}{
		// Queries
		{http.MethodGet, "/v1/fund/status", "status", g.getStatus},
		{http.MethodGet, "/v1/fund/calculations", "calculations", g.getCalculations},
		{http.MethodGet, "/v1/fund/holdings", "holdings", g.getHoldings},
		{http.MethodGet, "/v1/fund/balances/{owner}", "balance", g.getBalance},
		{http.MethodGet, "/v1/fund/requests/{id}", "request", g.getRequest},
		{http.MethodGet, "/v1/fund/orders", "open_orders", g.listOpenOrders},
		{http.MethodGet, "/v1/fund/orders/{id}", "order", g.getOrder},
		{http.MethodGet, "/v1/fund/events", "events", g.listEvents},

		// Request lifecycle
		{http.MethodPost, "/v1/fund/subscriptions", "request_subscription", g.requestSubscription},
		{http.MethodPost, "/v1/fund/redemptions", "request_redemption", g.requestRedemption},
		{http.MethodPost, "/v1/fund/requests/{id}/execute", "execute_request", g.executeRequest},
		{http.MethodPost, "/v1/fund/requests/{id}/cancel", "cancel_request", g.cancelRequest},
		{http.MethodPost, "/v1/fund/slice", "redeem_slice", g.redeemUsingSlice},

		// Trading and custody
		{http.MethodPost, "/v1/fund/orders/make", "make_order", g.makeOrder},
		{http.MethodPost, "/v1/fund/orders/take", "take_order", g.takeOrder},
		{http.MethodPost, "/v1/fund/orders/{id}/cancel", "cancel_order", g.cancelOrder},
		{http.MethodPost, "/v1/fund/orders/close", "close_open_orders", g.closeOpenOrders},
		{http.MethodPost, "/v1/fund/proof-of-embezzlement", "proof_of_embezzlement", g.proofOfEmbezzlement},

		// Manager
		{http.MethodPost, "/v1/fund/fees/convert", "convert_fees", g.convertFees},
		{http.MethodPut, "/v1/fund/settings", "settings", g.updateSettings},
		{http.MethodPost, "/v1/fund/stake", "stake", g.stake},
		{http.MethodPost, "/v1/fund/unstake", "unstake", g.unstake},
		{http.MethodPost, "/v1/fund/shutdown", "shutdown", g.shutdown},

		// Participants
		{http.MethodGet, "/v1/assets/{asset}/balances/{owner}", "asset_balance", g.getAssetBalance},
		{http.MethodPost, "/v1/assets/approvals", "approve", g.approve},
		{http.MethodPost, "/v1/venue/offers", "place_offer", g.placeOffer},

		// Admin
		{http.MethodPost, "/v1/admin/prices", "inject_prices", g.injectPrices},
		{http.MethodPost, "/v1/admin/snapshots", "snapshot", g.takeSnapshot},
		{http.MethodGet, "/v1/admin/integrity", "integrity", g.verifyIntegrity},
	}
	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.path, g.instrument(rt.name, rt.h)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

type endpointKey struct{}

func endpoint(r *http.Request) string {
	name, _ := r.Context().Value(endpointKey{}).(string)
	return name
}

// instrument wraps a route with the query metrics and a request deadline.
func (g *gateway) instrument(name string, h runtime.HandlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		ctx, cancel := context.WithTimeout(r.Context(), g.deps.Timeout)
		defer cancel()
		ctx = context.WithValue(ctx, endpointKey{}, name)

		h(w, r.WithContext(ctx), params)

		if m := g.deps.Metrics; m != nil {
			m.QueryRequests.WithLabelValues(name).Inc()
			m.QueryDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
	}
}

func (g *gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := g.marshaler.Marshal(v)
	if err != nil {
		g.deps.Logger.Error().Err(err).Msg("marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", g.marshaler.ContentType(v))
	w.WriteHeader(status)
	w.Write(b)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (g *gateway) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if m := g.deps.Metrics; m != nil {
		m.QueryErrors.WithLabelValues(endpoint(r), code).Inc()
	}
	if status >= http.StatusInternalServerError {
		g.deps.Logger.Error().Err(err).Str("endpoint", endpoint(r)).Msg("request failed")
	} else {
		g.deps.Logger.Debug().Err(err).Str("endpoint", endpoint(r)).Int("status", status).Msg("request rejected")
	}
	g.writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func (g *gateway) decode(r *http.Request, v any) error {
	if err := g.marshaler.NewDecoder(r.Body).Decode(v); err != nil {
		return badInput("invalid request body: %v", err)
	}
	return nil
}

func pathID(params map[string]string) (int64, error) {
	id, err := strconv.ParseInt(params["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, badInput("invalid id %q", params["id"])
	}
	return id, nil
}

func caller(r *http.Request) (ledger.Address, error) {
	c := r.Header.Get(CallerHeader)
	if c == "" {
		return "", badInput("missing %s header", CallerHeader)
	}
	// Fund and venue accounts only move through the engine.
	who := ledger.Address(c)
	if who.Scope() != ledger.AccountScopeInvestor {
		return "", badInput("%s cannot act as %s", CallerHeader, c)
	}
	return who, nil
}

// units converts a decimal amount of a to its smallest unit. It runs on the
// sequencer goroutine.
func units(f *core.Fund, a ledger.Asset, d decimal.Decimal) (int64, error) {
	dec, ok := f.Decimals(a)
	if !ok {
		return 0, badInput("unknown asset %s", a)
	}
	u, err := ingestion.ToUnits(d, dec)
	if err != nil {
		return 0, badInput("%s amount: %v", a, err)
	}
	return u, nil
}

func shareUnits(f *core.Fund, d decimal.Decimal) (int64, error) {
	return units(f, f.BaseAsset(), d)
}

// command runs fn as a keyed sequencer command on behalf of the caller
// header and writes its result.
func (g *gateway) command(w http.ResponseWriter, r *http.Request, name string,
	fn func(f *core.Fund, caller ledger.Address) (any, error)) {
	who, err := caller(r)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	result, err := g.deps.Commands.Submit(r.Context(), sequencer.Command{
		Name:           name,
		IdempotencyKey: r.Header.Get(IdempotencyHeader),
		Run:            func(f *core.Fund) (any, error) { return fn(f, who) },
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, result)
}

// --- Queries ---

func (g *gateway) getStatus(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.deps.Queries.GetStatus(r.Context())
	g.respond(w, r, resp, err)
}

func (g *gateway) getCalculations(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	live, _ := strconv.ParseBool(r.URL.Query().Get("live"))
	resp, err := g.deps.Queries.GetCalculations(r.Context(), live)
	g.respond(w, r, resp, err)
}

func (g *gateway) getHoldings(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.deps.Queries.GetHoldings(r.Context())
	g.respond(w, r, resp, err)
}

func (g *gateway) getBalance(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := g.deps.Queries.GetShareBalance(r.Context(), ledger.Address(params["owner"]))
	g.respond(w, r, resp, err)
}

func (g *gateway) getRequest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	resp, err := g.deps.Queries.GetRequest(r.Context(), id)
	g.respond(w, r, resp, err)
}

func (g *gateway) getOrder(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	resp, err := g.deps.Queries.GetOrder(r.Context(), id)
	g.respond(w, r, resp, err)
}

func (g *gateway) listOpenOrders(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.deps.Queries.ListOpenOrders(r.Context())
	g.respond(w, r, resp, err)
}

func (g *gateway) listEvents(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	q := r.URL.Query()
	from, _ := strconv.ParseInt(q.Get("from"), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	resp, err := g.deps.Queries.ListEvents(r.Context(), from, limit)
	g.respond(w, r, resp, err)
}

func (g *gateway) verifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := g.deps.Queries.VerifyIntegrity(r.Context())
	g.respond(w, r, resp, err)
}

func (g *gateway) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, v)
}

// --- Request lifecycle ---

type requestBody struct {
	NumShares decimal.Decimal `json:"num_shares"`
	// Offered value for subscriptions, requested value for redemptions
	Value     decimal.Decimal `json:"value"`
	Incentive decimal.Decimal `json:"incentive"`
}

// RequestFiledResponse answers a subscription or redemption request.
type RequestFiledResponse struct {
	RequestID    int64 `json:"request_id"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

func (g *gateway) fileRequest(w http.ResponseWriter, r *http.Request, name string,
	file func(f *core.Fund, caller ledger.Address, shares, value, incentive int64) (int64, error)) {
	var body requestBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, name, func(f *core.Fund, who ledger.Address) (any, error) {
		shares, err := shareUnits(f, body.NumShares)
		if err != nil {
			return nil, err
		}
		value, err := units(f, f.BaseAsset(), body.Value)
		if err != nil {
			return nil, err
		}
		incentive, err := units(f, f.BaseAsset(), body.Incentive)
		if err != nil {
			return nil, err
		}
		id, err := file(f, who, shares, value, incentive)
		if err != nil {
			return nil, err
		}
		return &RequestFiledResponse{RequestID: id, AsOfSequence: f.Sequence()}, nil
	})
}

func (g *gateway) requestSubscription(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.fileRequest(w, r, "request_subscription", (*core.Fund).RequestSubscription)
}

func (g *gateway) requestRedemption(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.fileRequest(w, r, "request_redemption", (*core.Fund).RequestRedemption)
}

// ExecutionResponse reports how an executed request settled.
type ExecutionResponse struct {
	RequestID    int64  `json:"request_id"`
	Outcome      string `json:"outcome"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

func (g *gateway) executeRequest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, "execute_request", func(f *core.Fund, who ledger.Address) (any, error) {
		outcome, err := f.ExecuteRequest(who, id)
		if err != nil {
			return nil, err
		}
		return &ExecutionResponse{RequestID: id, Outcome: outcome.String(), AsOfSequence: f.Sequence()}, nil
	})
}

// AckResponse answers commands that return nothing but success.
type AckResponse struct {
	AsOfSequence int64 `json:"as_of_sequence"`
}

func (g *gateway) cancelRequest(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, "cancel_request", func(f *core.Fund, who ledger.Address) (any, error) {
		if err := f.CancelRequest(who, id); err != nil {
			return nil, err
		}
		return &AckResponse{AsOfSequence: f.Sequence()}, nil
	})
}

type sliceBody struct {
	NumShares decimal.Decimal `json:"num_shares"`
}

// SliceResponse lists what a slice redemption paid out per asset.
type SliceResponse struct {
	Paid         map[string]decimal.Decimal `json:"paid"`
	AsOfSequence int64                      `json:"as_of_sequence"`
}

func (g *gateway) redeemUsingSlice(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body sliceBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, "redeem_slice", func(f *core.Fund, who ledger.Address) (any, error) {
		shares, err := shareUnits(f, body.NumShares)
		if err != nil {
			return nil, err
		}
		paid, err := f.RedeemUsingSlice(who, shares)
		if err != nil {
			return nil, err
		}
		resp := &SliceResponse{Paid: make(map[string]decimal.Decimal, len(paid)), AsOfSequence: f.Sequence()}
		for a, u := range paid {
			dec, _ := f.Decimals(a)
			resp.Paid[a.String()] = decimal.New(u, -int32(dec))
		}
		return resp, nil
	})
}

// --- Trading and custody ---

type makeOrderBody struct {
	SellAsset string          `json:"sell_asset"`
	BuyAsset  string          `json:"buy_asset"`
	SellQty   decimal.Decimal `json:"sell_qty"`
	BuyQty    decimal.Decimal `json:"buy_qty"`
}

// OrderRecordedResponse names the order a make or take recorded.
type OrderRecordedResponse struct {
	OrderID      int64 `json:"order_id"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

func (g *gateway) makeOrder(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body makeOrderBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	sell, buy := ledger.Asset(body.SellAsset), ledger.Asset(body.BuyAsset)
	g.command(w, r, "make_order", func(f *core.Fund, who ledger.Address) (any, error) {
		sellQty, err := units(f, sell, body.SellQty)
		if err != nil {
			return nil, err
		}
		buyQty, err := units(f, buy, body.BuyQty)
		if err != nil {
			return nil, err
		}
		id, err := f.MakeOrder(who, sell, buy, sellQty, buyQty)
		if err != nil {
			return nil, err
		}
		return &OrderRecordedResponse{OrderID: id, AsOfSequence: f.Sequence()}, nil
	})
}

type takeOrderBody struct {
	Handle string `json:"handle"`
	// Qty is in the counter-order's sell asset
	Qty decimal.Decimal `json:"qty"`
}

func (g *gateway) takeOrder(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body takeOrderBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	if body.Handle == "" {
		g.writeError(w, r, badInput("missing handle"))
		return
	}
	g.command(w, r, "take_order", func(f *core.Fund, who ledger.Address) (any, error) {
		terms, err := f.CounterOrder(body.Handle)
		if err != nil {
			return nil, err
		}
		qty, err := units(f, terms.SellAsset, body.Qty)
		if err != nil {
			return nil, err
		}
		id, err := f.TakeOrder(who, body.Handle, qty)
		if err != nil {
			return nil, err
		}
		return &OrderRecordedResponse{OrderID: id, AsOfSequence: f.Sequence()}, nil
	})
}

func (g *gateway) cancelOrder(w http.ResponseWriter, r *http.Request, params map[string]string) {
	id, err := pathID(params)
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, "cancel_order", func(f *core.Fund, who ledger.Address) (any, error) {
		if err := f.CancelOrder(who, id); err != nil {
			return nil, err
		}
		return &AckResponse{AsOfSequence: f.Sequence()}, nil
	})
}

type pairBody struct {
	Base  string `json:"base"`
	Quote string `json:"quote"`
}

// CustodyResponse is the verdict of a custody check.
type CustodyResponse struct {
	Embezzled    bool   `json:"embezzled"`
	Status       string `json:"status"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

func (g *gateway) custody(w http.ResponseWriter, r *http.Request, name string,
	check func(f *core.Fund, caller ledger.Address, base, quote ledger.Asset) (bool, error)) {
	var body pairBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, name, func(f *core.Fund, who ledger.Address) (any, error) {
		embezzled, err := check(f, who, ledger.Asset(body.Base), ledger.Asset(body.Quote))
		if err != nil {
			return nil, err
		}
		return &CustodyResponse{Embezzled: embezzled, Status: f.Status().String(), AsOfSequence: f.Sequence()}, nil
	})
}

func (g *gateway) closeOpenOrders(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.custody(w, r, "close_open_orders", (*core.Fund).CloseOpenOrders)
}

func (g *gateway) proofOfEmbezzlement(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.custody(w, r, "proof_of_embezzlement", (*core.Fund).ProofOfEmbezzlement)
}

// --- Manager ---

func (g *gateway) convertFees(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.command(w, r, "convert_fees", func(f *core.Fund, who ledger.Address) (any, error) {
		if _, err := f.ConvertUnclaimedRewards(who); err != nil {
			return nil, err
		}
		return query.CommittedCalculations(f), nil
	})
}

type settingsBody struct {
	SubscriptionsEnabled *bool `json:"subscriptions_enabled"`
	RedemptionsEnabled   *bool `json:"redemptions_enabled"`
}

// SettingsResponse echoes the toggles after an update.
type SettingsResponse struct {
	SubscriptionsEnabled bool  `json:"subscriptions_enabled"`
	RedemptionsEnabled   bool  `json:"redemptions_enabled"`
	AsOfSequence         int64 `json:"as_of_sequence"`
}

func (g *gateway) updateSettings(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var body settingsBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	if body.SubscriptionsEnabled == nil && body.RedemptionsEnabled == nil {
		g.writeError(w, r, badInput("no setting given"))
		return
	}
	g.command(w, r, "settings", func(f *core.Fund, who ledger.Address) (any, error) {
		if body.SubscriptionsEnabled != nil {
			if err := f.SetSubscriptionsEnabled(who, *body.SubscriptionsEnabled); err != nil {
				return nil, err
			}
		}
		if body.RedemptionsEnabled != nil {
			if err := f.SetRedemptionsEnabled(who, *body.RedemptionsEnabled); err != nil {
				return nil, err
			}
		}
		return &SettingsResponse{
			SubscriptionsEnabled: f.SubscriptionsEnabled(),
			RedemptionsEnabled:   f.RedemptionsEnabled(),
			AsOfSequence:         f.Sequence(),
		}, nil
	})
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount"`
}

func (g *gateway) stakeCommand(w http.ResponseWriter, r *http.Request, name string,
	move func(f *core.Fund, caller ledger.Address, amount int64) error) {
	var body amountBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	g.command(w, r, name, func(f *core.Fund, who ledger.Address) (any, error) {
		amount, err := shareUnits(f, body.Amount)
		if err != nil {
			return nil, err
		}
		if err := move(f, who, amount); err != nil {
			return nil, err
		}
		return &AckResponse{AsOfSequence: f.Sequence()}, nil
	})
}

func (g *gateway) stake(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.stakeCommand(w, r, "stake", (*core.Fund).StakeShares)
}

func (g *gateway) unstake(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.stakeCommand(w, r, "unstake", (*core.Fund).UnstakeShares)
}

func (g *gateway) shutdown(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	g.command(w, r, "shutdown", func(f *core.Fund, who ledger.Address) (any, error) {
		if err := f.Shutdown(who); err != nil {
			return nil, err
		}
		return &AckResponse{AsOfSequence: f.Sequence()}, nil
	})
}

// --- Admin ---

type pricesBody struct {
	Prices map[string]decimal.Decimal `json:"prices"`
}

// PricesResponse reports whether the injected update skipped sequences.
type PricesResponse struct {
	Gap bool `json:"gap"`
}

func (g *gateway) injectPrices(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Prices == nil {
		g.writeError(w, r, sequencer.ErrStopped)
		return
	}
	var body pricesBody
	if err := g.decode(r, &body); err != nil {
		g.writeError(w, r, err)
		return
	}
	if len(body.Prices) == 0 {
		g.writeError(w, r, badInput("no prices"))
		return
	}

	// Decimals are read on the sequencer; the update itself goes through
	// the price processor like any feed.
	v, err := g.deps.Commands.Submit(r.Context(), sequencer.Command{
		Name: "price_units",
		Run: func(f *core.Fund) (any, error) {
			out := make(map[ledger.Asset]int64, len(body.Prices))
			for sym, d := range body.Prices {
				u, err := units(f, ledger.Asset(sym), d)
				if err != nil {
					return nil, err
				}
				out[ledger.Asset(sym)] = u
			}
			return out, nil
		},
	})
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	gap, err := g.deps.Prices.InjectPrices(r.Context(), v.(map[ledger.Asset]int64))
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusOK, &PricesResponse{Gap: gap})
}

// SnapshotResponse names the sequence a snapshot was taken at.
type SnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

func (g *gateway) takeSnapshot(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	if g.deps.Snapshots == nil {
		g.writeError(w, r, sequencer.ErrStopped)
		return
	}
	seq, err := g.deps.Snapshots.TakeSnapshot(r.Context())
	if err != nil {
		g.writeError(w, r, err)
		return
	}
	g.writeJSON(w, http.StatusCreated, &SnapshotResponse{Sequence: seq})
}
