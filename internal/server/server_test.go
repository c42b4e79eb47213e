package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"FundLedger/internal/asset"
	"FundLedger/internal/core"
	"FundLedger/internal/ingestion"
	"FundLedger/internal/ledger"
	"FundLedger/internal/observability"
	"FundLedger/internal/permission"
	"FundLedger/internal/persistence"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/query"
	"FundLedger/internal/sequencer"
	"FundLedger/internal/server"
	"FundLedger/internal/venue"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type noEvents struct{}

func (noEvents) LoadEventsFrom(context.Context, int64, int) ([]persistence.EventRow, error) {
	return nil, nil
}

type stubSnapshots struct{ seq int64 }

func (s stubSnapshots) TakeSnapshot(context.Context) (int64, error) { return s.seq, nil }

type testServer struct {
	t     *testing.T
	srv   *httptest.Server
	clock *clock
	seq   *sequencer.Sequencer
	vault *asset.Vault
	fund  *core.Fund
}

// holding is a genesis balance credited before the server starts.
type holding struct {
	owner  ledger.Address
	asset  ledger.Asset
	amount int64
}

var fundAddr = ledger.NewSystemAddress("alpha", "vault")

func newTestServer(t *testing.T, genesis ...holding) *testServer {
	t.Helper()
	feed := pricefeed.New(time.Minute)
	require.NoError(t, feed.Register("USD", 3))
	require.NoError(t, feed.Register("ETH", 6))
	_, err := feed.Apply(pricefeed.Update{Source: "test", Sequence: 1, Timestamp: time.Now(),
		Prices: map[ledger.Asset]int64{"USD": 1_000, "ETH": 2_000_000}})
	require.NoError(t, err)

	clk := &clock{now: time.Unix(1_700_000_000, 0).UTC()}
	vault := asset.NewVault()
	for _, g := range genesis {
		require.NoError(t, vault.Credit(g.asset, g.owner, g.amount))
	}
	market := venue.NewSimpleMarket(vault)
	fund, err := core.NewFund(core.Config{FundID: "alpha", Manager: "manager", BaseAsset: "USD"}, core.Dependencies{
		Oracle:    feed,
		Venue:     market,
		Assets:    vault,
		Subscribe: permission.Open{},
		Redeem:    permission.Open{},
		Risk:      permission.NewRisk(permission.RiskConfig{}),
		Clock:     clk,
	})
	require.NoError(t, err)

	seq := sequencer.New(fund, 16,
		sequencer.WithIdempotency(sequencer.NewIdempotencyChecker(64, nil, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)

	processor := ingestion.NewPriceProcessor(seq, feed, 3, zerolog.Nop(), nil)
	health := observability.NewHealthChecker()
	health.SetReady(true)

	handler, err := server.NewHTTPHandler(&server.ServerDeps{
		Gateway: server.GatewayDeps{
			Commands:  seq,
			Queries:   query.NewQueryService(seq, noEvents{}),
			Prices:    ingestion.NewManualIngestService(processor),
			Snapshots: stubSnapshots{seq: 7},
			Assets:    vault,
			Offers:    market,
		},
		HealthChecker: health,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := &testServer{t: t, srv: httptest.NewServer(handler), clock: clk, seq: seq, vault: vault, fund: fund}
	t.Cleanup(func() {
		ts.srv.Close()
		cancel()
		<-seq.Done()
	})
	return ts
}

// do sends a request and decodes the JSON response into out when given.
func (ts *testServer) do(method, path, caller, key, body string, out any) int {
	ts.t.Helper()
	req, err := http.NewRequest(method, ts.srv.URL+path, strings.NewReader(body))
	require.NoError(ts.t, err)
	if caller != "" {
		req.Header.Set(server.CallerHeader, caller)
	}
	if key != "" {
		req.Header.Set(server.IdempotencyHeader, key)
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(ts.t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(ts.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// approve lets spender ("fund", "venue") pull amount of a from who.
func (ts *testServer) approve(who, a, spender, amount string) {
	ts.t.Helper()
	var resp server.ApprovalResponse
	status := ts.do(http.MethodPost, "/v1/assets/approvals", who, "",
		`{"asset":"`+a+`","spender":"`+spender+`","amount":"`+amount+`"}`, &resp)
	require.Equal(ts.t, http.StatusOK, status)
	require.Equal(ts.t, amount, resp.Allowance.String())
}

func (ts *testServer) assetBalance(a, owner string) string {
	ts.t.Helper()
	var resp server.AssetBalanceResponse
	require.Equal(ts.t, http.StatusOK, ts.do(http.MethodGet, "/v1/assets/"+a+"/balances/"+owner, "", "", "", &resp))
	return resp.Balance.String()
}

func (ts *testServer) tick() {
	ts.t.Helper()
	ts.clock.Advance(time.Minute)
	status := ts.do(http.MethodPost, "/v1/admin/prices", "", "", `{"prices":{"USD":"1","ETH":"2000"}}`, nil)
	require.Equal(ts.t, http.StatusOK, status)
}

func TestGateway_SubscriptionLifecycle(t *testing.T) {
	ts := newTestServer(t, holding{"alice", "USD", 2_001})

	status := ts.do(http.MethodPost, "/v1/fund/subscriptions", "alice", "",
		`{"num_shares":"2","value":"2","incentive":"0.001"}`, nil)
	assert.Equal(t, http.StatusConflict, status, "fund not approved yet")
	ts.approve("alice", "USD", "fund", "2.001")

	var filed server.RequestFiledResponse
	status = ts.do(http.MethodPost, "/v1/fund/subscriptions", "alice", "",
		`{"num_shares":"2","value":"2","incentive":"0.001"}`, &filed)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(1), filed.RequestID)

	var errBody struct{ Code string }
	status = ts.do(http.MethodPost, "/v1/fund/requests/1/execute", "worker", "", "", &errBody)
	assert.Equal(t, http.StatusConflict, status, "too early")
	assert.Equal(t, "precondition_failed", errBody.Code)

	ts.tick()
	ts.tick()

	var exec server.ExecutionResponse
	status = ts.do(http.MethodPost, "/v1/fund/requests/1/execute", "worker", "", "", &exec)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "settled", exec.Outcome)

	var bal query.BalanceResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/balances/alice", "", "", "", &bal))
	assert.Equal(t, "2", bal.Shares.String())
	assert.Equal(t, "0", ts.assetBalance("USD", "alice"))
	assert.Equal(t, "0.001", ts.assetBalance("USD", "worker"), "incentive paid to the executor")

	var req query.RequestResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/requests/1", "", "", "", &req))
	assert.Equal(t, "executed", req.Status)

	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/v1/fund/requests/9", "", "", "", nil))
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodGet, "/v1/fund/requests/abc", "", "", "", nil))
}

func TestGateway_CommandNeedsCaller(t *testing.T) {
	ts := newTestServer(t)

	var errBody struct{ Error, Code string }
	status := ts.do(http.MethodPost, "/v1/fund/shutdown", "", "", "", &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", errBody.Code)
	assert.Contains(t, errBody.Error, server.CallerHeader)
}

func TestGateway_IdempotentCommand(t *testing.T) {
	ts := newTestServer(t, holding{"bob", "USD", 1_001})
	ts.approve("bob", "USD", "", "1.001")
	body := `{"num_shares":"1","value":"1","incentive":"0.001"}`

	var first, second server.RequestFiledResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/fund/subscriptions", "bob", "sub-1", body, &first))
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/fund/subscriptions", "bob", "sub-1", body, &second))
	assert.Equal(t, first, second, "the retry returns the original result")

	// Without a key the same body files a second request, which bob can no
	// longer fund.
	status := ts.do(http.MethodPost, "/v1/fund/subscriptions", "bob", "", body, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

func TestGateway_ManagerCommands(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusConflict,
		ts.do(http.MethodPut, "/v1/fund/settings", "mallory", "", `{"subscriptions_enabled":false}`, nil))
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPut, "/v1/fund/settings", "manager", "", `{}`, nil))

	var settings server.SettingsResponse
	require.Equal(t, http.StatusOK,
		ts.do(http.MethodPut, "/v1/fund/settings", "manager", "", `{"redemptions_enabled":false}`, &settings))
	assert.True(t, settings.SubscriptionsEnabled)
	assert.False(t, settings.RedemptionsEnabled)

	var status query.StatusResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/status", "", "", "", &status))
	assert.False(t, status.RedemptionsEnabled)
	assert.Equal(t, settings.AsOfSequence, status.AsOfSequence)

	var ack server.AckResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/fund/shutdown", "manager", "", "", &ack))
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/status", "", "", "", &status))
	assert.Equal(t, "shut_down", status.Status)
}

func TestGateway_MakeOrderAmounts(t *testing.T) {
	ts := newTestServer(t, holding{fundAddr, "ETH", 1_000_000})

	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/fund/orders/make", "manager", "",
		`{"sell_asset":"ETH","buy_asset":"USD","sell_qty":"0.0000001","buy_qty":"1"}`, nil), "finer than 6 decimals")
	assert.Equal(t, http.StatusBadRequest, ts.do(http.MethodPost, "/v1/fund/orders/make", "manager", "",
		`{"sell_asset":"BTC","buy_asset":"USD","sell_qty":"1","buy_qty":"1"}`, nil), "unknown asset")

	var rec server.OrderRecordedResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/fund/orders/make", "manager", "",
		`{"sell_asset":"ETH","buy_asset":"USD","sell_qty":"0.5","buy_qty":"1000"}`, &rec))
	assert.Equal(t, int64(1), rec.OrderID)

	var orders query.OrdersResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/orders", "", "", "", &orders))
	require.Len(t, orders.Orders, 1)
	assert.Equal(t, "0.5", orders.Orders[0].SellQty.String())

	var order query.OrderResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/orders/1", "", "", "", &order))
	assert.Equal(t, "make", order.Kind)
}

func TestGateway_AdminRoutes(t *testing.T) {
	ts := newTestServer(t)

	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, "/v1/admin/prices", "", "", `{"prices":{"BTC":"1"}}`, nil))
	assert.Equal(t, http.StatusBadRequest,
		ts.do(http.MethodPost, "/v1/admin/prices", "", "", `{"prices":{"ETH":"-1"}}`, nil))

	var snap server.SnapshotResponse
	require.Equal(t, http.StatusCreated, ts.do(http.MethodPost, "/v1/admin/snapshots", "", "", "", &snap))
	assert.Equal(t, int64(7), snap.Sequence)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/healthz", "", "", "", nil))
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/readyz", "", "", "", nil))
}

func TestGateway_TakeCounterpartyOffer(t *testing.T) {
	ts := newTestServer(t,
		holding{fundAddr, "USD", 5_000_000},
		holding{"carol", "ETH", 1_000_000},
	)

	body := `{"sell_asset":"ETH","buy_asset":"USD","sell_qty":"1","buy_qty":"2000"}`
	assert.Equal(t, http.StatusUnprocessableEntity,
		ts.do(http.MethodPost, "/v1/venue/offers", "carol", "", body, nil), "venue not approved")

	ts.approve("carol", "ETH", "venue", "1")
	var offer server.OfferPlacedResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/venue/offers", "carol", "", body, &offer))
	require.NotEmpty(t, offer.Handle)
	assert.Equal(t, "0", ts.assetBalance("ETH", "carol"), "offer escrowed at the venue")

	var rec server.OrderRecordedResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/v1/fund/orders/take", "manager", "",
		`{"handle":"`+offer.Handle+`","qty":"0.5"}`, &rec))
	assert.Equal(t, int64(1), rec.OrderID)

	assert.Equal(t, "0.5", ts.assetBalance("ETH", string(fundAddr)))
	assert.Equal(t, "4000", ts.assetBalance("USD", string(fundAddr)))
	assert.Equal(t, "1000", ts.assetBalance("USD", "carol"))

	var order query.OrderResponse
	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/v1/fund/orders/1", "", "", "", &order))
	assert.Equal(t, "take", order.Kind)
}

func TestGateway_SystemCallersRefused(t *testing.T) {
	ts := newTestServer(t, holding{fundAddr, "USD", 1_000})

	var errBody struct{ Error, Code string }
	status := ts.do(http.MethodPost, "/v1/assets/approvals", string(fundAddr), "",
		`{"asset":"USD","spender":"mallory","amount":"1"}`, &errBody)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_argument", errBody.Code)
	assert.Equal(t, "1", ts.assetBalance("USD", string(fundAddr)))
}
