package query

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"FundLedger/internal/core"
	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	"FundLedger/internal/persistence"
	"FundLedger/internal/state"
)

// ErrNotFound is returned for an unknown request or order id.
var ErrNotFound = errors.New("query: not found")

const (
	defaultEventPage = 100
	maxEventPage     = 1000
	integrityPage    = 500
)

// Reader runs fn against the live fund on the sequencer goroutine.
type Reader interface {
	Read(ctx context.Context, name string, fn func(f *core.Fund) (any, error)) (any, error)
}

// EventSource is the durable event log.
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// QueryService answers read-only questions about a fund. Live state comes
// from the sequencer so every answer is consistent with one sequence;
// history comes from the event log.
type QueryService struct {
	reader Reader
	events EventSource
}

func NewQueryService(reader Reader, events EventSource) *QueryService {
	return &QueryService{reader: reader, events: events}
}

func read[T any](ctx context.Context, qs *QueryService, name string, fn func(f *core.Fund) (*T, error)) (*T, error) {
	v, err := qs.reader.Read(ctx, name, func(f *core.Fund) (any, error) { return fn(f) })
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

func (qs *QueryService) GetStatus(ctx context.Context) (*StatusResponse, error) {
	return read(ctx, qs, "query_status", func(f *core.Fund) (*StatusResponse, error) {
		dec := baseDecimals(f)
		hash := f.StateHash()
		return &StatusResponse{
			FundID:               f.ID(),
			Manager:              f.Manager().String(),
			BaseAsset:            f.BaseAsset().String(),
			Status:               f.Status().String(),
			SubscriptionsEnabled: f.SubscriptionsEnabled(),
			RedemptionsEnabled:   f.RedemptionsEnabled(),
			TotalSupply:          amount(f.TotalSupply(), dec),
			Escrowed:             amount(f.Escrowed(), dec),
			OpenOrders:           len(f.OpenOrders()),
			MaxOpenOrders:        f.MaxOpenOrders(),
			StateHash:            hex.EncodeToString(hash[:]),
			AsOfSequence:         f.Sequence(),
		}, nil
	})
}

// GetCalculations returns the committed snapshot, or with live set a fresh
// valuation at current prices. A live calculation settles nothing.
func (qs *QueryService) GetCalculations(ctx context.Context, live bool) (*CalculationsResponse, error) {
	return read(ctx, qs, "query_calculations", func(f *core.Fund) (*CalculationsResponse, error) {
		if live {
			dec := baseDecimals(f)
			c, err := f.PerformCalculations()
			if err != nil {
				return nil, err
			}
			return &CalculationsResponse{
				Live:              true,
				Gav:               amount(c.Gav, dec),
				ManagementReward:  amount(c.ManagementReward, dec),
				PerformanceReward: amount(c.PerformanceReward, dec),
				UnclaimedRewards:  amount(c.UnclaimedRewards, dec),
				Nav:               amount(c.Nav, dec),
				SharePrice:        amount(c.SharePrice, dec),
				TotalSupply:       amount(f.TotalSupply(), dec),
				AsOfSequence:      f.Sequence(),
			}, nil
		}

		return CommittedCalculations(f), nil
	})
}

// CommittedCalculations renders the snapshot from the last fee settlement.
// It must run on the sequencer goroutine.
func CommittedCalculations(f *core.Fund) *CalculationsResponse {
	dec := baseDecimals(f)
	c := f.Calculations()
	ts := c.Timestamp
	return &CalculationsResponse{
		Gav:               amount(c.Gav, dec),
		ManagementReward:  amount(c.ManagementReward, dec),
		PerformanceReward: amount(c.PerformanceReward, dec),
		UnclaimedRewards:  amount(c.UnclaimedRewards, dec),
		Nav:               amount(c.Nav, dec),
		SharePrice:        amount(c.SharePrice, dec),
		TotalSupply:       amount(c.TotalSupply, dec),
		Timestamp:         &ts,
		AsOfSequence:      f.Sequence(),
	}
}

func (qs *QueryService) GetShareBalance(ctx context.Context, owner ledger.Address) (*BalanceResponse, error) {
	return read(ctx, qs, "query_balance", func(f *core.Fund) (*BalanceResponse, error) {
		return shareBalance(f, owner)
	})
}

// GetHoldings lists every registered asset with its free and parked split.
func (qs *QueryService) GetHoldings(ctx context.Context) (*HoldingsResponse, error) {
	return read(ctx, qs, "query_holdings", func(f *core.Fund) (*HoldingsResponse, error) {
		holdings, err := f.Holdings()
		if err != nil {
			return nil, err
		}
		resp := &HoldingsResponse{
			Holdings:     make([]HoldingResponse, 0, len(holdings)),
			AsOfSequence: f.Sequence(),
		}
		for _, h := range holdings {
			dec := assetDecimals(f, h.Asset)
			resp.Holdings = append(resp.Holdings, HoldingResponse{
				Asset:    h.Asset.String(),
				Balance:  amount(h.Balance, dec),
				Free:     amount(h.Free, dec),
				Parked:   amount(h.Parked, dec),
				Baseline: amount(h.Baseline, dec),
			})
		}
		return resp, nil
	})
}

func (qs *QueryService) GetRequest(ctx context.Context, id int64) (*RequestResponse, error) {
	return read(ctx, qs, "query_request", func(f *core.Fund) (*RequestResponse, error) {
		req, ok := f.Request(id)
		if !ok {
			return nil, fmt.Errorf("%w: request %d", ErrNotFound, id)
		}
		dec := baseDecimals(f)
		resp := &RequestResponse{
			ID:             req.ID,
			Owner:          req.Owner.String(),
			Kind:           req.Kind.String(),
			Status:         req.Status.String(),
			Outcome:        req.Outcome.String(),
			NumShares:      amount(req.NumShares, dec),
			Value:          amount(req.Value, dec),
			Incentive:      amount(req.Incentive, dec),
			Escrowed:       amount(req.Escrowed, dec),
			FeedUpdateID:   req.FeedUpdateID,
			CreatedAt:      req.CreatedAt,
			ExecutableFrom: f.ExecutableAt(req),
			AsOfSequence:   f.Sequence(),
		}
		if !req.ClosedAt.IsZero() {
			closed := req.ClosedAt
			resp.ClosedAt = &closed
		}
		return resp, nil
	})
}

func (qs *QueryService) GetOrder(ctx context.Context, id int64) (*OrderResponse, error) {
	return read(ctx, qs, "query_order", func(f *core.Fund) (*OrderResponse, error) {
		o, ok := f.Order(id)
		if !ok {
			return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
		}
		resp := orderResponse(f, o)
		return &resp, nil
	})
}

// ListOpenOrders returns the orders occupying open slots.
func (qs *QueryService) ListOpenOrders(ctx context.Context) (*OrdersResponse, error) {
	return read(ctx, qs, "query_open_orders", func(f *core.Fund) (*OrdersResponse, error) {
		open := f.OpenOrders()
		resp := &OrdersResponse{
			Orders:       make([]OrderResponse, 0, len(open)),
			AsOfSequence: f.Sequence(),
		}
		for _, o := range open {
			resp.Orders = append(resp.Orders, orderResponse(f, o))
		}
		return resp, nil
	})
}

func orderResponse(f *core.Fund, o state.Order) OrderResponse {
	sellDec := assetDecimals(f, o.SellAsset)
	buyDec := assetDecimals(f, o.BuyAsset)
	return OrderResponse{
		ID:          o.ID,
		VenueHandle: o.VenueHandle,
		Kind:        o.Kind.String(),
		Status:      o.Status.String(),
		SellAsset:   o.SellAsset.String(),
		BuyAsset:    o.BuyAsset.String(),
		SellQty:     amount(o.SellQty, sellDec),
		BuyQty:      amount(o.BuyQty, buyDec),
		FillQty:     amount(o.FillQty, sellDec),
		Timestamp:   o.Timestamp,
	}
}

// --- History ---

// ListEvents pages through the event log starting at from.
func (qs *QueryService) ListEvents(ctx context.Context, from int64, limit int) ([]EventResponse, error) {
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	if from < 1 {
		from = 1
	}
	rows, err := qs.events.LoadEventsFrom(ctx, from, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}

	out := make([]EventResponse, 0, len(rows))
	for _, r := range rows {
		var payload any = json.RawMessage(r.Payload)
		if !json.Valid(r.Payload) {
			payload = string(r.Payload)
		}
		out = append(out, EventResponse{
			Sequence:       r.Sequence,
			EventType:      r.EventType,
			IdempotencyKey: r.IdempotencyKey,
			Payload:        payload,
			StateHash:      hex.EncodeToString(r.StateHash),
			Timestamp:      r.Timestamp,
		})
	}
	return out, nil
}

// --- Admin APIs ---

// VerifyIntegrity replays the logged hash chain from genesis and compares
// its tip with the live fund. A log that lags the fund is reported, not
// treated as a break: the persistence worker may still be flushing.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	type tipInfo struct {
		seq  int64
		hash [32]byte
	}
	v, err := qs.reader.Read(ctx, "query_integrity", func(f *core.Fund) (any, error) {
		return tipInfo{seq: f.Sequence(), hash: f.StateHash()}, nil
	})
	if err != nil {
		return nil, err
	}
	live := v.(tipInfo)

	report := &IntegrityReport{FundSequence: live.seq}
	tip := core.GenesisHash()
	next := int64(1)
	for {
		rows, err := qs.events.LoadEventsFrom(ctx, next, integrityPage)
		if err != nil {
			return nil, fmt.Errorf("load events: %w", err)
		}
		for _, r := range rows {
			if r.Sequence != next {
				return broken(report, next, fmt.Sprintf("sequence gap: expected %d, found %d", next, r.Sequence)), nil
			}
			env := r.Envelope()
			if tip, err = core.VerifyChain(tip, []*event.EventEnvelope{env}); err != nil {
				return broken(report, r.Sequence, err.Error()), nil
			}
			report.CheckedThrough = r.Sequence
			next++
		}
		if len(rows) < integrityPage {
			break
		}
	}

	switch {
	case report.CheckedThrough > live.seq:
		report.Detail = fmt.Sprintf("log is ahead of the fund: %d > %d", report.CheckedThrough, live.seq)
		return report, nil
	case report.CheckedThrough == live.seq && tip != live.hash:
		return broken(report, live.seq, "log tip differs from fund state hash"), nil
	case report.CheckedThrough < live.seq:
		report.Detail = fmt.Sprintf("log lags the fund by %d events", live.seq-report.CheckedThrough)
	}
	report.IsHealthy = true
	return report, nil
}

func broken(report *IntegrityReport, seq int64, detail string) *IntegrityReport {
	report.ChainBreak = &seq
	report.Detail = detail
	report.IsHealthy = false
	return report
}
