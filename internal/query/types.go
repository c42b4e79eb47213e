package query

import (
	"time"

	"github.com/shopspring/decimal"
)

// Every response carries AsOfSequence: the last event applied to the fund
// when the read ran. Amounts are decimals of whole units.

type StatusResponse struct {
	FundID               string          `json:"fund_id"`
	Manager              string          `json:"manager"`
	BaseAsset            string          `json:"base_asset"`
	Status               string          `json:"status"`
	SubscriptionsEnabled bool            `json:"subscriptions_enabled"`
	RedemptionsEnabled   bool            `json:"redemptions_enabled"`
	TotalSupply          decimal.Decimal `json:"total_supply"`
	Escrowed             decimal.Decimal `json:"escrowed"`
	OpenOrders           int             `json:"open_orders"`
	MaxOpenOrders        int             `json:"max_open_orders"`
	StateHash            string          `json:"state_hash"`
	AsOfSequence         int64           `json:"as_of_sequence"`
}

// CalculationsResponse is either the committed snapshot from the last fee
// settlement (Live false) or a fresh calculation at current prices.
type CalculationsResponse struct {
	Live              bool            `json:"live"`
	Gav               decimal.Decimal `json:"gav"`
	ManagementReward  decimal.Decimal `json:"management_reward"`
	PerformanceReward decimal.Decimal `json:"performance_reward"`
	UnclaimedRewards  decimal.Decimal `json:"unclaimed_rewards"`
	Nav               decimal.Decimal `json:"nav"`
	SharePrice        decimal.Decimal `json:"share_price"`
	TotalSupply       decimal.Decimal `json:"total_supply,omitempty"`
	Timestamp         *time.Time      `json:"timestamp,omitempty"`
	AsOfSequence      int64           `json:"as_of_sequence"`
}

type HoldingResponse struct {
	Asset    string          `json:"asset"`
	Balance  decimal.Decimal `json:"balance"`
	Free     decimal.Decimal `json:"free"`
	Parked   decimal.Decimal `json:"parked"`
	Baseline decimal.Decimal `json:"baseline"`
}

type HoldingsResponse struct {
	Holdings     []HoldingResponse `json:"holdings"`
	AsOfSequence int64             `json:"as_of_sequence"`
}

type RequestResponse struct {
	ID             int64           `json:"id"`
	Owner          string          `json:"owner"`
	Kind           string          `json:"kind"`
	Status         string          `json:"status"`
	Outcome        string          `json:"outcome"`
	NumShares      decimal.Decimal `json:"num_shares"`
	Value          decimal.Decimal `json:"value"`
	Incentive      decimal.Decimal `json:"incentive"`
	Escrowed       decimal.Decimal `json:"escrowed"`
	FeedUpdateID   int64           `json:"feed_update_id"`
	CreatedAt      time.Time       `json:"created_at"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
	ExecutableFrom time.Time       `json:"executable_from"`
	AsOfSequence   int64           `json:"as_of_sequence"`
}

type OrderResponse struct {
	ID          int64           `json:"id"`
	VenueHandle string          `json:"venue_handle"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	SellAsset   string          `json:"sell_asset"`
	BuyAsset    string          `json:"buy_asset"`
	SellQty     decimal.Decimal `json:"sell_qty"`
	BuyQty      decimal.Decimal `json:"buy_qty"`
	FillQty     decimal.Decimal `json:"fill_qty"`
	Timestamp   time.Time       `json:"timestamp"`
}

type OrdersResponse struct {
	Orders       []OrderResponse `json:"orders"`
	AsOfSequence int64           `json:"as_of_sequence"`
}

type EventResponse struct {
	Sequence       int64     `json:"sequence"`
	EventType      string    `json:"event_type"`
	IdempotencyKey string    `json:"idempotency_key"`
	Payload        any       `json:"payload"`
	StateHash      string    `json:"state_hash"`
	Timestamp      time.Time `json:"timestamp"`
}

// IntegrityReport is the result of replaying the logged hash chain.
type IntegrityReport struct {
	IsHealthy      bool   `json:"is_healthy"`
	CheckedThrough int64  `json:"checked_through"`
	FundSequence   int64  `json:"fund_sequence"`
	ChainBreak     *int64 `json:"chain_break,omitempty"`
	Detail         string `json:"detail,omitempty"`
}
