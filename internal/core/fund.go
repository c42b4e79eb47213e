package core

import (
	"encoding/json"
	"fmt"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/observability"
	"FundLedger/internal/state"

	"github.com/rs/zerolog"
)

// DefaultMaxOpenOrders is the open-order arena capacity when none is configured.
const DefaultMaxOpenOrders = 20

// Status is consulted at the top of every mutating entry point.
type Status int

const (
	StatusActive Status = iota
	StatusShutDown
)

func (s Status) String() string {
	if s == StatusShutDown {
		return "shut_down"
	}
	return "active"
}

// Config holds the static parameters of one fund.
type Config struct {
	FundID    string
	Manager   ledger.Address
	BaseAsset ledger.Asset

	// Annual management fee and performance fee, scaled by fpmath.RateScale
	ManagementFeeRate  int64
	PerformanceFeeRate int64

	MaxOpenOrders int
}

// Dependencies are the external collaborators the fund consumes.
type Dependencies struct {
	Oracle    Oracle
	Venue     Venue
	Assets    AssetLedger
	Subscribe SubscribePermission
	Redeem    RedeemPermission
	Risk      RiskPermission
	Clock     Clock
}

// CoreOutput is one committed event with its envelope.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Event    event.Event
}

type Option func(*Fund)

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fund) { f.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(f *Fund) { f.metrics = m }
}

// WithOutputs wires the persistence channel (blocking send) and the publish
// channel (non-blocking, dropped when full). Either may be nil.
func WithOutputs(persist, publish chan<- CoreOutput) Option {
	return func(f *Fund) {
		f.persistChan = persist
		f.publishChan = publish
	}
}

// Fund is the accounting and request-execution engine of one pooled fund.
// It is not safe for concurrent use; callers serialize access (see the
// sequencer package). Every mutating entry point either commits fully and
// emits its events, or fails and leaves state untouched.
type Fund struct {
	cfg  Config
	deps Dependencies

	address       ledger.Address
	stakeAddress  ledger.Address
	shareBaseUnit int64

	shares           *ledger.ShareLedger
	validator        *ledger.InvariantValidator
	calcs            state.Calculations
	requests         *state.RequestBook
	orders           *state.OrderBook
	previousHoldings state.Holdings

	// Base asset held for open subscription requests; not part of GAV
	escrowed int64

	status               Status
	subscriptionsEnabled bool
	redemptionsEnabled   bool
	inProgress           bool
	partial              bool

	sequence int64
	hasher   *StateHasher
	pending  []event.Event

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewFund(cfg Config, deps Dependencies, opts ...Option) (*Fund, error) {
	if cfg.FundID == "" {
		return nil, fmt.Errorf("fund id is required")
	}
	if cfg.Manager == ledger.ZeroAddress {
		return nil, fmt.Errorf("manager address is required")
	}
	if cfg.ManagementFeeRate < 0 || cfg.ManagementFeeRate > fpmath.RateScale {
		return nil, fmt.Errorf("management fee rate %d outside [0, %d]", cfg.ManagementFeeRate, fpmath.RateScale)
	}
	if cfg.PerformanceFeeRate < 0 || cfg.PerformanceFeeRate > fpmath.RateScale {
		return nil, fmt.Errorf("performance fee rate %d outside [0, %d]", cfg.PerformanceFeeRate, fpmath.RateScale)
	}
	if cfg.MaxOpenOrders <= 0 {
		cfg.MaxOpenOrders = DefaultMaxOpenOrders
	}
	if deps.Oracle == nil || deps.Venue == nil || deps.Assets == nil {
		return nil, fmt.Errorf("oracle, venue and asset ledger are required")
	}
	if deps.Subscribe == nil || deps.Redeem == nil || deps.Risk == nil {
		return nil, fmt.Errorf("permission collaborators are required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}

	decimals, ok := deps.Oracle.Decimals(cfg.BaseAsset)
	if !ok {
		return nil, fmt.Errorf("base asset %s is not registered with the oracle", cfg.BaseAsset)
	}
	baseUnit, err := fpmath.Pow10(decimals)
	if err != nil {
		return nil, fmt.Errorf("base asset decimals %d: %w", decimals, err)
	}

	shares := ledger.NewShareLedger()
	f := &Fund{
		cfg:                  cfg,
		deps:                 deps,
		address:              ledger.NewSystemAddress(cfg.FundID, "vault"),
		stakeAddress:         ledger.NewSystemAddress(cfg.FundID, "stake"),
		shareBaseUnit:        baseUnit,
		shares:               shares,
		validator:            ledger.NewInvariantValidator(shares),
		calcs:                state.InitialCalculations(baseUnit, deps.Clock.Now()),
		requests:             state.NewRequestBook(),
		orders:               state.NewOrderBook(cfg.MaxOpenOrders),
		previousHoldings:     state.Holdings{},
		status:               StatusActive,
		subscriptionsEnabled: true,
		redemptionsEnabled:   true,
		hasher:               NewStateHasher(),
		logger:               zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("fund_id", cfg.FundID).Logger()
	return f, nil
}

// --- operation guard ---

// begin marks an operation in progress. A second entry while one is running
// (for example from a collaborator calling back into the fund) is refused.
func (f *Fund) begin() error {
	if f.inProgress {
		return precondition("no operation in progress")
	}
	f.inProgress = true
	f.partial = false
	f.pending = f.pending[:0]
	return nil
}

// end commits the pending events when err is nil and drops them otherwise,
// unless the operation already changed state before failing.
func (f *Fund) end(op string, start time.Time, err error) {
	defer func() { f.inProgress = false }()

	if err != nil {
		if f.metrics != nil {
			f.metrics.CoreOpsRejected.WithLabelValues(op, reason(err)).Inc()
		}
		if !f.partial {
			f.pending = f.pending[:0]
			f.logger.Debug().Str("operation", op).Err(err).Msg("operation rejected")
			return
		}
		// State already moved; the events describe it and must be kept.
		f.logger.Error().Str("operation", op).Err(err).Msg("operation failed after state change")
	}

	if err := f.validator.ValidateConservation(); err != nil {
		panic(fmt.Sprintf("FATAL: share conservation violated after %s: %v", op, err))
	}

	f.flush()

	if f.metrics != nil {
		f.metrics.CoreOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		f.metrics.TotalSupply.Set(float64(f.shares.TotalSupply()))
		f.metrics.OpenOrderSlots.Set(float64(f.orders.OpenCount()))
	}
}

// --- event emission ---

func (f *Fund) emit(evt event.Event) {
	f.pending = append(f.pending, evt)
}

// nextSequence is the sequence the next emitted event will receive.
func (f *Fund) nextSequence() int64 {
	return f.sequence + int64(len(f.pending)) + 1
}

func (f *Fund) emitChanges(changes ...ledger.Change) {
	for _, c := range changes {
		f.emit(event.FromChange(c))
	}
}

func (f *Fund) flush() {
	for _, evt := range f.pending {
		payload, err := json.Marshal(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: cannot encode %s: %v", evt.EventType(), err))
		}

		f.sequence++
		prev := f.hasher.GetPrevHash()
		hash := f.hasher.ComputeHash(f.sequence, payload)

		output := CoreOutput{
			Envelope: &event.EventEnvelope{
				Sequence:       f.sequence,
				IdempotencyKey: evt.IdempotencyKey(),
				EventType:      evt.EventType(),
				FundID:         f.cfg.FundID,
				Timestamp:      evt.OccurredAt(),
				Payload:        payload,
				StateHash:      hash,
				PrevHash:       prev,
			},
			Event: evt,
		}

		// Persistence is blocking: the fund stalls until the worker drains.
		if f.persistChan != nil {
			f.persistChan <- output
		}

		if f.publishChan != nil {
			select {
			case f.publishChan <- output:
			default:
				if f.metrics != nil {
					f.metrics.PublishDrops.Inc()
				}
			}
		}

		if f.metrics != nil {
			f.metrics.CoreEventsApplied.WithLabelValues(evt.EventType().String()).Inc()
			f.metrics.CoreSequence.Set(float64(f.sequence))
		}
	}
	f.pending = f.pending[:0]
}

// --- shared checks ---

func (f *Fund) requireActive() error {
	if f.status == StatusShutDown {
		return precondition("fund not shut down")
	}
	return nil
}

func (f *Fund) requireManager(caller ledger.Address) error {
	if caller != f.cfg.Manager {
		return precondition("caller is manager")
	}
	return nil
}

func (f *Fund) requireNoOpenOrders() error {
	if f.orders.OpenCount() > 0 {
		return precondition("no open orders")
	}
	return nil
}

func (f *Fund) now() time.Time {
	return f.deps.Clock.Now()
}

// shutDown flips the status once and records why.
func (f *Fund) shutDown(caller ledger.Address, why string) {
	if f.status == StatusShutDown {
		return
	}
	f.status = StatusShutDown
	f.emit(&event.ShutdownToggled{Caller: caller, Reason: why, Timestamp: f.now()})
	f.logger.Error().Str("reason", why).Str("caller", string(caller)).Msg("fund shut down")
	if f.metrics != nil {
		f.metrics.ShutDown.Set(1)
	}
}

// --- queries ---

func (f *Fund) ID() string                   { return f.cfg.FundID }
func (f *Fund) Manager() ledger.Address      { return f.cfg.Manager }
func (f *Fund) BaseAsset() ledger.Asset      { return f.cfg.BaseAsset }
func (f *Fund) Address() ledger.Address      { return f.address }
func (f *Fund) StakeAddress() ledger.Address { return f.stakeAddress }
func (f *Fund) ShareBaseUnit() int64         { return f.shareBaseUnit }
func (f *Fund) Status() Status               { return f.status }
func (f *Fund) IsShutDown() bool             { return f.status == StatusShutDown }
func (f *Fund) SubscriptionsEnabled() bool   { return f.subscriptionsEnabled }
func (f *Fund) RedemptionsEnabled() bool     { return f.redemptionsEnabled }
func (f *Fund) TotalSupply() int64           { return f.shares.TotalSupply() }
func (f *Fund) Sequence() int64              { return f.sequence }
func (f *Fund) StateHash() [32]byte          { return f.hasher.GetPrevHash() }
func (f *Fund) MaxOpenOrders() int           { return f.orders.Capacity() }

func (f *Fund) SharesOf(owner ledger.Address) int64 {
	return f.shares.BalanceOf(owner)
}

// Calculations returns the committed snapshot from the last fee settlement.
func (f *Fund) Calculations() state.Calculations {
	return f.calcs
}

func (f *Fund) Request(id int64) (state.Request, bool) {
	r, ok := f.requests.Get(id)
	if !ok {
		return state.Request{}, false
	}
	return *r, true
}

func (f *Fund) Order(id int64) (state.Order, bool) {
	o, ok := f.orders.Get(id)
	if !ok {
		return state.Order{}, false
	}
	return *o, true
}

// OpenOrders returns the orders currently holding an arena slot.
func (f *Fund) OpenOrders() []state.Order {
	slots := f.orders.OpenSlots()
	out := make([]state.Order, 0, len(slots))
	for _, s := range slots {
		out = append(out, *s.Order)
	}
	return out
}

func (f *Fund) PreviousHoldings(asset ledger.Asset) int64 {
	return f.previousHoldings.Get(asset)
}

// CounterOrder looks up an order resting at the venue by handle.
func (f *Fund) CounterOrder(handle string) (OrderTerms, error) {
	return f.deps.Venue.Lookup(handle)
}

// Escrowed is the base asset the fund holds for open subscription requests.
func (f *Fund) Escrowed() int64 {
	return f.escrowed
}

// Decimals reports the precision of a registered asset. Shares use the
// base asset's.
func (f *Fund) Decimals(asset ledger.Asset) (int, bool) {
	return f.deps.Oracle.Decimals(asset)
}

// Holding is the fund's position in one registered asset.
type Holding struct {
	Asset    ledger.Asset
	Balance  int64 // in the vault, subscription escrow included
	Free     int64 // Balance less escrow
	Parked   int64 // at the venue in open make-orders
	Baseline int64 // custody baseline from the last close
}

// Holdings reports every registered asset, in registration order.
func (f *Fund) Holdings() ([]Holding, error) {
	parked, err := f.parkedHoldings()
	if err != nil {
		return nil, err
	}
	assets := f.deps.Oracle.RegisteredAssets()
	out := make([]Holding, 0, len(assets))
	for _, a := range assets {
		out = append(out, Holding{
			Asset:    a,
			Balance:  f.deps.Assets.BalanceOf(a, f.address),
			Free:     f.freeBalance(a),
			Parked:   parked[a],
			Baseline: f.previousHoldings.Get(a),
		})
	}
	return out, nil
}

// freeBalance is the vault balance of asset that belongs to shareholders.
func (f *Fund) freeBalance(asset ledger.Asset) int64 {
	balance := f.deps.Assets.BalanceOf(asset, f.address)
	if asset == f.cfg.BaseAsset {
		balance -= f.escrowed
	}
	if balance < 0 {
		return 0
	}
	return balance
}
