package core

import (
	"fmt"
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
	fpmath "FundLedger/internal/math"
	"FundLedger/internal/state"
)

// RequestSubscription files a subscribe request. The offered value plus the
// incentive are pulled from the caller into the fund immediately and held
// until execution or cancellation.
func (f *Fund) RequestSubscription(caller ledger.Address, numShares, offeredValue, incentive int64) (id int64, err error) {
	if err := f.begin(); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { f.end("request_subscription", start, err) }()

	if err := f.requireActive(); err != nil {
		return 0, err
	}
	if !f.subscriptionsEnabled {
		return 0, precondition("subscriptions enabled")
	}
	if numShares <= 0 || offeredValue <= 0 {
		return 0, precondition("positive shares and value")
	}
	if incentive <= 0 {
		return 0, precondition("positive incentive")
	}
	if _, ok := f.deps.Oracle.Price(f.cfg.BaseAsset); !ok {
		return 0, precondition("base asset price valid")
	}
	if !f.deps.Subscribe.ApproveSubscribe(caller, numShares, offeredValue) {
		return 0, precondition("subscription permitted")
	}

	escrow, err := fpmath.Add(offeredValue, incentive)
	if err != nil {
		return 0, err
	}
	if f.deps.Assets.BalanceOf(f.cfg.BaseAsset, caller) < escrow {
		return 0, fmt.Errorf("%w: escrow of %d", ErrInsufficientBalance, escrow)
	}
	if f.deps.Assets.Allowance(f.cfg.BaseAsset, caller, f.address) < escrow {
		return 0, precondition("allowance covers escrow")
	}

	escrowedTotal, err := fpmath.Add(f.escrowed, escrow)
	if err != nil {
		return 0, err
	}

	// Nothing is recorded until the escrow has arrived; a failed pull leaves
	// the fund untouched.
	if err := f.deps.Assets.TransferFrom(f.cfg.BaseAsset, f.address, caller, f.address, escrow); err != nil {
		return 0, fmt.Errorf("escrow subscription: %w", err)
	}

	now := f.now()
	req := f.requests.File(state.Request{
		Owner:          caller,
		Kind:           state.RequestSubscribe,
		NumShares:      numShares,
		Value:          offeredValue,
		Incentive:      incentive,
		Escrowed:       escrow,
		FeedUpdateID:   f.deps.Oracle.CurrentUpdateID(),
		FeedUpdateTime: f.deps.Oracle.LastUpdateTimestamp(),
		CreatedAt:      now,
	})
	f.escrowed = escrowedTotal
	f.adjustBaseline(f.cfg.BaseAsset, escrow)

	f.emitFiled(req)
	return req.ID, nil
}

// RequestRedemption files a redeem request. Nothing moves until execution.
func (f *Fund) RequestRedemption(caller ledger.Address, numShares, requestedValue, incentive int64) (id int64, err error) {
	if err := f.begin(); err != nil {
		return 0, err
	}
	start := time.Now()
	defer func() { f.end("request_redemption", start, err) }()

	if err := f.requireActive(); err != nil {
		return 0, err
	}
	if !f.redemptionsEnabled {
		return 0, precondition("redemptions enabled")
	}
	if numShares <= 0 {
		return 0, precondition("positive shares")
	}
	if requestedValue < 0 || incentive < 0 {
		return 0, precondition("non-negative value and incentive")
	}
	if !f.deps.Redeem.ApproveRedeem(caller, numShares, requestedValue) {
		return 0, precondition("redemption permitted")
	}

	req := f.requests.File(state.Request{
		Owner:          caller,
		Kind:           state.RequestRedeem,
		NumShares:      numShares,
		Value:          requestedValue,
		Incentive:      incentive,
		FeedUpdateID:   f.deps.Oracle.CurrentUpdateID(),
		FeedUpdateTime: f.deps.Oracle.LastUpdateTimestamp(),
		CreatedAt:      f.now(),
	})

	f.emitFiled(req)
	return req.ID, nil
}

func (f *Fund) emitFiled(req *state.Request) {
	f.emit(&event.RequestFiled{
		RequestID:      req.ID,
		Owner:          req.Owner,
		Kind:           req.Kind.String(),
		NumShares:      req.NumShares,
		Value:          req.Value,
		Incentive:      req.Incentive,
		FeedUpdateID:   req.FeedUpdateID,
		FeedUpdateTime: req.FeedUpdateTime,
		Timestamp:      req.CreatedAt,
	})
	if f.metrics != nil {
		f.metrics.RequestsFiled.WithLabelValues(req.Kind.String()).Inc()
	}
}

// openRequest loads a request that can still transition.
func (f *Fund) openRequest(id int64) (*state.Request, error) {
	req, ok := f.requests.Get(id)
	if !ok {
		return nil, precondition(fmt.Sprintf("request %d exists", id))
	}
	if !req.Kind.Valid() {
		return nil, precondition("request is subscribe or redeem")
	}
	if !req.IsOpen() {
		return nil, fmt.Errorf("%w: request %d is %s", ErrInvalidRequestState, id, req.Status)
	}
	return req, nil
}

// ExecutableAt is the earliest time req passes the interval half of the
// staleness gate. It also needs two price updates after filing.
func (f *Fund) ExecutableAt(req state.Request) time.Time {
	return req.CreatedAt.Add(f.deps.Oracle.UpdateInterval())
}

// ExecuteRequest settles an open request at the current share price once
// the feed has moved on: the update interval has elapsed since filing and
// at least two oracle updates happened. A request whose price sanity check
// fails is closed with OutcomeSettlementMismatch.
func (f *Fund) ExecuteRequest(worker ledger.Address, id int64) (outcome state.Outcome, err error) {
	if err := f.begin(); err != nil {
		return state.OutcomeNone, err
	}
	start := time.Now()
	defer func() { f.end("execute_request", start, err) }()

	req, err := f.openRequest(id)
	if err != nil {
		return state.OutcomeNone, err
	}
	if err := f.requireActive(); err != nil {
		return state.OutcomeNone, err
	}

	now := f.now()
	if now.Before(f.ExecutableAt(*req)) {
		return state.OutcomeNone, precondition("update interval elapsed")
	}
	if f.deps.Oracle.CurrentUpdateID() < req.FeedUpdateID+2 {
		return state.OutcomeNone, precondition("two price updates since filing")
	}

	calc, err := f.PerformCalculations()
	if err != nil {
		return state.OutcomeNone, err
	}
	actualValue, err := fpmath.MulDiv(req.NumShares, calc.SharePrice, f.shareBaseUnit, fpmath.RoundDown)
	if err != nil {
		return state.OutcomeNone, fmt.Errorf("actual value: %w", err)
	}

	var refund int64
	switch req.Kind {
	case state.RequestSubscribe:
		outcome, refund, err = f.settleSubscription(worker, req, actualValue, now)
	case state.RequestRedeem:
		outcome, err = f.settleRedemption(worker, req, actualValue, now)
	}
	if err != nil {
		return state.OutcomeNone, err
	}

	f.emit(&event.RequestExecuted{
		RequestID:   req.ID,
		Owner:       req.Owner,
		Worker:      worker,
		Kind:        req.Kind.String(),
		Outcome:     outcome.String(),
		SharePrice:  calc.SharePrice,
		ActualValue: actualValue,
		Refund:      refund,
		Timestamp:   now,
	})
	if outcome == state.OutcomeSettlementMismatch {
		f.logger.Warn().Int64("request_id", req.ID).Str("kind", req.Kind.String()).
			Int64("value", req.Value).Int64("actual_value", actualValue).
			Msg("settlement mismatch")
	}
	if f.metrics != nil {
		f.metrics.RequestsExecuted.WithLabelValues(req.Kind.String(), outcome.String()).Inc()
	}
	return outcome, nil
}

func (f *Fund) settleSubscription(worker ledger.Address, req *state.Request, actualValue int64, now time.Time) (state.Outcome, int64, error) {
	base := f.cfg.BaseAsset

	if req.Value < actualValue {
		// Not enough offered: close the request and hand the escrow back.
		if err := f.requireFundHolds(base, req.Escrowed); err != nil {
			return state.OutcomeNone, 0, err
		}
		if err := f.requests.Close(req.ID, state.RequestExecuted, state.OutcomeSettlementMismatch, now); err != nil {
			return state.OutcomeNone, 0, err
		}
		escrow := req.Escrowed
		f.releaseEscrow(req)
		f.adjustBaseline(base, -escrow)
		if err := f.payOut(base, req.Owner, escrow); err != nil {
			return state.OutcomeNone, 0, err
		}
		return state.OutcomeSettlementMismatch, escrow, nil
	}

	refund := req.Value - actualValue
	paid := req.Incentive + refund
	if err := f.requireFundHolds(base, paid); err != nil {
		return state.OutcomeNone, 0, err
	}

	change, err := f.shares.Mint(req.Owner, req.NumShares, worker, now)
	if err != nil {
		return state.OutcomeNone, 0, err
	}
	f.emitChanges(change)
	if err := f.requests.Close(req.ID, state.RequestExecuted, state.OutcomeSettled, now); err != nil {
		return state.OutcomeNone, 0, err
	}
	f.releaseEscrow(req)
	f.adjustBaseline(base, -paid)

	if err := f.payOut(base, worker, req.Incentive); err != nil {
		return state.OutcomeNone, 0, err
	}
	if err := f.payOut(base, req.Owner, refund); err != nil {
		return state.OutcomeNone, 0, err
	}
	return state.OutcomeSettled, refund, nil
}

func (f *Fund) settleRedemption(worker ledger.Address, req *state.Request, actualValue int64, now time.Time) (state.Outcome, error) {
	base := f.cfg.BaseAsset

	if req.Value > actualValue {
		// Asked for more than the shares are worth: close without transfers.
		if err := f.requests.Close(req.ID, state.RequestExecuted, state.OutcomeSettlementMismatch, now); err != nil {
			return state.OutcomeNone, err
		}
		return state.OutcomeSettlementMismatch, nil
	}

	if err := f.shares.ValidateSufficient(req.Owner, req.NumShares); err != nil {
		return state.OutcomeNone, err
	}
	if req.Incentive > 0 {
		if f.deps.Assets.BalanceOf(base, req.Owner) < req.Incentive {
			return state.OutcomeNone, fmt.Errorf("%w: owner cannot pay incentive", ErrInsufficientBalance)
		}
		if f.deps.Assets.Allowance(base, req.Owner, f.address) < req.Incentive {
			return state.OutcomeNone, precondition("allowance covers incentive")
		}
	}
	if f.freeBalance(base) < actualValue {
		return state.OutcomeNone, fmt.Errorf("%w: fund cannot pay %d %s", ErrInsufficientBalance, actualValue, base)
	}

	change, err := f.shares.Burn(req.Owner, req.NumShares, worker, now)
	if err != nil {
		return state.OutcomeNone, err
	}
	f.emitChanges(change)
	if err := f.requests.Close(req.ID, state.RequestExecuted, state.OutcomeSettled, now); err != nil {
		return state.OutcomeNone, err
	}
	f.adjustBaseline(base, -actualValue)

	if req.Incentive > 0 {
		if err := f.deps.Assets.TransferFrom(base, f.address, req.Owner, worker, req.Incentive); err != nil {
			return state.OutcomeNone, f.externalFailure("pay redemption incentive", err)
		}
	}
	if err := f.payOut(base, req.Owner, actualValue); err != nil {
		return state.OutcomeNone, err
	}
	return state.OutcomeSettled, nil
}

// CancelRequest closes an open request. Only the owner may cancel while the
// fund is active; anyone may once it is shut down. Escrowed value goes back
// to the owner and the escrowed incentive to the caller.
func (f *Fund) CancelRequest(caller ledger.Address, id int64) (err error) {
	if err := f.begin(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { f.end("cancel_request", start, err) }()

	req, err := f.openRequest(id)
	if err != nil {
		return err
	}
	if caller != req.Owner && f.status != StatusShutDown {
		return precondition("caller is owner or fund is shut down")
	}

	base := f.cfg.BaseAsset
	escrow := req.Escrowed
	if err := f.requireFundHolds(base, escrow); err != nil {
		return err
	}

	now := f.now()
	if err := f.requests.Close(req.ID, state.RequestCancelled, state.OutcomeNone, now); err != nil {
		return err
	}
	f.releaseEscrow(req)
	f.adjustBaseline(base, -escrow)

	incentive := fpmath.Min(req.Incentive, escrow)
	if err := f.payOut(base, caller, incentive); err != nil {
		return err
	}
	if err := f.payOut(base, req.Owner, escrow-incentive); err != nil {
		return err
	}

	f.emit(&event.RequestCancelled{
		RequestID: req.ID,
		Owner:     req.Owner,
		Caller:    caller,
		Refunded:  escrow,
		Timestamp: now,
	})
	if f.metrics != nil {
		f.metrics.RequestsCancelled.WithLabelValues(req.Kind.String()).Inc()
	}
	return nil
}

// RedeemUsingSlice burns numShares and hands the caller the same fraction of
// every registered asset, without consulting prices. Assets still parked at
// the venue count toward the fraction; when the vault cannot cover a share
// the caller gets what is there and the fund is shut down.
func (f *Fund) RedeemUsingSlice(caller ledger.Address, numShares int64) (paid map[ledger.Asset]int64, err error) {
	if err := f.begin(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() { f.end("redeem_using_slice", start, err) }()

	if numShares <= 0 {
		return nil, precondition("positive shares")
	}
	if err := f.shares.ValidateSufficient(caller, numShares); err != nil {
		return nil, err
	}
	prevSupply, err := fpmath.Sub(f.shares.TotalSupply(), f.calcs.UnclaimedRewards)
	if err != nil {
		return nil, err
	}
	if prevSupply <= 0 {
		return nil, fmt.Errorf("%w: supply excluding unclaimed rewards is %d", ErrDivisionByZeroGuard, prevSupply)
	}

	parked, lookupErr := f.parkedHoldings()
	if lookupErr != nil {
		f.logger.Warn().Err(lookupErr).Msg("venue lookup failed; slicing direct holdings only")
		parked = nil
	}

	assets := f.deps.Oracle.RegisteredAssets()
	paid = make(map[ledger.Asset]int64, len(assets))
	shortfall := false
	for _, asset := range assets {
		direct := f.freeBalance(asset)
		holdings, err := fpmath.Add(direct, parked[asset])
		if err != nil {
			return nil, err
		}
		ownership, err := fpmath.MulDiv(holdings, numShares, prevSupply, fpmath.RoundDown)
		if err != nil {
			return nil, fmt.Errorf("slice of %s: %w", asset, err)
		}
		if ownership > direct {
			shortfall = true
			ownership = direct
		}
		paid[asset] = ownership
	}

	now := f.now()
	change, err := f.shares.Burn(caller, numShares, caller, now)
	if err != nil {
		return nil, err
	}
	f.emitChanges(change)
	if shortfall {
		f.shutDown(caller, "slice redemption exceeded vault holdings")
	}
	for _, asset := range assets {
		f.adjustBaseline(asset, -paid[asset])
	}

	for _, asset := range assets {
		if err := f.payOut(asset, caller, paid[asset]); err != nil {
			return nil, err
		}
	}
	return paid, nil
}

// releaseEscrow hands a request's escrow back to the vault's free balance
// bookkeeping; the caller moves the assets.
func (f *Fund) releaseEscrow(req *state.Request) {
	f.escrowed -= req.Escrowed
	req.Escrowed = 0
}

// --- transfers ---

func (f *Fund) requireFundHolds(asset ledger.Asset, amount int64) error {
	if f.deps.Assets.BalanceOf(asset, f.address) < amount {
		return fmt.Errorf("%w: fund holds less than %d %s", ErrInsufficientBalance, amount, asset)
	}
	return nil
}

// payOut transfers from the fund's vault. Zero amounts are skipped.
func (f *Fund) payOut(asset ledger.Asset, to ledger.Address, amount int64) error {
	if amount <= 0 {
		return nil
	}
	if err := f.deps.Assets.Transfer(asset, f.address, to, amount); err != nil {
		return f.externalFailure(fmt.Sprintf("pay %d %s to %s", amount, asset, to), err)
	}
	return nil
}

// externalFailure handles a collaborator call that failed after internal
// state was already updated. Balances and allowances are checked up front,
// so reaching this means the asset ledger disagrees with its own answers;
// the fund keeps what it committed and shuts down.
func (f *Fund) externalFailure(what string, err error) error {
	f.partial = true
	f.shutDown(f.address, "external call failed: "+what)
	return fmt.Errorf("%s: %w", what, err)
}
