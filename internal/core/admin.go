package core

import (
	"time"

	"FundLedger/internal/event"
	"FundLedger/internal/ledger"
)

// Shutdown puts the fund into its terminal degraded mode on the manager's
// request. Only redemption and cancellation paths stay open afterwards.
func (f *Fund) Shutdown(caller ledger.Address) (err error) {
	if err := f.begin(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { f.end("shutdown", start, err) }()

	if err := f.requireManager(caller); err != nil {
		return err
	}
	if err := f.requireActive(); err != nil {
		return err
	}
	f.shutDown(caller, "manager request")
	return nil
}

func (f *Fund) SetSubscriptionsEnabled(caller ledger.Address, enabled bool) error {
	return f.changeSettings(caller, "set_subscriptions", func() { f.subscriptionsEnabled = enabled })
}

func (f *Fund) SetRedemptionsEnabled(caller ledger.Address, enabled bool) error {
	return f.changeSettings(caller, "set_redemptions", func() { f.redemptionsEnabled = enabled })
}

func (f *Fund) changeSettings(caller ledger.Address, op string, apply func()) (err error) {
	if err := f.begin(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { f.end(op, start, err) }()

	if err := f.requireManager(caller); err != nil {
		return err
	}
	if err := f.requireActive(); err != nil {
		return err
	}
	apply()
	f.emit(&event.SettingsChanged{
		Sequence:             f.nextSequence(),
		Caller:               caller,
		SubscriptionsEnabled: f.subscriptionsEnabled,
		RedemptionsEnabled:   f.redemptionsEnabled,
		Timestamp:            f.now(),
	})
	return nil
}

// StakeShares moves manager shares into the fund's stake account. Supply is
// unchanged. Not allowed while orders are open.
func (f *Fund) StakeShares(caller ledger.Address, amount int64) (err error) {
	if err := f.begin(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { f.end("stake_shares", start, err) }()

	if err := f.requireManager(caller); err != nil {
		return err
	}
	if err := f.requireActive(); err != nil {
		return err
	}
	if err := f.requireNoOpenOrders(); err != nil {
		return err
	}
	changes, err := f.shares.TransferInternal(f.cfg.Manager, f.stakeAddress, amount, caller, f.now())
	if err != nil {
		return err
	}
	f.emitChanges(changes...)
	return nil
}

// UnstakeShares returns staked shares to the manager. Allowed after shutdown
// so the stake can be redeemed.
func (f *Fund) UnstakeShares(caller ledger.Address, amount int64) (err error) {
	if err := f.begin(); err != nil {
		return err
	}
	start := time.Now()
	defer func() { f.end("unstake_shares", start, err) }()

	if err := f.requireManager(caller); err != nil {
		return err
	}
	if err := f.requireNoOpenOrders(); err != nil {
		return err
	}
	changes, err := f.shares.TransferInternal(f.stakeAddress, f.cfg.Manager, amount, caller, f.now())
	if err != nil {
		return err
	}
	f.emitChanges(changes...)
	return nil
}
