// internal/event/fund.go
package event

import (
	"fmt"
	"time"

	"FundLedger/internal/ledger"
)

// FeesConverted is emitted by fee settlement; the values are the committed
// calculations snapshot.
type FeesConverted struct {
	Sequence          int64          `json:"sequence"`
	Manager           ledger.Address `json:"manager"`
	Gav               int64          `json:"gav"`
	ManagementReward  int64          `json:"management_reward"`
	PerformanceReward int64          `json:"performance_reward"`
	UnclaimedRewards  int64          `json:"unclaimed_rewards"`
	Nav               int64          `json:"nav"`
	SharePrice        int64          `json:"share_price"`
	SharesMinted      int64          `json:"shares_minted"`
	TotalSupply       int64          `json:"total_supply"`
	Timestamp         time.Time      `json:"timestamp"`
}

func (e *FeesConverted) IdempotencyKey() string { return fmt.Sprintf("fees:%d", e.Sequence) }
func (e *FeesConverted) EventType() EventType   { return EventTypeFeesConverted }
func (e *FeesConverted) OccurredAt() time.Time  { return e.Timestamp }

type ShutdownToggled struct {
	Caller    ledger.Address `json:"caller"`
	Reason    string         `json:"reason"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *ShutdownToggled) IdempotencyKey() string { return "shutdown" }
func (e *ShutdownToggled) EventType() EventType   { return EventTypeShutdownToggled }
func (e *ShutdownToggled) OccurredAt() time.Time  { return e.Timestamp }

type SettingsChanged struct {
	Sequence             int64          `json:"sequence"`
	Caller               ledger.Address `json:"caller"`
	SubscriptionsEnabled bool           `json:"subscriptions_enabled"`
	RedemptionsEnabled   bool           `json:"redemptions_enabled"`
	Timestamp            time.Time      `json:"timestamp"`
}

func (e *SettingsChanged) IdempotencyKey() string { return fmt.Sprintf("settings:%d", e.Sequence) }
func (e *SettingsChanged) EventType() EventType   { return EventTypeSettingsChanged }
func (e *SettingsChanged) OccurredAt() time.Time  { return e.Timestamp }
