package state

import "time"

// Calculations is the committed valuation snapshot. It is replaced as a
// whole on every fee settlement and never partially updated; SharePrice is
// the high-water mark for performance fees.
type Calculations struct {
	Gav               int64     `json:"gav"`
	ManagementReward  int64     `json:"management_reward"`
	PerformanceReward int64     `json:"performance_reward"`
	UnclaimedRewards  int64     `json:"unclaimed_rewards"`
	Nav               int64     `json:"nav"`
	SharePrice        int64     `json:"share_price"`
	TotalSupply       int64     `json:"total_supply"`
	Timestamp         time.Time `json:"timestamp"`
}

// InitialCalculations returns the snapshot a new fund starts from: one
// share is worth one base unit, everything else is zero.
func InitialCalculations(shareBaseUnit int64, at time.Time) Calculations {
	return Calculations{
		SharePrice: shareBaseUnit,
		Timestamp:  at,
	}
}
