package ingestion

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"FundLedger/internal/ledger"
	"FundLedger/internal/pricefeed"
)

// ManualSource is the feed source name for operator-injected prices.
const ManualSource = "manual"

// ManualIngestService provides operator price injection over the admin API.
// It is for maintenance and tests, not for regular feeds (use NATS for that).
type ManualIngestService struct {
	processor *PriceProcessor
	now       func() time.Time
	seq       atomic.Int64
}

func NewManualIngestService(processor *PriceProcessor) *ManualIngestService {
	s := &ManualIngestService{processor: processor, now: time.Now}
	// Manual sequences follow wall-clock micros so a restart never replays
	// below the feed's high-water sequence for this source.
	s.seq.Store(time.Now().UnixMicro())
	return s
}

// InjectPrices applies one update under the manual source.
func (s *ManualIngestService) InjectPrices(ctx context.Context, prices map[ledger.Asset]int64) (gap bool, err error) {
	if len(prices) == 0 {
		return false, fmt.Errorf("%w: no prices", ErrMalformedUpdate)
	}
	for asset, price := range prices {
		if price <= 0 {
			return false, fmt.Errorf("%w: %s price must be positive", ErrMalformedUpdate, asset)
		}
	}

	return s.processor.Apply(ctx, pricefeed.Update{
		Source:    ManualSource,
		Sequence:  s.seq.Add(1),
		Timestamp: s.now().UTC(),
		Prices:    prices,
	})
}
