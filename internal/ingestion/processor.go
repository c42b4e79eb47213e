package ingestion

import (
	"context"
	"errors"

	"FundLedger/internal/core"
	"FundLedger/internal/observability"
	"FundLedger/internal/pricefeed"
	"FundLedger/internal/sequencer"

	"github.com/rs/zerolog"
)

// Submitter is the sequencer entry point.
type Submitter interface {
	Submit(ctx context.Context, cmd sequencer.Command) (any, error)
}

// FeedApplier is the writable side of the price feed.
type FeedApplier interface {
	Apply(u pricefeed.Update) (gap bool, err error)
}

// PriceProcessor decodes raw price messages and applies them to the feed on
// the sequencer goroutine, so an update never lands halfway through a fund
// operation that reads the feed twice.
type PriceProcessor struct {
	seq          Submitter
	feed         FeedApplier
	baseDecimals int

	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewPriceProcessor(seq Submitter, feed FeedApplier, baseDecimals int, logger zerolog.Logger, metrics *observability.Metrics) *PriceProcessor {
	return &PriceProcessor{
		seq:          seq,
		feed:         feed,
		baseDecimals: baseDecimals,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run drains in until ctx is cancelled or the channel is closed.
func (p *PriceProcessor) Run(ctx context.Context, in <-chan RawEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			_ = p.Handle(ctx, raw)
		}
	}
}

// Handle applies one message and settles its ack state:
//   - applied, or a replay the feed has already seen: ACK
//   - malformed or rejected by the feed: TERM
//   - sequencer stopped or ctx cancelled: NAK
func (p *PriceProcessor) Handle(ctx context.Context, raw RawEvent) error {
	u, err := ParsePriceUpdate(raw.Data, p.baseDecimals)
	if err != nil {
		p.reject("malformed", raw, err)
		settle(raw.TermFunc)
		return err
	}

	gap, err := p.Apply(ctx, u)
	switch {
	case err == nil:
		if gap {
			p.logger.Warn().Str("source", u.Source).Int64("sequence", u.Sequence).Msg("price sequence gap")
		}
		settle(raw.AckFunc)
		return nil
	case errors.Is(err, pricefeed.ErrStaleUpdate):
		p.reject("stale", raw, err)
		settle(raw.AckFunc)
	case errors.Is(err, pricefeed.ErrUnknownAsset):
		p.reject("unknown_asset", raw, err)
		settle(raw.TermFunc)
	case errors.Is(err, pricefeed.ErrInvalidPrice):
		p.reject("invalid_price", raw, err)
		settle(raw.TermFunc)
	default:
		p.logger.Warn().Err(err).Str("subject", raw.Subject).Msg("price update not applied; will retry")
		settle(raw.NakFunc)
	}
	return err
}

// Apply runs the update on the sequencer goroutine.
func (p *PriceProcessor) Apply(ctx context.Context, u pricefeed.Update) (gap bool, err error) {
	res, err := p.seq.Submit(ctx, sequencer.Command{
		Name: "apply_prices",
		Run: func(*core.Fund) (any, error) {
			return p.feed.Apply(u)
		},
	})
	if err != nil {
		return false, err
	}
	if p.metrics != nil {
		p.metrics.PriceUpdates.WithLabelValues(u.Source).Inc()
	}
	gap, _ = res.(bool)
	return gap, nil
}

func (p *PriceProcessor) reject(reason string, raw RawEvent, err error) {
	p.logger.Warn().Err(err).Str("subject", raw.Subject).Str("reason", reason).Msg("price update rejected")
	if p.metrics != nil {
		p.metrics.PriceUpdatesRejected.WithLabelValues(reason).Inc()
	}
}

func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
