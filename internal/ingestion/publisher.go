package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"FundLedger/internal/core"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	OutboundStream        = "FUND_EVENTS"
	OutboundSubjectPrefix = "fund.events"
)

// Publisher is the part of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed fund events for downstream
// consumers. Delivery is best effort; the Postgres event log is the record.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan core.CoreOutput
	logger    zerolog.Logger
}

// PublishableEvent is the outbound wire format.
type PublishableEvent struct {
	FundID         string          `json:"fund_id"`
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan core.CoreOutput, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		logger:    logger,
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case out, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, out); err != nil {
				// Non-fatal: downstream consumers can read the event log directly
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Subject is fund.events.{event_type}.
func Subject(out core.CoreOutput) string {
	return fmt.Sprintf("%s.%s", OutboundSubjectPrefix, out.Envelope.EventType)
}

func ToPublishable(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	return PublishableEvent{
		FundID:         env.FundID,
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	data, err := json.Marshal(ToPublishable(out))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The message id lets JetStream drop republished events after a restart.
	msgID := fmt.Sprintf("%s:%d", out.Envelope.FundID, out.Envelope.Sequence)
	_, err = op.js.Publish(ctx, Subject(out), data, jetstream.WithMsgID(msgID))
	return err
}
