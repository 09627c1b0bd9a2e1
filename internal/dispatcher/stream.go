package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commonredis "github.com/mithzak/are-you-dead/common/redis"
	"github.com/mithzak/are-you-dead/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	DefaultStream      = "safecheck:escalations"
	DefaultStreamGroup = "safecheck-notifier"
)

// StreamDispatcher appends events to a Redis Stream for an external
// notification service. Every contact counts as handed off once XADD succeeds.
type StreamDispatcher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

func NewStreamDispatcher(client *redis.Client, stream string, logger *zap.Logger) *StreamDispatcher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamDispatcher{
		client: client,
		stream: stream,
		logger: logger,
	}
}

func (d *StreamDispatcher) Send(ctx context.Context, event models.EscalationEvent) (models.DispatchOutcome, error) {
	id, err := commonredis.PublishJSONToStream(ctx, d.client, d.stream, event)
	if err != nil {
		return models.DispatchOutcome{}, fmt.Errorf("failed to publish to stream %s: %w", d.stream, err)
	}
	d.logger.Debug("Published escalation event",
		zap.String("event_id", event.EventID),
		zap.String("stream", d.stream),
		zap.String("message_id", id),
	)
	out := models.DispatchOutcome{}
	out.Delivered = append(out.Delivered, event.Contacts...)
	return out, nil
}

// StreamRelay reads the stream as a consumer group member and feeds each
// event to a downstream Dispatcher, acking once delivery was attempted.
type StreamRelay struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	next     Dispatcher
	recorder OutcomeRecorder
	block    time.Duration
	logger   *zap.Logger
}

// NewStreamRelay recorder may be nil
func NewStreamRelay(client *redis.Client, stream, group, consumer string, next Dispatcher, recorder OutcomeRecorder, logger *zap.Logger) *StreamRelay {
	if stream == "" {
		stream = DefaultStream
	}
	if group == "" {
		group = DefaultStreamGroup
	}
	if consumer == "" {
		consumer = "relay-1"
	}
	return &StreamRelay{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		next:     next,
		recorder: recorder,
		block:    5 * time.Second,
		logger:   logger,
	}
}

// Run consumes until ctx is cancelled
func (r *StreamRelay) Run(ctx context.Context) error {
	if err := commonredis.CreateConsumerGroup(ctx, r.client, r.stream, r.group); err != nil {
		return err
	}
	r.logger.Info("Stream relay started",
		zap.String("stream", r.stream),
		zap.String("group", r.group),
		zap.String("consumer", r.consumer),
	)

	for {
		if ctx.Err() != nil {
			r.logger.Info("Stream relay stopped")
			return nil
		}
		n, err := r.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				r.logger.Info("Stream relay stopped")
				return nil
			}
			r.logger.Error("Failed to read escalation stream", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		if n > 0 {
			r.logger.Debug("Relayed escalation events", zap.Int("count", n))
		}
	}
}

// Poll reads one batch, relays it and acks it. Returns the batch size.
func (r *StreamRelay) Poll(ctx context.Context) (int, error) {
	messages, err := commonredis.ReadFromStream(ctx, r.client, r.stream, r.group, r.consumer, 10, r.block)
	if err != nil {
		return 0, err
	}

	for _, msg := range messages {
		r.relay(ctx, msg)
		if err := commonredis.AckMessages(ctx, r.client, r.stream, r.group, msg.ID); err != nil {
			r.logger.Error("Failed to ack escalation message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return len(messages), nil
}

func (r *StreamRelay) relay(ctx context.Context, msg commonredis.StreamMessage) {
	event, err := decodeStreamEvent(msg)
	if err != nil {
		// poison message: acked so it does not block the group
		r.logger.Error("Dropping undecodable escalation message",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return
	}

	outcome, err := r.next.Send(ctx, event)
	if err != nil {
		r.logger.Error("Failed to relay escalation event",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		outcome = models.FailAll(event.Contacts, err.Error())
	}
	r.logger.Info("Escalation event relayed",
		zap.String("event_id", event.EventID),
		zap.Int("delivered", len(outcome.Delivered)),
		zap.Int("failed", len(outcome.Failed)),
	)
	if r.recorder != nil {
		if err := r.recorder.RecordOutcome(ctx, event, outcome); err != nil {
			r.logger.Error("Failed to record dispatch outcome",
				zap.String("event_id", event.EventID),
				zap.Error(err),
			)
		}
	}
}

func decodeStreamEvent(msg commonredis.StreamMessage) (models.EscalationEvent, error) {
	var event models.EscalationEvent
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return event, errors.New("missing data field")
	}
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return event, fmt.Errorf("invalid event payload: %w", err)
	}
	return event, nil
}
