package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics/router"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
)

const analyticsConsumerName = "analytics"

// Handler defines how to process analytics envelopes.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type eventProcessor interface {
	Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

type flusher interface {
	Flush(ctx context.Context) error
}

// Service consumes escrow events from Pub/Sub into BigQuery, once per event.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	manager      eventProcessor
	flusher      flusher
	logg         *logger.Logger
}

// NewService creates an analytics worker. flush may be nil when the writer
// does not buffer.
func NewService(subscription *gcppubsub.Subscriber, handler Handler, manager eventProcessor, flush flusher, logg *logger.Logger) (*Service, error) {
	if subscription == nil {
		return nil, errors.New("analytics subscription is required")
	}
	if handler == nil {
		return nil, errors.New("analytics handler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: subscription,
		handler:      handler,
		manager:      manager,
		flusher:      flush,
		logg:         logg,
	}, nil
}

// Run consumes analytics messages until the context is canceled, then
// flushes whatever the writer still buffers.
func (s *Service) Run(ctx context.Context) error {
	err := s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.process(innerCtx, msg.ID, msg.Attributes, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
	if s.flusher != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if flushErr := s.flusher.Flush(flushCtx); flushErr != nil {
			s.logg.Error(flushCtx, "flush buffered analytics rows", flushErr)
		}
	}
	return err
}

// process reports whether the message should be acked.
func (s *Service) process(ctx context.Context, messageID string, attrs map[string]string, data []byte) bool {
	logCtx := s.logg.WithField(ctx, "message_id", messageID)

	envelope, err := buildEnvelope(attrs, data)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return true
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		return true
	}

	ran, err := s.manager.Process(logCtx, analyticsConsumerName, eventID, func(ctx context.Context) error {
		return s.handler.Handle(ctx, *envelope)
	})
	switch {
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Warn(logCtx, "dropping unsupported analytics event")
		return true
	case err != nil:
		s.logg.Error(logCtx, "handler error", err)
		return false
	case !ran:
		s.logg.Info(logCtx, "event already processed")
		return true
	}
	s.logg.Info(logCtx, "analytics event handled")
	return true
}

func buildEnvelope(attrs map[string]string, data []byte) (*types.Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}

	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(attrs["event_type"]))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(strings.TrimSpace(attrs["aggregate_type"]))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := strings.TrimSpace(attrs["aggregate_id"])
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(attrs["created_at"])); err == nil {
			occurredAt = parsed
		}
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = strings.TrimSpace(attrs["event_id"])
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	envelope := &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}
	if stored.Actor != nil {
		envelope.Actor = stored.Actor.Wallet
	}
	return envelope, nil
}
