package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/kafka"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/registry"
)

const notificationConsumer = "escrow-notifications"

type eventDecoder interface {
	Decode(eventType string, body []byte) (*registry.Decoded, error)
}

type eventProcessor interface {
	Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

type emailPublisher interface {
	PublishEmailRequests(ctx context.Context, reqs ...kafka.EmailRequest) error
}

// ConsumerParams wires the notification consumer. Email is optional.
type ConsumerParams struct {
	Repo         Repository
	Subscription *pubsub.Subscriber
	Decoder      eventDecoder
	Idempotency  eventProcessor
	Email        emailPublisher
	Logger       *logger.Logger
}

// Consumer turns delivered escrow events into stored notices and email
// requests, once per event.
type Consumer struct {
	repo         Repository
	subscription *pubsub.Subscriber
	decoder      eventDecoder
	idempotency  eventProcessor
	email        emailPublisher
	logg         *logger.Logger
	now          func() time.Time
}

func NewConsumer(p ConsumerParams) (*Consumer, error) {
	if p.Repo == nil {
		return nil, errors.New("notifications repository required")
	}
	if p.Decoder == nil {
		return nil, errors.New("event decoder required")
	}
	if p.Idempotency == nil {
		return nil, errors.New("idempotency manager required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Consumer{
		repo:         p.Repo,
		subscription: p.Subscription,
		decoder:      p.Decoder,
		idempotency:  p.Idempotency,
		email:        p.Email,
		logg:         p.Logger,
		now:          func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	if c.subscription == nil {
		return errors.New("notification subscription required")
	}
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg.ID, msg.Attributes["event_type"], msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (c *Consumer) process(ctx context.Context, messageID, eventType string, data []byte) bool {
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	})

	decoded, err := c.decoder.Decode(eventType, data)
	if err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Warn(logCtx, "dropping undecodable event: "+err.Error())
			return true
		}
		c.logg.Error(logCtx, "decode event", err)
		return false
	}
	eventID, err := uuid.Parse(decoded.Envelope.EventID)
	if err != nil {
		c.logg.Warn(logCtx, "dropping event with invalid id")
		return true
	}
	logCtx = c.logg.WithField(logCtx, "event_id", eventID.String())

	notices, err := BuildNotices(eventID, decoded, c.now())
	if err != nil {
		c.logg.Warn(logCtx, "dropping event: "+err.Error())
		return true
	}
	if len(notices) == 0 {
		c.logg.Debug(logCtx, "event has no recipients")
		return true
	}

	ran, err := c.idempotency.Process(ctx, notificationConsumer, eventID, func(ctx context.Context) error {
		return c.deliver(ctx, notices)
	})
	if err != nil {
		c.logg.Error(logCtx, "notification delivery failed", err)
		return false
	}
	if !ran {
		c.logg.Info(logCtx, "event already processed")
		return true
	}
	c.logg.Info(c.logg.WithField(logCtx, "recipients", len(notices)), "notifications delivered")
	return true
}

// deliver stores notices before requesting email. Rows are keyed by
// (event_id, recipient) so a retried event does not duplicate them.
func (c *Consumer) deliver(ctx context.Context, notices []Notice) error {
	rows := make([]models.Notification, 0, len(notices))
	for _, n := range notices {
		rows = append(rows, n.Notification)
	}
	if _, err := c.repo.CreateMany(ctx, rows); err != nil {
		return fmt.Errorf("store notifications: %w", err)
	}
	if c.email == nil {
		return nil
	}
	emails := make([]kafka.EmailRequest, 0, len(notices))
	for _, n := range notices {
		emails = append(emails, n.Email)
	}
	if err := c.email.PublishEmailRequests(ctx, emails...); err != nil {
		return fmt.Errorf("publish email requests: %w", err)
	}
	return nil
}
