package chainevents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

const (
	ackWait       = 30 * time.Second
	maxDeliver    = 20
	retryDelay    = 15 * time.Second
	streamMaxAge  = 7 * 24 * time.Hour
	depositedPart = "deposited"
)

// delivery is the part of a JetStream message the listener settles.
type delivery interface {
	Data() []byte
	Ack() error
	NakWithDelay(delay time.Duration) error
	Term() error
}

type eventHandler interface {
	Handle(ctx context.Context, data []byte) Outcome
}

// Listener consumes Deposited events from a durable JetStream consumer.
type Listener struct {
	js      jetstream.JetStream
	cfg     config.NATSConfig
	handler eventHandler
	logg    *logger.Logger
}

func NewListener(js jetstream.JetStream, cfg config.NATSConfig, handler eventHandler, logg *logger.Logger) (*Listener, error) {
	if js == nil {
		return nil, errors.New("jetstream context required")
	}
	if handler == nil {
		return nil, errors.New("handler required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if strings.TrimSpace(cfg.Stream) == "" || strings.TrimSpace(cfg.DurableConsumer) == "" {
		return nil, errors.New("stream and durable consumer are required")
	}
	return &Listener{js: js, cfg: cfg, handler: handler, logg: logg}, nil
}

// DepositedSubject is the subject filter for Deposited events under prefix.
func DepositedSubject(prefix string) string {
	return strings.TrimSuffix(prefix, ".") + "." + depositedPart + ".>"
}

// Run ensures the stream and consumer exist, then consumes until ctx ends.
func (l *Listener) Run(ctx context.Context) error {
	prefix := strings.TrimSuffix(l.cfg.SubjectPrefix, ".")
	if _, err := l.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      l.cfg.Stream,
		Subjects:  []string{prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    streamMaxAge,
	}); err != nil {
		return fmt.Errorf("ensure stream %s: %w", l.cfg.Stream, err)
	}

	consumer, err := l.js.CreateOrUpdateConsumer(ctx, l.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       l.cfg.DurableConsumer,
		FilterSubject: DepositedSubject(prefix),
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       ackWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("ensure consumer %s: %w", l.cfg.DurableConsumer, err)
	}

	consumeCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		l.settle(ctx, msg)
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", l.cfg.DurableConsumer, err)
	}
	defer consumeCtx.Stop()

	l.logg.Info(l.logg.WithField(ctx, "subject", DepositedSubject(prefix)), "chain listener subscribed")
	<-ctx.Done()
	return ctx.Err()
}

func (l *Listener) settle(ctx context.Context, msg delivery) {
	outcome := l.handler.Handle(ctx, msg.Data())
	var err error
	switch outcome {
	case OutcomeAck:
		err = msg.Ack()
	case OutcomeRetry:
		err = msg.NakWithDelay(retryDelay)
	default:
		err = msg.Term()
	}
	if err != nil {
		l.logg.Error(l.logg.WithField(ctx, "outcome", outcome.String()), "failed to settle jetstream message", err)
	}
}

// Connect dials NATS with unlimited reconnects and returns a JetStream
// context over the connection.
func Connect(cfg config.NATSConfig, logg *logger.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("rentescrow-chain-listener"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logg.Warn(logg.WithField(context.Background(), "reason", err.Error()), "nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logg.Info(context.Background(), "nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
