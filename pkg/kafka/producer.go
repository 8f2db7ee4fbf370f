// Package kafka publishes email requests for the notification collaborator.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/angelmondragon/rentescrow-backend/pkg/config"
)

// EmailRequest asks the mailer to notify the owner of Wallet. The mailer
// resolves the address and renders Template; this service never sees emails.
type EmailRequest struct {
	RequestID  string            `json:"requestId"`
	EventID    string            `json:"eventId"`
	Wallet     string            `json:"wallet"`
	Template   string            `json:"template"`
	DepositID  string            `json:"depositId"`
	Subject    string            `json:"subject"`
	Variables  map[string]string `json:"variables,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
	topic  string
}

func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	brokers := make([]string, 0, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer requires at least one broker")
	}
	if strings.TrimSpace(cfg.EmailTopic) == "" {
		return nil, errors.New("kafka email topic is required")
	}
	return newProducer(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        cfg.EmailTopic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}, cfg.EmailTopic), nil
}

func newProducer(w messageWriter, topic string) *Producer {
	return &Producer{writer: w, topic: topic}
}

// PublishEmailRequests writes reqs in one batch keyed by wallet, so requests
// for the same wallet keep their order.
func (p *Producer) PublishEmailRequests(ctx context.Context, reqs ...EmailRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(reqs))
	for _, req := range reqs {
		value, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode email request %s: %w", req.RequestID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(strings.ToLower(req.Wallet)),
			Value: value,
			Time:  req.OccurredAt,
			Headers: []kafka.Header{
				{Key: "request_id", Value: []byte(req.RequestID)},
				{Key: "template", Value: []byte(req.Template)},
			},
		})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d email requests to %s: %w", len(msgs), p.topic, err)
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
