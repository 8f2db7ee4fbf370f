package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// Descriptors lists every escrow event routed to topic.
func Descriptors(topic string) []EventDescriptor {
	deposit := func() any { return &payloads.DepositEvent{} }
	dispute := func() any { return &payloads.DisputeEvent{} }
	payout := func() any { return &payloads.PayoutEvent{} }
	return []EventDescriptor{
		{EventType: enums.EventDepositCreated, AggregateType: enums.AggregateDeposit, Topic: topic, PayloadFactory: deposit},
		{EventType: enums.EventDepositFunded, AggregateType: enums.AggregateDeposit, Topic: topic, PayloadFactory: deposit},
		{EventType: enums.EventDepositReleased, AggregateType: enums.AggregateDeposit, Topic: topic, PayloadFactory: deposit},
		{EventType: enums.EventDepositRefunded, AggregateType: enums.AggregateDeposit, Topic: topic, PayloadFactory: deposit},
		{EventType: enums.EventDisputeRaised, AggregateType: enums.AggregateDispute, Topic: topic, PayloadFactory: dispute},
		{EventType: enums.EventDisputeUnderReview, AggregateType: enums.AggregateDispute, Topic: topic, PayloadFactory: dispute},
		{EventType: enums.EventDisputeResolved, AggregateType: enums.AggregateDispute, Topic: topic, PayloadFactory: dispute},
		{EventType: enums.EventPayoutScheduled, AggregateType: enums.AggregatePayout, Topic: topic, PayloadFactory: payout},
		{EventType: enums.EventPayoutSettled, AggregateType: enums.AggregatePayout, Topic: topic, PayloadFactory: payout},
	}
}

// NewEventRegistry builds the registry with the configured topic name.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.EscrowTopic == "" {
		return nil, fmt.Errorf("escrow topic is required")
	}
	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range Descriptors(cfg.EscrowTopic) {
		reg.register(desc)
	}
	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, payload, err := decodeEnvelope(desc, event.Payload.Raw())
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func decodeEnvelope(desc EventDescriptor, raw []byte) (outbox.PayloadEnvelope, any, error) {
	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return envelope, nil, fmt.Errorf("decode envelope: %w", err)
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return envelope, nil, fmt.Errorf("payload missing for %s", desc.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return envelope, nil, fmt.Errorf("decode %s payload: %w", desc.EventType, err)
	}
	return envelope, payload, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
