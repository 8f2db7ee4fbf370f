package registry

import (
	"fmt"
	"sync"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
)

// Decoded is a consumer-side view of a delivered event.
type Decoded struct {
	EventType enums.OutboxEventType
	Envelope  outbox.PayloadEnvelope
	Payload   any
}

// DecoderRegistry decodes delivered messages for consumers, keyed by the
// event_type attribute the publisher stamps on every message.
type DecoderRegistry struct {
	mtx     sync.RWMutex
	entries map[enums.OutboxEventType]EventDescriptor
}

// NewDecoderRegistry returns a registry that knows every escrow event.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	for _, desc := range Descriptors("") {
		r.Register(desc)
	}
	return r
}

// Register stores or replaces the descriptor for its event type.
func (r *DecoderRegistry) Register(desc EventDescriptor) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.entries[desc.EventType] = desc
}

// Decode parses an envelope body delivered with the given event type.
func (r *DecoderRegistry) Decode(eventType string, body []byte) (*Decoded, error) {
	r.mtx.RLock()
	desc, ok := r.entries[enums.OutboxEventType(eventType)]
	r.mtx.RUnlock()
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("decoder not registered for %q", eventType))
	}
	envelope, payload, err := decodeEnvelope(desc, body)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &Decoded{EventType: desc.EventType, Envelope: envelope, Payload: payload}, nil
}
