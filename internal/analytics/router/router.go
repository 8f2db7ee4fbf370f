package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer delivers BigQuery rows produced by analytics handlers.
type Writer interface {
	InsertEscrowEvent(ctx context.Context, row types.EscrowEventRow) error
}

// Handler receives an envelope plus a decoded event payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

type handlerEntry struct {
	factory func() any
	handler Handler
}

// Router dispatches analytics envelopes to the configured handler per event type.
type Router struct {
	handlers map[enums.OutboxEventType]handlerEntry
	logg     *logger.Logger
}

// NewRouter registers a row handler for every escrow event and lets callers
// override specific events.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	byAggregate := map[enums.OutboxAggregateType]Handler{
		enums.AggregateDeposit: &rowHandler{writer: writer, logg: logg, build: depositRow},
		enums.AggregateDispute: &rowHandler{writer: writer, logg: logg, build: disputeRow},
		enums.AggregatePayout:  &rowHandler{writer: writer, logg: logg, build: payoutRow},
	}
	entries := make(map[enums.OutboxEventType]handlerEntry)
	for _, desc := range registry.Descriptors("") {
		handler := byAggregate[desc.AggregateType]
		if custom, ok := overrides[desc.EventType]; ok && custom != nil {
			handler = custom
		}
		entries[desc.EventType] = handlerEntry{factory: desc.PayloadFactory, handler: handler}
	}

	return &Router{handlers: entries, logg: logg}, nil
}

// Handle decodes the envelope payload and dispatches it.
func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	entry, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}
	return entry.handler.Handle(ctx, envelope, payload)
}

type rowHandler struct {
	writer Writer
	logg   *logger.Logger
	build  func(types.Envelope, any) (types.EscrowEventRow, error)
}

func (h *rowHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"aggregate_id": envelope.AggregateID,
	})

	row, err := h.build(envelope, payload)
	if err != nil {
		h.logg.Error(logCtx, "failed to build escrow event row", err)
		return err
	}
	if err := h.writer.InsertEscrowEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert escrow event row", err)
		return err
	}
	h.logg.Debug(logCtx, "escrow event row inserted")
	return nil
}
