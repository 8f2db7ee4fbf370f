package types

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// Envelope is an escrow event as delivered on the analytics subscription.
type Envelope struct {
	EventID       string
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	OccurredAt    time.Time
	Actor         string
	Payload       json.RawMessage
}
