package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateDeposit OutboxAggregateType = "deposit"
	AggregateDispute OutboxAggregateType = "dispute"
	AggregatePayout  OutboxAggregateType = "payout"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateDeposit,
	AggregateDispute,
	AggregatePayout,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventDepositCreated     OutboxEventType = "deposit_created"
	EventDepositFunded      OutboxEventType = "deposit_funded"
	EventDepositReleased    OutboxEventType = "deposit_released"
	EventDepositRefunded    OutboxEventType = "deposit_refunded"
	EventDisputeRaised      OutboxEventType = "dispute_raised"
	EventDisputeUnderReview OutboxEventType = "dispute_under_review"
	EventDisputeResolved    OutboxEventType = "dispute_resolved"
	EventPayoutScheduled    OutboxEventType = "payout_scheduled"
	EventPayoutSettled      OutboxEventType = "payout_settled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventDepositCreated,
	EventDepositFunded,
	EventDepositReleased,
	EventDepositRefunded,
	EventDisputeRaised,
	EventDisputeUnderReview,
	EventDisputeResolved,
	EventPayoutScheduled,
	EventPayoutSettled,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)
