package router

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/internal/analytics"
	"github.com/angelmondragon/rentescrow-backend/internal/analytics/types"
	analyticswriter "github.com/angelmondragon/rentescrow-backend/internal/analytics/writer"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/payloads"
)

func baseRow(envelope types.Envelope, occurredAt time.Time, depositID string, payload any) (types.EscrowEventRow, error) {
	payloadJSON, err := analyticswriter.EncodeJSON(payload)
	if err != nil {
		return types.EscrowEventRow{}, fmt.Errorf("encode payload json: %w", err)
	}
	return types.EscrowEventRow{
		EventID:       envelope.EventID,
		EventType:     string(envelope.EventType),
		AggregateType: string(envelope.AggregateType),
		OccurredAt:    analytics.EventTimestamp(occurredAt, envelope.OccurredAt, time.Now()),
		DepositID:     depositID,
		Actor:         stringPtr(envelope.Actor),
		Payload:       payloadJSON,
	}, nil
}

func depositRow(envelope types.Envelope, payload any) (types.EscrowEventRow, error) {
	event, ok := payload.(*payloads.DepositEvent)
	if !ok {
		return types.EscrowEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseRow(envelope, event.OccurredAt, event.DepositID.String(), event)
	if err != nil {
		return row, err
	}
	row.Reference = stringPtr(event.Reference)
	row.Renter = stringPtr(event.Renter)
	row.Landlord = stringPtr(event.Landlord)
	row.Status = stringPtr(string(event.Status))
	row.Amount = ratPtr(&event.Amount)
	row.Token = stringPtr(strings.ToUpper(event.Token))
	if event.FundingSource != nil {
		row.FundingSource = stringPtr(string(*event.FundingSource))
	}
	if event.FundingTxHash != nil {
		row.TxHash = stringPtr(*event.FundingTxHash)
	}
	if event.Recipient != nil {
		row.Recipient = stringPtr(string(*event.Recipient))
	}
	return row, nil
}

func disputeRow(envelope types.Envelope, payload any) (types.EscrowEventRow, error) {
	event, ok := payload.(*payloads.DisputeEvent)
	if !ok {
		return types.EscrowEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseRow(envelope, event.OccurredAt, event.DepositID.String(), event)
	if err != nil {
		return row, err
	}
	row.DisputeID = stringPtr(event.DisputeID.String())
	row.Renter = stringPtr(event.Renter)
	row.Landlord = stringPtr(event.Landlord)
	row.Status = stringPtr(string(event.Status))
	if event.Resolution != nil {
		row.Resolution = stringPtr(string(*event.Resolution))
	}
	row.RenterShare = ratPtr(event.RenterShare)
	row.LandlordShare = ratPtr(event.LandlordShare)
	return row, nil
}

func payoutRow(envelope types.Envelope, payload any) (types.EscrowEventRow, error) {
	event, ok := payload.(*payloads.PayoutEvent)
	if !ok {
		return types.EscrowEventRow{}, fmt.Errorf("invalid payload for %s", envelope.EventType)
	}
	row, err := baseRow(envelope, event.OccurredAt, event.DepositID.String(), event)
	if err != nil {
		return row, err
	}
	row.PayoutID = stringPtr(event.PayoutID.String())
	row.Recipient = stringPtr(event.Recipient)
	row.Status = stringPtr(string(event.Status))
	row.PayoutKind = stringPtr(string(event.Kind))
	row.Amount = ratPtr(&event.Amount)
	row.Token = stringPtr(strings.ToUpper(event.Token))
	if event.TxHash != nil {
		row.TxHash = stringPtr(*event.TxHash)
	}
	return row, nil
}

// stringPtr returns a trimmed pointer or nil when the input is empty.
func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func ratPtr(value *decimal.Decimal) *big.Rat {
	if value == nil {
		return nil
	}
	return value.Rat()
}
