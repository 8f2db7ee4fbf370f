package types

import (
	"math/big"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// EscrowEventRow mirrors the escrow_events BigQuery schema. One row is written
// per delivered event; the columns a given aggregate does not carry stay null.
type EscrowEventRow struct {
	EventID       string             `bigquery:"event_id"`
	EventType     string             `bigquery:"event_type"`
	AggregateType string             `bigquery:"aggregate_type"`
	OccurredAt    time.Time          `bigquery:"occurred_at"`
	DepositID     string             `bigquery:"deposit_id"`
	DisputeID     *string            `bigquery:"dispute_id"`
	PayoutID      *string            `bigquery:"payout_id"`
	Reference     *string            `bigquery:"reference"`
	Renter        *string            `bigquery:"renter"`
	Landlord      *string            `bigquery:"landlord"`
	Status        *string            `bigquery:"status"`
	Amount        *big.Rat           `bigquery:"amount"`
	Token         *string            `bigquery:"token"`
	FundingSource *string            `bigquery:"funding_source"`
	Resolution    *string            `bigquery:"resolution"`
	RenterShare   *big.Rat           `bigquery:"renter_share"`
	LandlordShare *big.Rat           `bigquery:"landlord_share"`
	PayoutKind    *string            `bigquery:"payout_kind"`
	Recipient     *string            `bigquery:"recipient"`
	TxHash        *string            `bigquery:"tx_hash"`
	Actor         *string            `bigquery:"actor"`
	Payload       cbigquery.NullJSON `bigquery:"payload"`
}
