package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// DepositEvent is emitted on every deposit transition.
type DepositEvent struct {
	DepositID     uuid.UUID            `json:"deposit_id"`
	Reference     string               `json:"reference"`
	Renter        string               `json:"renter"`
	Landlord      string               `json:"landlord"`
	Amount        decimal.Decimal      `json:"amount"`
	Token         string               `json:"token"`
	Status        enums.DepositStatus  `json:"status"`
	Version       int64                `json:"version"`
	FundingSource *enums.FundingSource `json:"funding_source,omitempty"`
	FundingTxHash *string              `json:"funding_tx_hash,omitempty"`
	Recipient     *enums.PartyRole     `json:"recipient,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// DisputeEvent is emitted when a dispute is raised, reviewed or resolved.
type DisputeEvent struct {
	DisputeID     uuid.UUID                `json:"dispute_id"`
	DepositID     uuid.UUID                `json:"deposit_id"`
	Renter        string                   `json:"renter"`
	Landlord      string                   `json:"landlord"`
	RaisedBy      string                   `json:"raised_by"`
	RaisedByRole  enums.PartyRole          `json:"raised_by_role"`
	Status        enums.DisputeStatus      `json:"status"`
	Resolution    *enums.ResolutionOutcome `json:"resolution,omitempty"`
	RenterShare   *decimal.Decimal         `json:"renter_share,omitempty"`
	LandlordShare *decimal.Decimal         `json:"landlord_share,omitempty"`
	Arbiter       *string                  `json:"arbiter,omitempty"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// PayoutEvent is emitted when a payout is scheduled and again when settled.
type PayoutEvent struct {
	PayoutID      uuid.UUID          `json:"payout_id"`
	DepositID     uuid.UUID          `json:"deposit_id"`
	Recipient     string             `json:"recipient"`
	RecipientRole enums.PartyRole    `json:"recipient_role"`
	Amount        decimal.Decimal    `json:"amount"`
	Token         string             `json:"token"`
	Kind          enums.PayoutKind   `json:"kind"`
	Status        enums.PayoutStatus `json:"status"`
	TxHash        *string            `json:"tx_hash,omitempty"`
	OccurredAt    time.Time          `json:"occurred_at"`
}
