package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// Dispute is an append-only claim over a funded deposit. Rows are never
// deleted; only status/resolution columns advance.
type Dispute struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	DepositID     uuid.UUID                `gorm:"column:deposit_id;type:uuid;not null"`
	RaisedBy      string                   `gorm:"column:raised_by;not null"`
	RaisedByRole  enums.PartyRole          `gorm:"column:raised_by_role;not null"`
	Reason        string                   `gorm:"column:reason;not null"`
	Status        enums.DisputeStatus      `gorm:"column:status;type:dispute_status;not null"`
	Version       int64                    `gorm:"column:version;not null"`
	Resolution    *enums.ResolutionOutcome `gorm:"column:resolution"`
	RenterShare   *decimal.Decimal         `gorm:"column:renter_share;type:numeric(38,18)"`
	LandlordShare *decimal.Decimal         `gorm:"column:landlord_share;type:numeric(38,18)"`
	Arbiter       *string                  `gorm:"column:arbiter"`
	RaisedAt      time.Time                `gorm:"column:raised_at;not null"`
	ReviewedAt    *time.Time               `gorm:"column:reviewed_at"`
	ResolvedAt    *time.Time               `gorm:"column:resolved_at"`
}

func (Dispute) TableName() string { return "disputes" }
