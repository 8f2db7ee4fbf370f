package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// Deposit is a custodied security deposit. Identity, parties, amount and
// token never change after insert; everything else moves only through
// version-checked updates.
type Deposit struct {
	ID                  uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Reference           string              `gorm:"column:reference;not null;uniqueIndex"`
	Renter              string              `gorm:"column:renter;not null"`
	Landlord            string              `gorm:"column:landlord;not null"`
	Amount              decimal.Decimal     `gorm:"column:amount;type:numeric(38,18);not null"`
	Token               string              `gorm:"column:token;not null"`
	Status              enums.DepositStatus `gorm:"column:status;type:deposit_status;not null"`
	Version             int64               `gorm:"column:version;not null"`
	FundingTxHash       *string             `gorm:"column:funding_tx_hash"`
	FundingSource       *string             `gorm:"column:funding_source"`
	DisputeID           *uuid.UUID          `gorm:"column:dispute_id;type:uuid"`
	CreatedAt           time.Time           `gorm:"column:created_at;not null"`
	FundedAt            *time.Time          `gorm:"column:funded_at"`
	ReleaseWindowEndsAt *time.Time          `gorm:"column:release_window_ends_at"`
	ReleasedAt          *time.Time          `gorm:"column:released_at"`
	ResolvedAt          *time.Time          `gorm:"column:resolved_at"`
	UpdatedAt           time.Time           `gorm:"column:updated_at;not null"`
}

func (Deposit) TableName() string { return "deposits" }

// WindowExpired reports whether the release-eligibility window has ended.
func (d Deposit) WindowExpired(now time.Time) bool {
	return d.ReleaseWindowEndsAt != nil && !now.Before(*d.ReleaseWindowEndsAt)
}
