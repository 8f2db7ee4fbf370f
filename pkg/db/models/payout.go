package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// Payout is one fund movement out of custody. A deposit pays each recipient
// role at most once.
type Payout struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	DepositID     uuid.UUID          `gorm:"column:deposit_id;type:uuid;not null"`
	Recipient     string             `gorm:"column:recipient;not null"`
	RecipientRole enums.PartyRole    `gorm:"column:recipient_role;not null"`
	Amount        decimal.Decimal    `gorm:"column:amount;type:numeric(38,18);not null"`
	Token         string             `gorm:"column:token;not null"`
	Kind          enums.PayoutKind   `gorm:"column:kind;not null"`
	Status        enums.PayoutStatus `gorm:"column:status;not null"`
	TxHash        *string            `gorm:"column:tx_hash"`
	Attempts      int                `gorm:"column:attempts;not null;default:0"`
	LastError     *string            `gorm:"column:last_error"`
	CreatedAt     time.Time          `gorm:"column:created_at;not null"`
	SettledAt     *time.Time         `gorm:"column:settled_at"`
}

func (Payout) TableName() string { return "payouts" }

// IdempotencyKey is passed to the chain client so a retried transfer is
// recognised as the same instruction.
func (p Payout) IdempotencyKey() string {
	return p.DepositID.String() + ":" + string(p.RecipientRole)
}
