package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// Notification stores an in-app notice for one wallet. EventID+Recipient is
// unique so redelivered events do not duplicate notices.
type Notification struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	EventID   uuid.UUID              `gorm:"column:event_id;type:uuid;not null"`
	Recipient string                 `gorm:"column:recipient;not null"`
	DepositID uuid.UUID              `gorm:"column:deposit_id;type:uuid;not null"`
	Type      enums.NotificationType `gorm:"column:type;not null"`
	Title     string                 `gorm:"column:title;not null"`
	Message   string                 `gorm:"column:message;not null"`
	ReadAt    *time.Time             `gorm:"column:read_at"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}

func (Notification) TableName() string { return "notifications" }
