package enums

// NotificationType maps to the notification_type enum in Postgres.
type NotificationType string

const (
	NotificationTypeDepositUpdate NotificationType = "deposit_update"
	NotificationTypeDisputeUpdate NotificationType = "dispute_update"
	NotificationTypePayoutUpdate  NotificationType = "payout_update"
)
