package enums

// PayoutKind maps to the payout_kind enum in Postgres.
type PayoutKind string

const (
	PayoutKindRelease    PayoutKind = "release"
	PayoutKindRefund     PayoutKind = "refund"
	PayoutKindResolution PayoutKind = "resolution"
)

// PayoutStatus maps to the payout_status enum in Postgres.
type PayoutStatus string

const (
	PayoutStatusPending PayoutStatus = "pending"
	PayoutStatusSettled PayoutStatus = "settled"
)

// ConsentAction is the fund movement a consent token approves.
type ConsentAction string

const (
	ConsentActionRelease ConsentAction = "release"
	ConsentActionRefund  ConsentAction = "refund"
)

func (a ConsentAction) IsValid() bool {
	return a == ConsentActionRelease || a == ConsentActionRefund
}
