// Package dto holds the JSON shapes the escrow endpoints accept and return.
package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
)

type CreateDepositRequest struct {
	Renter   string          `json:"renter" validate:"required,eth_addr"`
	Landlord string          `json:"landlord" validate:"required,eth_addr"`
	Amount   decimal.Decimal `json:"amount"`
	Token    string          `json:"token" validate:"required,min=2,max=16"`
}

type FundRequest struct {
	TxHash string `json:"txHash" validate:"required,txhash"`
}

type ConsentRequest struct {
	Action    string `json:"action" validate:"required,oneof=release refund"`
	Recipient string `json:"recipient" validate:"omitempty,oneof=renter landlord"`
}

// FundMovementRequest is the body of release and refund. ConsentToken carries
// the counterparty's signed consent; it may also arrive as X-Consent-Token.
type FundMovementRequest struct {
	ConsentToken string `json:"consentToken"`
	Recipient    string `json:"recipient" validate:"omitempty,oneof=renter landlord"`
}

type RaiseDisputeRequest struct {
	DepositID uuid.UUID `json:"depositId" validate:"required"`
	Reason    string    `json:"reason" validate:"required,nonblank"`
}

type ResolveRequest struct {
	Outcome       string           `json:"outcome" validate:"required,oneof=refund_renter pay_landlord split"`
	RenterShare   *decimal.Decimal `json:"renterShare"`
	LandlordShare *decimal.Decimal `json:"landlordShare"`
}

type DepositResponse struct {
	ID                  uuid.UUID       `json:"id"`
	Reference           string          `json:"reference"`
	Renter              string          `json:"renter"`
	Landlord            string          `json:"landlord"`
	Amount              decimal.Decimal `json:"amount"`
	Token               string          `json:"token"`
	Status              string          `json:"status"`
	Version             int64           `json:"version"`
	FundingTxHash       *string         `json:"fundingTxHash,omitempty"`
	FundingSource       *string         `json:"fundingSource,omitempty"`
	DisputeID           *uuid.UUID      `json:"disputeId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	FundedAt            *time.Time      `json:"fundedAt,omitempty"`
	ReleaseWindowEndsAt *time.Time      `json:"releaseWindowEndsAt,omitempty"`
	ReleasedAt          *time.Time      `json:"releasedAt,omitempty"`
	ResolvedAt          *time.Time      `json:"resolvedAt,omitempty"`
}

type PayoutResponse struct {
	ID            uuid.UUID       `json:"id"`
	Recipient     string          `json:"recipient"`
	RecipientRole string          `json:"recipientRole"`
	Amount        decimal.Decimal `json:"amount"`
	Token         string          `json:"token"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	TxHash        *string         `json:"txHash,omitempty"`
	SettledAt     *time.Time      `json:"settledAt,omitempty"`
}

type DisputeResponse struct {
	ID            uuid.UUID        `json:"id"`
	DepositID     uuid.UUID        `json:"depositId"`
	RaisedBy      string           `json:"raisedBy"`
	RaisedByRole  string           `json:"raisedByRole"`
	Reason        string           `json:"reason"`
	Status        string           `json:"status"`
	Resolution    *string          `json:"resolution,omitempty"`
	RenterShare   *decimal.Decimal `json:"renterShare,omitempty"`
	LandlordShare *decimal.Decimal `json:"landlordShare,omitempty"`
	Arbiter       *string          `json:"arbiter,omitempty"`
	RaisedAt      time.Time        `json:"raisedAt"`
	ReviewedAt    *time.Time       `json:"reviewedAt,omitempty"`
	ResolvedAt    *time.Time       `json:"resolvedAt,omitempty"`
}

type DepositDetailResponse struct {
	DepositResponse
	Payouts  []PayoutResponse  `json:"payouts"`
	Disputes []DisputeResponse `json:"disputes"`
}

type ResolutionResponse struct {
	Dispute DisputeResponse  `json:"dispute"`
	Deposit DepositResponse  `json:"deposit"`
	Payouts []PayoutResponse `json:"payouts"`
}

func Deposit(d models.Deposit) DepositResponse {
	return DepositResponse{
		ID:                  d.ID,
		Reference:           d.Reference,
		Renter:              d.Renter,
		Landlord:            d.Landlord,
		Amount:              d.Amount,
		Token:               d.Token,
		Status:              string(d.Status),
		Version:             d.Version,
		FundingTxHash:       d.FundingTxHash,
		FundingSource:       d.FundingSource,
		DisputeID:           d.DisputeID,
		CreatedAt:           d.CreatedAt,
		FundedAt:            d.FundedAt,
		ReleaseWindowEndsAt: d.ReleaseWindowEndsAt,
		ReleasedAt:          d.ReleasedAt,
		ResolvedAt:          d.ResolvedAt,
	}
}

func Payouts(payouts []models.Payout) []PayoutResponse {
	out := make([]PayoutResponse, 0, len(payouts))
	for _, p := range payouts {
		out = append(out, PayoutResponse{
			ID:            p.ID,
			Recipient:     p.Recipient,
			RecipientRole: string(p.RecipientRole),
			Amount:        p.Amount,
			Token:         p.Token,
			Kind:          string(p.Kind),
			Status:        string(p.Status),
			TxHash:        p.TxHash,
			SettledAt:     p.SettledAt,
		})
	}
	return out
}

func Dispute(d models.Dispute) DisputeResponse {
	out := DisputeResponse{
		ID:            d.ID,
		DepositID:     d.DepositID,
		RaisedBy:      d.RaisedBy,
		RaisedByRole:  string(d.RaisedByRole),
		Reason:        d.Reason,
		Status:        string(d.Status),
		RenterShare:   d.RenterShare,
		LandlordShare: d.LandlordShare,
		Arbiter:       d.Arbiter,
		RaisedAt:      d.RaisedAt,
		ReviewedAt:    d.ReviewedAt,
		ResolvedAt:    d.ResolvedAt,
	}
	if d.Resolution != nil {
		r := string(*d.Resolution)
		out.Resolution = &r
	}
	return out
}

func DepositDetail(view *custody.DepositView) DepositDetailResponse {
	out := DepositDetailResponse{
		DepositResponse: Deposit(view.Deposit),
		Payouts:         Payouts(view.Payouts),
		Disputes:        make([]DisputeResponse, 0, len(view.Disputes)),
	}
	for _, d := range view.Disputes {
		out.Disputes = append(out.Disputes, Dispute(d))
	}
	return out
}
