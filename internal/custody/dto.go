package custody

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/internal/authz"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// CreateDepositInput carries the agreement terms for a new deposit.
type CreateDepositInput struct {
	Renter   string
	Landlord string
	Amount   decimal.Decimal
	Token    string
	Actor    authz.Authorization
}

// FundingProof is the evidence a gateway translator collected for a transfer
// into escrow.
type FundingProof struct {
	TxHash string
	Amount decimal.Decimal
	Token  string
	Source enums.FundingSource
}

// Allocation is one recipient's share of a fund movement.
type Allocation struct {
	Role   enums.PartyRole
	Amount decimal.Decimal
}

// DepositView is the read model returned by GetDeposit.
type DepositView struct {
	Deposit  models.Deposit
	Payouts  []models.Payout
	Disputes []models.Dispute
}

// SettleReport summarises one settlement pass.
type SettleReport struct {
	Attempted int
	Settled   int
	Failed    int
}
