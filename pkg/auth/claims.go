package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// ConsentAudience marks tokens that carry a party's consent to move funds.
// Access tokens never carry it.
const ConsentAudience = "rentescrow:deposit-consent"

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Wallet string
	Role   enums.TokenRole
	JTI    string
}

// AccessTokenClaims represents the typed JWT issued to clients. The subject
// is the caller's wallet address.
type AccessTokenClaims struct {
	Wallet string          `json:"wallet"`
	Role   enums.TokenRole `json:"role"`
	jwt.RegisteredClaims
}

// ConsentPayload describes one party's approval of a release or refund.
type ConsentPayload struct {
	DepositID uuid.UUID
	Action    enums.ConsentAction
	Party     enums.PartyRole
	Wallet    string
	Recipient enums.PartyRole
}

// ConsentClaims is the signed form of ConsentPayload. It is bound to the
// deposit, not a deposit version, and holds until it expires.
type ConsentClaims struct {
	DepositID uuid.UUID           `json:"deposit_id"`
	Action    enums.ConsentAction `json:"action"`
	Party     enums.PartyRole     `json:"party"`
	Wallet    string              `json:"wallet"`
	Recipient enums.PartyRole     `json:"recipient"`
	jwt.RegisteredClaims
}
