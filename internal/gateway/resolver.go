// Package gateway turns authenticated callers and external evidence into the
// typed inputs the custody and dispute engines accept.
package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/rentescrow-backend/internal/authz"
	"github.com/angelmondragon/rentescrow-backend/pkg/auth"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

// Caller is the identity proven by an access token.
type Caller struct {
	Wallet string
	Role   enums.TokenRole
}

// ConsentGrant is a freshly minted consent token.
type ConsentGrant struct {
	Token     string    `json:"consentToken"`
	Action    string    `json:"action"`
	Recipient string    `json:"recipient"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Resolver struct {
	jwt        config.JWTConfig
	consentTTL time.Duration
	now        func() time.Time
}

func NewResolver(jwtCfg config.JWTConfig, consentTTL time.Duration) *Resolver {
	if consentTTL <= 0 {
		consentTTL = 72 * time.Hour
	}
	return &Resolver{jwt: jwtCfg, consentTTL: consentTTL, now: func() time.Time { return time.Now().UTC() }}
}

// Authorize is the authorization of caller acting on deposit, without any
// consent attached.
func (r *Resolver) Authorize(caller Caller, deposit *models.Deposit) authz.Authorization {
	out := authz.Authorization{Actor: caller.Wallet, TokenRole: caller.Role, Role: enums.PartyRoleNone}
	switch caller.Role {
	case enums.TokenRoleArbiter:
		out.Role = enums.PartyRoleArbiter
	case enums.TokenRoleSystem:
		out.Role = enums.PartyRoleSystem
	case enums.TokenRoleParty:
		if deposit == nil {
			return out
		}
		if chain.SameAddress(caller.Wallet, deposit.Renter) {
			out.Role = enums.PartyRoleRenter
		} else if chain.SameAddress(caller.Wallet, deposit.Landlord) {
			out.Role = enums.PartyRoleLandlord
		}
	}
	return out
}

// AuthorizeFundMovement builds the authorization for a release or refund. The
// submitting party consents by submitting; consentToken, when present, must
// carry the counterparty's consent to the same action on the same deposit.
func (r *Resolver) AuthorizeFundMovement(caller Caller, deposit *models.Deposit, action enums.ConsentAction, consentToken string, recipient enums.PartyRole) (authz.Authorization, error) {
	out := r.Authorize(caller, deposit)
	out.Action = action
	out.Recipient = recipient
	if !out.IsParty() {
		return out, nil
	}
	out = out.WithConsent(out.Role)

	consentToken = strings.TrimSpace(consentToken)
	if consentToken == "" {
		return out, nil
	}
	claims, err := auth.ParseConsentToken(r.jwt, consentToken)
	if err != nil {
		return authz.Authorization{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid consent token")
	}
	if claims.DepositID != deposit.ID {
		return authz.Authorization{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "consent token is for another deposit")
	}
	if claims.Action != action {
		return authz.Authorization{}, pkgerrors.New(pkgerrors.CodeUnauthorized, fmt.Sprintf("consent token approves %s, not %s", claims.Action, action))
	}
	counterparty := out.Role.Counterparty()
	if claims.Party != counterparty || !chain.SameAddress(claims.Wallet, partyAddress(deposit, counterparty)) {
		return authz.Authorization{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "consent token must come from the counterparty")
	}
	if claims.Recipient.IsParty() {
		if recipient.IsParty() && recipient != claims.Recipient {
			return authz.Authorization{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "consent was given for a different recipient")
		}
		out.Recipient = claims.Recipient
	}
	return out.WithConsent(counterparty), nil
}

// MintConsent signs the caller's consent to action on deposit.
func (r *Resolver) MintConsent(caller Caller, deposit *models.Deposit, action enums.ConsentAction, recipient enums.PartyRole) (ConsentGrant, error) {
	if !action.IsValid() {
		return ConsentGrant{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown action %q", action))
	}
	who := r.Authorize(caller, deposit)
	if !who.IsParty() {
		return ConsentGrant{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "only the renter or the landlord may consent")
	}
	switch {
	case action == enums.ConsentActionRefund:
		recipient = enums.PartyRoleRenter
	case !recipient.IsParty():
		recipient = enums.PartyRoleLandlord
	}

	token, expiresAt, err := auth.MintConsentToken(r.jwt, r.now(), r.consentTTL, auth.ConsentPayload{
		DepositID: deposit.ID,
		Action:    action,
		Party:     who.Role,
		Wallet:    partyAddress(deposit, who.Role),
		Recipient: recipient,
	})
	if err != nil {
		return ConsentGrant{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint consent token")
	}
	return ConsentGrant{Token: token, Action: string(action), Recipient: string(recipient), ExpiresAt: expiresAt}, nil
}

func partyAddress(deposit *models.Deposit, role enums.PartyRole) string {
	if role == enums.PartyRoleLandlord {
		return deposit.Landlord
	}
	return deposit.Renter
}
