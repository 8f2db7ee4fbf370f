// Package authz carries the caller's capabilities for one deposit operation.
// Values are built by the gateway after token verification; the engines only
// read them.
package authz

import (
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

// Authorization is the verified identity and consent set behind a request.
type Authorization struct {
	Actor     string
	TokenRole enums.TokenRole
	Role      enums.PartyRole
	Action    enums.ConsentAction
	Consents  map[enums.PartyRole]bool
	Recipient enums.PartyRole
}

// System is the authorization used by background jobs.
func System() Authorization {
	return Authorization{
		Actor:     "system",
		TokenRole: enums.TokenRoleSystem,
		Role:      enums.PartyRoleSystem,
	}
}

func (a Authorization) IsParty() bool {
	return a.TokenRole == enums.TokenRoleParty && a.Role.IsParty()
}

func (a Authorization) IsArbiter() bool {
	return a.TokenRole == enums.TokenRoleArbiter && a.Role == enums.PartyRoleArbiter
}

func (a Authorization) IsSystem() bool {
	return a.TokenRole == enums.TokenRoleSystem && a.Role == enums.PartyRoleSystem
}

// HasConsent reports whether role approved the authorization's action.
func (a Authorization) HasConsent(role enums.PartyRole) bool {
	return a.Consents[role]
}

// HasJointConsent reports whether both renter and landlord approved the
// authorization's action.
func (a Authorization) HasJointConsent() bool {
	return a.HasConsent(enums.PartyRoleRenter) && a.HasConsent(enums.PartyRoleLandlord)
}

// RecipientOr returns the stated recipient, or fallback when none was given.
func (a Authorization) RecipientOr(fallback enums.PartyRole) enums.PartyRole {
	if a.Recipient.IsParty() {
		return a.Recipient
	}
	return fallback
}

// WithConsent returns a copy that also records role's consent.
func (a Authorization) WithConsent(role enums.PartyRole) Authorization {
	consents := make(map[enums.PartyRole]bool, len(a.Consents)+1)
	for k, v := range a.Consents {
		consents[k] = v
	}
	consents[role] = true
	a.Consents = consents
	return a
}
