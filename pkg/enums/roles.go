package enums

import "fmt"

// TokenRole is the platform role carried in access tokens.
type TokenRole string

const (
	TokenRoleParty   TokenRole = "party"
	TokenRoleArbiter TokenRole = "arbiter"
	TokenRoleSystem  TokenRole = "system"
)

var validTokenRoles = []TokenRole{
	TokenRoleParty,
	TokenRoleArbiter,
	TokenRoleSystem,
}

// String implements fmt.Stringer.
func (r TokenRole) String() string {
	return string(r)
}

// IsValid reports whether the value is a known TokenRole.
func (r TokenRole) IsValid() bool {
	for _, candidate := range validTokenRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseTokenRole converts raw input into a TokenRole.
func ParseTokenRole(value string) (TokenRole, error) {
	for _, candidate := range validTokenRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid token role %q", value)
}

// PartyRole is the caller's relationship to a specific deposit.
type PartyRole string

const (
	PartyRoleRenter   PartyRole = "renter"
	PartyRoleLandlord PartyRole = "landlord"
	PartyRoleArbiter  PartyRole = "arbiter"
	PartyRoleSystem   PartyRole = "system"
	PartyRoleNone     PartyRole = "none"
)

// String implements fmt.Stringer.
func (r PartyRole) String() string {
	return string(r)
}

// IsParty reports whether the role is one side of the deposit agreement.
func (r PartyRole) IsParty() bool {
	return r == PartyRoleRenter || r == PartyRoleLandlord
}

// Counterparty returns the opposite side of the agreement.
func (r PartyRole) Counterparty() PartyRole {
	switch r {
	case PartyRoleRenter:
		return PartyRoleLandlord
	case PartyRoleLandlord:
		return PartyRoleRenter
	default:
		return PartyRoleNone
	}
}
