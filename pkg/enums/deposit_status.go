package enums

import "fmt"

// DepositStatus maps to the deposit_status enum in Postgres.
type DepositStatus string

const (
	DepositStatusCreated  DepositStatus = "created"
	DepositStatusFunded   DepositStatus = "funded"
	DepositStatusReleased DepositStatus = "released"
	DepositStatusDisputed DepositStatus = "disputed"
	DepositStatusResolved DepositStatus = "resolved"
)

var validDepositStatuses = []DepositStatus{
	DepositStatusCreated,
	DepositStatusFunded,
	DepositStatusReleased,
	DepositStatusDisputed,
	DepositStatusResolved,
}

// String implements fmt.Stringer.
func (s DepositStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical deposit_status enum.
func (s DepositStatus) IsValid() bool {
	for _, candidate := range validDepositStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition may leave the status.
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusReleased || s == DepositStatusResolved
}

// IsActive reports whether funds are still awaited or held without dispute.
func (s DepositStatus) IsActive() bool {
	return s == DepositStatusCreated || s == DepositStatusFunded
}

// CanTransitionTo encodes the deposit state machine.
func (s DepositStatus) CanTransitionTo(next DepositStatus) bool {
	switch s {
	case DepositStatusCreated:
		return next == DepositStatusFunded
	case DepositStatusFunded:
		return next == DepositStatusReleased || next == DepositStatusDisputed
	case DepositStatusDisputed:
		return next == DepositStatusResolved
	default:
		return false
	}
}

// ParseDepositStatus converts raw input into DepositStatus.
func ParseDepositStatus(value string) (DepositStatus, error) {
	for _, candidate := range validDepositStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid deposit status %q", value)
}
