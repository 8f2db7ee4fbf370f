package enums

import "fmt"

// ResolutionOutcome maps to the resolution_outcome enum in Postgres.
type ResolutionOutcome string

const (
	ResolutionRefundRenter ResolutionOutcome = "refund_renter"
	ResolutionPayLandlord  ResolutionOutcome = "pay_landlord"
	ResolutionSplit        ResolutionOutcome = "split"
)

var validResolutionOutcomes = []ResolutionOutcome{
	ResolutionRefundRenter,
	ResolutionPayLandlord,
	ResolutionSplit,
}

func (r ResolutionOutcome) IsValid() bool {
	for _, candidate := range validResolutionOutcomes {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseResolutionOutcome converts raw input into ResolutionOutcome.
func ParseResolutionOutcome(value string) (ResolutionOutcome, error) {
	for _, candidate := range validResolutionOutcomes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid resolution outcome %q", value)
}
