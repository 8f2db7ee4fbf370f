package enums

import "fmt"

// FundingSource records which channel confirmed a deposit's funding.
type FundingSource string

const (
	FundingSourceChain  FundingSource = "chain"
	FundingSourceOnramp FundingSource = "onramp"
	FundingSourceManual FundingSource = "manual"
)

var validFundingSources = []FundingSource{
	FundingSourceChain,
	FundingSourceOnramp,
	FundingSourceManual,
}

func (s FundingSource) IsValid() bool {
	for _, candidate := range validFundingSources {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFundingSource converts raw input into FundingSource.
func ParseFundingSource(value string) (FundingSource, error) {
	for _, candidate := range validFundingSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding source %q", value)
}
