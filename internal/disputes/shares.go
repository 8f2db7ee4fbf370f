package disputes

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

// Resolution is an arbiter's ruling. Shares are only read for split; for the
// other outcomes they may be omitted but must agree with the outcome if given.
type Resolution struct {
	Outcome       enums.ResolutionOutcome
	RenterShare   *decimal.Decimal
	LandlordShare *decimal.Decimal
}

// Shares returns the renter and landlord portions of amount for res.
func Shares(res Resolution, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var renter, landlord decimal.Decimal
	switch res.Outcome {
	case enums.ResolutionRefundRenter:
		renter, landlord = amount, decimal.Zero
	case enums.ResolutionPayLandlord:
		renter, landlord = decimal.Zero, amount
	case enums.ResolutionSplit:
		if res.RenterShare == nil || res.LandlordShare == nil {
			return decimal.Zero, decimal.Zero, invalid("split requires both shares")
		}
		renter, landlord = *res.RenterShare, *res.LandlordShare
	default:
		return decimal.Zero, decimal.Zero, invalid(fmt.Sprintf("unknown outcome %q", res.Outcome))
	}

	if res.RenterShare != nil && !res.RenterShare.Equal(renter) {
		return decimal.Zero, decimal.Zero, invalid(fmt.Sprintf("%s gives the renter %s", res.Outcome, renter))
	}
	if res.LandlordShare != nil && !res.LandlordShare.Equal(landlord) {
		return decimal.Zero, decimal.Zero, invalid(fmt.Sprintf("%s gives the landlord %s", res.Outcome, landlord))
	}
	if renter.IsNegative() || landlord.IsNegative() {
		return decimal.Zero, decimal.Zero, invalid("shares must not be negative")
	}
	if !renter.Add(landlord).Equal(amount) {
		return decimal.Zero, decimal.Zero, invalid(fmt.Sprintf("shares %s + %s do not sum to %s", renter, landlord, amount))
	}
	return renter, landlord, nil
}

func invalid(msg string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidResolution, msg)
}
