package onramp

import (
	"context"
	"fmt"
	"strings"

	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

type fundingApplier interface {
	ApplyByReference(ctx context.Context, reference string, proof custody.FundingProof) (gateway.FundingResult, error)
}

type Service struct {
	funding fundingApplier
	logg    *logger.Logger
}

func NewService(funding fundingApplier, logg *logger.Logger) (*Service, error) {
	if funding == nil {
		return nil, fmt.Errorf("funding translator required")
	}
	return &Service{funding: funding, logg: logg}, nil
}

// HandleEvent applies a completed payment as funding. Other event types are
// acknowledged and ignored.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "event required")
	}
	if event.Type != EventPaymentCompleted {
		if s.logg != nil {
			s.logg.Debug(s.logg.WithField(ctx, "event_type", event.Type), "onramp.event.ignored")
		}
		return nil
	}

	reference := strings.TrimSpace(event.Data.Reference)
	if reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference missing")
	}
	hash, err := chain.NormalizeTxHash(event.Data.TxHash)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction hash")
	}

	result, err := s.funding.ApplyByReference(ctx, reference, custody.FundingProof{
		TxHash: hash,
		Amount: event.Data.Amount,
		Token:  event.Data.Token,
		Source: enums.FundingSourceOnramp,
	})
	if err != nil {
		return err
	}
	if s.logg != nil {
		ctx = s.logg.WithDepositID(ctx, result.Deposit.ID.String())
		ctx = s.logg.WithField(ctx, "replayed", result.Replayed)
		s.logg.Info(ctx, "onramp.deposit.funded")
	}
	return nil
}
