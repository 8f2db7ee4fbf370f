package custody

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/payloads"
)

// MoveFunds records the payouts for a transition inside the caller's
// transaction. Allocations must be positive, go to distinct parties and sum
// to the deposit amount. Nothing reaches the chain until Settle runs after
// commit.
func (s *service) MoveFunds(ctx context.Context, tx *gorm.DB, deposit *models.Deposit, allocations []Allocation, kind enums.PayoutKind) ([]models.Payout, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fund movement requires a transaction")
	}
	if deposit == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "fund movement requires a deposit")
	}
	if len(allocations) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one allocation required")
	}

	total := decimal.Zero
	seen := make(map[enums.PartyRole]bool, len(allocations))
	payouts := make([]models.Payout, 0, len(allocations))
	for _, alloc := range allocations {
		if !alloc.Role.IsParty() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cannot pay role %q", alloc.Role))
		}
		if seen[alloc.Role] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("duplicate allocation for %s", alloc.Role))
		}
		if !alloc.Amount.IsPositive() {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, fmt.Sprintf("allocation for %s must be positive", alloc.Role))
		}
		seen[alloc.Role] = true
		total = total.Add(alloc.Amount)

		recipient := deposit.Renter
		if alloc.Role == enums.PartyRoleLandlord {
			recipient = deposit.Landlord
		}
		payouts = append(payouts, models.Payout{
			ID:            uuid.New(),
			DepositID:     deposit.ID,
			Recipient:     recipient,
			RecipientRole: alloc.Role,
			Amount:        alloc.Amount,
			Token:         deposit.Token,
			Kind:          kind,
			Status:        enums.PayoutStatusPending,
			CreatedAt:     s.now(),
		})
	}
	if !total.Equal(deposit.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidResolution,
			fmt.Sprintf("allocations total %s, deposit holds %s", total, deposit.Amount))
	}

	if err := s.repo.WithTx(tx).InsertPayouts(ctx, payouts); err != nil {
		return nil, err
	}
	for _, payout := range payouts {
		if err := s.emitPayout(ctx, tx, enums.EventPayoutScheduled, payout); err != nil {
			return nil, err
		}
	}
	return payouts, nil
}

// Settle submits each pending payout to the chain. A failure is recorded on
// the payout and left for SettlePending; the transition that scheduled it
// stays committed.
func (s *service) Settle(ctx context.Context, deposit *models.Deposit, payouts []models.Payout) error {
	var errs error
	for _, payout := range payouts {
		if payout.Status != enums.PayoutStatusPending {
			continue
		}
		if err := s.settleOne(ctx, deposit, payout); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// SettlePending retries payouts whose chain submission has not succeeded yet.
func (s *service) SettlePending(ctx context.Context, limit int) (SettleReport, error) {
	var report SettleReport
	pending, err := s.repo.PendingPayouts(ctx, limit)
	if err != nil {
		return report, err
	}

	deposits := map[uuid.UUID]*models.Deposit{}
	var errs error
	for _, payout := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		deposit, ok := deposits[payout.DepositID]
		if !ok {
			deposit, err = s.repo.GetDeposit(ctx, payout.DepositID)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			deposits[payout.DepositID] = deposit
		}

		report.Attempted++
		if err := s.settleOne(ctx, deposit, payout); err != nil {
			report.Failed++
			if !pkgerrors.MetadataFor(pkgerrors.CodeOf(err)).Retryable {
				errs = multierr.Append(errs, err)
			}
			continue
		}
		report.Settled++
	}
	return report, errs
}

func (s *service) settleOne(ctx context.Context, deposit *models.Deposit, payout models.Payout) error {
	started := time.Now()
	receipt, err := s.chain.Payout(ctx, chain.PayoutInstruction{
		IdempotencyKey: payout.IdempotencyKey(),
		DepositRef:     deposit.Reference,
		Recipient:      payout.Recipient,
		Amount:         payout.Amount,
		Token:          payout.Token,
	})
	s.metrics.ObserveChainCall("payout", time.Since(started))

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithDepositID(ctx, payout.DepositID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{"payout_id": payout.ID.String(), "recipient_role": payout.RecipientRole})
	}

	if err != nil {
		s.metrics.Payout("failed")
		if markErr := s.repo.MarkPayoutFailed(ctx, payout.ID, err.Error()); markErr != nil && s.logg != nil {
			s.logg.Error(logCtx, "failed to record payout failure", markErr)
		}
		if s.logg != nil {
			s.logg.Warn(logCtx, "payout submission failed: "+err.Error())
		}
		return err
	}

	settledAt := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		moved, err := s.repo.WithTx(tx).MarkPayoutSettled(ctx, payout.ID, receipt.TxHash, settledAt)
		if err != nil || !moved {
			return err
		}
		payout.Status = enums.PayoutStatusSettled
		payout.TxHash = &receipt.TxHash
		payout.SettledAt = &settledAt
		return s.emitPayout(ctx, tx, enums.EventPayoutSettled, payout)
	})
	if err != nil {
		s.metrics.Payout("error")
		if s.logg != nil {
			s.logg.Error(logCtx, "failed to record payout settlement", err)
		}
		return err
	}
	s.metrics.Payout("settled")
	if s.logg != nil {
		s.logg.Info(s.logg.WithField(logCtx, "tx_hash", receipt.TxHash), "payout settled")
	}
	return nil
}

func (s *service) emitPayout(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payout models.Payout) error {
	now := s.now()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayout,
		AggregateID:   payout.ID,
		OccurredAt:    now,
		Data: payloads.PayoutEvent{
			PayoutID:      payout.ID,
			DepositID:     payout.DepositID,
			Recipient:     payout.Recipient,
			RecipientRole: payout.RecipientRole,
			Amount:        payout.Amount,
			Token:         payout.Token,
			Kind:          payout.Kind,
			Status:        payout.Status,
			TxHash:        payout.TxHash,
			OccurredAt:    now,
		},
	})
}

func combine(errs []error) error {
	return multierr.Combine(errs...)
}
