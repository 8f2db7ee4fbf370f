package disputes

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentescrow-backend/internal/authz"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/ledger"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
	"github.com/angelmondragon/rentescrow-backend/pkg/metrics"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/rentescrow-backend/pkg/retry"
)

const (
	opRaise   = "raise_dispute"
	opReview  = "begin_review"
	opResolve = "resolve_dispute"

	defaultReasonMaxLen = 1000
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// fundMover is the slice of the custody engine a resolution needs.
type fundMover interface {
	MoveFunds(ctx context.Context, tx *gorm.DB, deposit *models.Deposit, allocations []custody.Allocation, kind enums.PayoutKind) ([]models.Payout, error)
	Settle(ctx context.Context, deposit *models.Deposit, payouts []models.Payout) error
}

// Service runs the dispute state machine over funded deposits.
type Service interface {
	RaiseDispute(ctx context.Context, depositID uuid.UUID, auth authz.Authorization, reason string) (*models.Dispute, error)
	BeginReview(ctx context.Context, disputeID uuid.UUID, auth authz.Authorization) (*models.Dispute, error)
	Resolve(ctx context.Context, disputeID uuid.UUID, res Resolution, auth authz.Authorization) (*Outcome, error)
	Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error)
}

// Outcome is the committed result of a resolution.
type Outcome struct {
	Dispute models.Dispute
	Deposit models.Deposit
	Payouts []models.Payout
}

type ServiceParams struct {
	Repo         ledger.Repository
	Tx           txRunner
	Outbox       outboxPublisher
	Funds        fundMover
	Policy       retry.Policy
	ReasonMaxLen int
	Metrics      *metrics.EscrowMetrics
	Logger       *logger.Logger
	Clock        func() time.Time
}

type service struct {
	repo      ledger.Repository
	tx        txRunner
	outbox    outboxPublisher
	funds     fundMover
	policy    retry.Policy
	reasonMax int
	metrics   *metrics.EscrowMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Funds == nil {
		return nil, fmt.Errorf("fund mover required")
	}
	policy := params.Policy
	if policy.Attempts < 1 {
		policy = retry.DefaultPolicy()
	}
	reasonMax := params.ReasonMaxLen
	if reasonMax <= 0 {
		reasonMax = defaultReasonMaxLen
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		funds:     params.Funds,
		policy:    policy,
		reasonMax: reasonMax,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, disputeID uuid.UUID) (*models.Dispute, error) {
	return s.repo.GetDispute(ctx, disputeID)
}

func (s *service) RaiseDispute(ctx context.Context, depositID uuid.UUID, auth authz.Authorization, reason string) (*models.Dispute, error) {
	dispute, err := s.raise(ctx, depositID, auth, reason)
	s.metrics.Transition(opRaise, custody.Outcome(err))
	return dispute, err
}

func (s *service) raise(ctx context.Context, depositID uuid.UUID, auth authz.Authorization, reason string) (*models.Dispute, error) {
	if !auth.IsParty() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "only the renter or the landlord may raise a dispute")
	}
	reason = strings.TrimSpace(reason)
	if n := utf8.RuneCountInString(reason); n == 0 || n > s.reasonMax {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("reason must be 1-%d characters", s.reasonMax))
	}

	var raised *models.Dispute
	err := s.retry(ctx, opRaise, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			deposit, err := repo.GetDeposit(ctx, depositID)
			if err != nil {
				return err
			}
			if !isPartyOf(deposit, auth) {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "caller is not a party of this deposit")
			}
			if deposit.Status == enums.DepositStatusDisputed {
				return pkgerrors.New(pkgerrors.CodeAlreadyDisputed, "deposit already has an active dispute")
			}
			if deposit.Status != enums.DepositStatusFunded {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("deposit is %s, expected funded", deposit.Status))
			}

			now := s.now()
			dispute := &models.Dispute{
				ID:           uuid.New(),
				DepositID:    deposit.ID,
				RaisedBy:     deposit.Renter,
				RaisedByRole: auth.Role,
				Reason:       reason,
				Status:       enums.DisputeStatusOpen,
				Version:      1,
				RaisedAt:     now,
			}
			if auth.Role == enums.PartyRoleLandlord {
				dispute.RaisedBy = deposit.Landlord
			}

			next, err := repo.CompareAndSwap(ctx, deposit.ID, deposit.Version, ledger.DepositChange{
				Status:    enums.DepositStatusDisputed,
				DisputeID: &dispute.ID,
			})
			if err != nil {
				return err
			}
			if err := repo.CreateDispute(ctx, dispute); err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventDisputeRaised, dispute, next, auth); err != nil {
				return err
			}
			raised = dispute
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithDisputeID(ctx, raised.ID.String())
		logCtx = s.logg.WithDepositID(logCtx, depositID.String())
		s.logg.Info(s.logg.WithActorRole(logCtx, string(auth.Role)), "dispute raised")
	}
	return raised, nil
}

func (s *service) BeginReview(ctx context.Context, disputeID uuid.UUID, auth authz.Authorization) (*models.Dispute, error) {
	dispute, err := s.beginReview(ctx, disputeID, auth)
	s.metrics.Transition(opReview, custody.Outcome(err))
	return dispute, err
}

func (s *service) beginReview(ctx context.Context, disputeID uuid.UUID, auth authz.Authorization) (*models.Dispute, error) {
	if !auth.IsArbiter() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "arbiter role required")
	}

	var reviewed *models.Dispute
	err := s.retry(ctx, opReview, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			dispute, err := repo.GetDispute(ctx, disputeID)
			if err != nil {
				return err
			}
			deposit, err := repo.GetDeposit(ctx, dispute.DepositID)
			if err != nil {
				return err
			}
			if isInvolved(deposit, auth.Actor) {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "arbiter may not be a party of the deposit")
			}
			switch dispute.Status {
			case enums.DisputeStatusUnderReview:
				reviewed = dispute
				return nil
			case enums.DisputeStatusOpen:
			default:
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("dispute is %s", dispute.Status))
			}

			now := s.now()
			arbiter := auth.Actor
			next, err := repo.CompareAndSwapDispute(ctx, dispute.ID, dispute.Version, ledger.DisputeChange{
				Status:     enums.DisputeStatusUnderReview,
				Arbiter:    &arbiter,
				ReviewedAt: &now,
			})
			if err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventDisputeUnderReview, next, deposit, auth); err != nil {
				return err
			}
			reviewed = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return reviewed, nil
}

func (s *service) Resolve(ctx context.Context, disputeID uuid.UUID, res Resolution, auth authz.Authorization) (*Outcome, error) {
	outcome, err := s.resolve(ctx, disputeID, res, auth)
	s.metrics.Transition(opResolve, custody.Outcome(err))
	return outcome, err
}

func (s *service) resolve(ctx context.Context, disputeID uuid.UUID, res Resolution, auth authz.Authorization) (*Outcome, error) {
	if !auth.IsArbiter() {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "arbiter role required")
	}

	var outcome *Outcome
	err := s.retry(ctx, opResolve, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			dispute, err := repo.GetDispute(ctx, disputeID)
			if err != nil {
				return err
			}
			if dispute.Status != enums.DisputeStatusUnderReview {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("dispute is %s, expected under_review", dispute.Status))
			}
			deposit, err := repo.GetDeposit(ctx, dispute.DepositID)
			if err != nil {
				return err
			}
			if isInvolved(deposit, auth.Actor) {
				return pkgerrors.New(pkgerrors.CodeUnauthorized, "arbiter may not be a party of the deposit")
			}
			if deposit.Status != enums.DepositStatusDisputed {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("deposit is %s, expected disputed", deposit.Status))
			}
			renterShare, landlordShare, err := Shares(res, deposit.Amount)
			if err != nil {
				return err
			}

			now := s.now()
			arbiter := auth.Actor
			outcomeKind := res.Outcome
			resolved, err := repo.CompareAndSwapDispute(ctx, dispute.ID, dispute.Version, ledger.DisputeChange{
				Status:        enums.DisputeStatusResolved,
				Resolution:    &outcomeKind,
				RenterShare:   &renterShare,
				LandlordShare: &landlordShare,
				Arbiter:       &arbiter,
				ResolvedAt:    &now,
			})
			if err != nil {
				return err
			}
			closed, err := repo.CompareAndSwap(ctx, deposit.ID, deposit.Version, ledger.DepositChange{
				Status:     enums.DepositStatusResolved,
				ResolvedAt: &now,
			})
			if err != nil {
				return err
			}

			var allocations []custody.Allocation
			if renterShare.IsPositive() {
				allocations = append(allocations, custody.Allocation{Role: enums.PartyRoleRenter, Amount: renterShare})
			}
			if landlordShare.IsPositive() {
				allocations = append(allocations, custody.Allocation{Role: enums.PartyRoleLandlord, Amount: landlordShare})
			}
			payouts, err := s.funds.MoveFunds(ctx, tx, closed, allocations, enums.PayoutKindResolution)
			if err != nil {
				return err
			}
			if err := s.emit(ctx, tx, enums.EventDisputeResolved, resolved, closed, auth); err != nil {
				return err
			}
			outcome = &Outcome{Dispute: *resolved, Deposit: *closed, Payouts: payouts}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithDisputeID(ctx, disputeID.String())
		logCtx = s.logg.WithDepositID(logCtx, outcome.Deposit.ID.String())
		s.logg.Info(s.logg.WithField(logCtx, "resolution", res.Outcome), "dispute resolved")
	}
	if err := s.funds.Settle(ctx, &outcome.Deposit, outcome.Payouts); err != nil && s.logg != nil {
		s.logg.Warn(logCtx, "resolution payouts left pending for settlement job: "+err.Error())
	}
	return outcome, nil
}

func (s *service) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.policy, func(ctx context.Context) error {
		err := fn(ctx)
		if pkgerrors.Is(err, pkgerrors.CodeVersionConflict) {
			s.metrics.VersionConflict(op)
		}
		return err
	})
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, dispute *models.Dispute, deposit *models.Deposit, auth authz.Authorization) error {
	now := s.now()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDispute,
		AggregateID:   dispute.ID,
		Actor:         custody.ActorRef(auth),
		OccurredAt:    now,
		Data: payloads.DisputeEvent{
			DisputeID:     dispute.ID,
			DepositID:     deposit.ID,
			Renter:        deposit.Renter,
			Landlord:      deposit.Landlord,
			RaisedBy:      dispute.RaisedBy,
			RaisedByRole:  dispute.RaisedByRole,
			Status:        dispute.Status,
			Resolution:    dispute.Resolution,
			RenterShare:   dispute.RenterShare,
			LandlordShare: dispute.LandlordShare,
			Arbiter:       dispute.Arbiter,
			OccurredAt:    now,
		},
	})
}

// isPartyOf checks the authorization's role against the deposit's recorded
// address for that role.
func isPartyOf(deposit *models.Deposit, auth authz.Authorization) bool {
	switch auth.Role {
	case enums.PartyRoleRenter:
		return chain.SameAddress(auth.Actor, deposit.Renter)
	case enums.PartyRoleLandlord:
		return chain.SameAddress(auth.Actor, deposit.Landlord)
	}
	return false
}

func isInvolved(deposit *models.Deposit, address string) bool {
	return chain.SameAddress(address, deposit.Renter) || chain.SameAddress(address, deposit.Landlord)
}
