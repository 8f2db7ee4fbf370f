package custody

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentescrow-backend/internal/authz"
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
	opCreate  = "create_deposit"
	opFund    = "confirm_funding"
	opRelease = "release"
	opRefund  = "refund"
)

var tokenPattern = regexp.MustCompile(`^[A-Z0-9]{2,16}$`)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns the deposit lifecycle and every movement of custodied funds.
type Service interface {
	CreateDeposit(ctx context.Context, input CreateDepositInput) (*models.Deposit, error)
	GetDeposit(ctx context.Context, id uuid.UUID) (*DepositView, error)
	GetByReference(ctx context.Context, reference string) (*models.Deposit, error)
	ConfirmFunding(ctx context.Context, depositID uuid.UUID, proof FundingProof) (*models.Deposit, error)
	FindFundedByTx(ctx context.Context, txHash string) (*models.Deposit, error)
	Release(ctx context.Context, depositID uuid.UUID, auth authz.Authorization) (*models.Deposit, error)
	Refund(ctx context.Context, depositID uuid.UUID, auth authz.Authorization) (*models.Deposit, error)
	ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error)

	MoveFunds(ctx context.Context, tx *gorm.DB, deposit *models.Deposit, allocations []Allocation, kind enums.PayoutKind) ([]models.Payout, error)
	Settle(ctx context.Context, deposit *models.Deposit, payouts []models.Payout) error
	SettlePending(ctx context.Context, limit int) (SettleReport, error)
}

type ServiceParams struct {
	Repo          ledger.Repository
	Tx            txRunner
	Outbox        outboxPublisher
	Chain         chain.Client
	Policy        retry.Policy
	ReleaseWindow time.Duration
	Metrics       *metrics.EscrowMetrics
	Logger        *logger.Logger
	Clock         func() time.Time
}

type service struct {
	repo      ledger.Repository
	tx        txRunner
	outbox    outboxPublisher
	chain     chain.Client
	policy    retry.Policy
	window    time.Duration
	metrics   *metrics.EscrowMetrics
	logg      *logger.Logger
	now       func() time.Time
	reference func() string
}

// NewService builds the custody engine.
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
	if params.Chain == nil {
		return nil, fmt.Errorf("chain client required")
	}
	if params.ReleaseWindow <= 0 {
		return nil, fmt.Errorf("release window must be positive")
	}
	policy := params.Policy
	if policy.Attempts < 1 {
		policy = retry.DefaultPolicy()
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	gen, err := newReferenceGenerator()
	if err != nil {
		return nil, err
	}
	return &service{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		chain:     params.Chain,
		policy:    policy,
		window:    params.ReleaseWindow,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
		reference: gen,
	}, nil
}

func (s *service) CreateDeposit(ctx context.Context, input CreateDepositInput) (*models.Deposit, error) {
	deposit, err := s.createDeposit(ctx, input)
	s.record(opCreate, err)
	return deposit, err
}

func (s *service) createDeposit(ctx context.Context, input CreateDepositInput) (*models.Deposit, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	renter, err := chain.NormalizeAddress(input.Renter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid renter address")
	}
	landlord, err := chain.NormalizeAddress(input.Landlord)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid landlord address")
	}
	if renter == landlord {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "renter and landlord must differ")
	}
	token := strings.ToUpper(strings.TrimSpace(input.Token))
	if !tokenPattern.MatchString(token) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "token symbol must be 2-16 alphanumeric characters")
	}

	actor := input.Actor
	switch {
	case actor.IsSystem():
		actor.Role = enums.PartyRoleSystem
	case actor.TokenRole == enums.TokenRoleParty && chain.SameAddress(actor.Actor, renter):
		actor.Role = enums.PartyRoleRenter
	case actor.TokenRole == enums.TokenRoleParty && chain.SameAddress(actor.Actor, landlord):
		actor.Role = enums.PartyRoleLandlord
	default:
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "caller must be the renter or the landlord")
	}

	deposit := &models.Deposit{
		ID:        uuid.New(),
		Reference: s.reference(),
		Renter:    renter,
		Landlord:  landlord,
		Amount:    input.Amount,
		Token:     token,
		Status:    enums.DepositStatusCreated,
		Version:   1,
		CreatedAt: s.now(),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).CreateDeposit(ctx, deposit); err != nil {
			return err
		}
		return s.emitDeposit(ctx, tx, enums.EventDepositCreated, deposit, actor, nil)
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithDepositID(ctx, deposit.ID.String())
		logCtx = s.logg.WithField(logCtx, "reference", deposit.Reference)
		s.logg.Info(logCtx, "deposit created")
	}
	return deposit, nil
}

func (s *service) GetDeposit(ctx context.Context, id uuid.UUID) (*DepositView, error) {
	deposit, err := s.repo.GetDeposit(ctx, id)
	if err != nil {
		return nil, err
	}
	payouts, err := s.repo.ListPayouts(ctx, id)
	if err != nil {
		return nil, err
	}
	disputes, err := s.repo.ListDisputes(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DepositView{Deposit: *deposit, Payouts: payouts, Disputes: disputes}, nil
}

func (s *service) GetByReference(ctx context.Context, reference string) (*models.Deposit, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	return s.repo.GetDepositByReference(ctx, reference)
}

func (s *service) ConfirmFunding(ctx context.Context, depositID uuid.UUID, proof FundingProof) (*models.Deposit, error) {
	deposit, err := s.confirmFunding(ctx, depositID, proof)
	s.record(opFund, err)
	return deposit, err
}

func (s *service) confirmFunding(ctx context.Context, depositID uuid.UUID, proof FundingProof) (*models.Deposit, error) {
	txHash := strings.ToLower(strings.TrimSpace(proof.TxHash))
	if txHash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "funding transaction hash required")
	}
	if !proof.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown funding source %q", proof.Source))
	}

	var funded *models.Deposit
	err := s.retry(ctx, opFund, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			current, err := repo.GetDeposit(ctx, depositID)
			if err != nil {
				return err
			}
			if current.Status != enums.DepositStatusCreated {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("deposit is %s, expected created", current.Status))
			}
			if !proof.Amount.Equal(current.Amount) {
				return pkgerrors.New(pkgerrors.CodeFundingMismatch,
					fmt.Sprintf("funded amount %s does not match deposit amount %s", proof.Amount, current.Amount))
			}
			if !strings.EqualFold(strings.TrimSpace(proof.Token), current.Token) {
				return pkgerrors.New(pkgerrors.CodeFundingMismatch,
					fmt.Sprintf("funded token %q does not match deposit token %s", proof.Token, current.Token))
			}

			now := s.now()
			ends := now.Add(s.window)
			source := proof.Source
			next, err := repo.CompareAndSwap(ctx, current.ID, current.Version, ledger.DepositChange{
				Status:              enums.DepositStatusFunded,
				FundingTxHash:       &txHash,
				FundingSource:       &source,
				FundedAt:            &now,
				ReleaseWindowEndsAt: &ends,
			})
			if err != nil {
				return err
			}
			if err := s.emitDeposit(ctx, tx, enums.EventDepositFunded, next, authz.System(), nil); err != nil {
				return err
			}
			funded = next
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithDepositID(ctx, funded.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{"funding_source": proof.Source, "tx_hash": txHash})
		s.logg.Info(logCtx, "deposit funded")
	}
	return funded, nil
}

// FindFundedByTx returns the deposit already credited with txHash, or nil
// when the hash has not been seen.
func (s *service) FindFundedByTx(ctx context.Context, txHash string) (*models.Deposit, error) {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	if txHash == "" {
		return nil, nil
	}
	deposit, err := s.repo.FindDepositByFundingTx(ctx, txHash)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return deposit, nil
}

func (s *service) Release(ctx context.Context, depositID uuid.UUID, auth authz.Authorization) (*models.Deposit, error) {
	deposit, err := s.payOut(ctx, opRelease, depositID, auth, enums.ConsentActionRelease)
	s.record(opRelease, err)
	return deposit, err
}

func (s *service) Refund(ctx context.Context, depositID uuid.UUID, auth authz.Authorization) (*models.Deposit, error) {
	deposit, err := s.payOut(ctx, opRefund, depositID, auth, enums.ConsentActionRefund)
	s.record(opRefund, err)
	return deposit, err
}

// payOut moves the full amount to a single recipient and closes the deposit.
// Release and refund share it, so whichever commits first wins.
func (s *service) payOut(ctx context.Context, op string, depositID uuid.UUID, auth authz.Authorization, action enums.ConsentAction) (*models.Deposit, error) {
	kind := enums.PayoutKindRelease
	eventType := enums.EventDepositReleased
	if action == enums.ConsentActionRefund {
		kind = enums.PayoutKindRefund
		eventType = enums.EventDepositRefunded
	}

	var (
		released *models.Deposit
		payouts  []models.Payout
	)
	err := s.retry(ctx, op, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			current, err := repo.GetDeposit(ctx, depositID)
			if err != nil {
				return err
			}
			if current.Status != enums.DepositStatusFunded {
				return pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("deposit is %s, expected funded", current.Status))
			}
			recipient, err := s.authorizePayOut(ctx, repo, current, auth, action)
			if err != nil {
				return err
			}

			now := s.now()
			next, err := repo.CompareAndSwap(ctx, current.ID, current.Version, ledger.DepositChange{
				Status:     enums.DepositStatusReleased,
				ReleasedAt: &now,
			})
			if err != nil {
				return err
			}
			scheduled, err := s.MoveFunds(ctx, tx, next, []Allocation{{Role: recipient, Amount: next.Amount}}, kind)
			if err != nil {
				return err
			}
			if err := s.emitDeposit(ctx, tx, eventType, next, auth, &recipient); err != nil {
				return err
			}
			released, payouts = next, scheduled
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithDepositID(ctx, released.ID.String())
		logCtx = s.logg.WithActorRole(logCtx, string(auth.Role))
		s.logg.Info(logCtx, "deposit "+string(kind)+" committed")
	}
	if err := s.Settle(ctx, released, payouts); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithDepositID(ctx, released.ID.String()), "payout left pending for settlement job: "+err.Error())
	}
	return released, nil
}

// authorizePayOut decides whether auth may take the deposit out of custody
// and returns the recipient role.
func (s *service) authorizePayOut(ctx context.Context, repo ledger.Repository, deposit *models.Deposit, auth authz.Authorization, action enums.ConsentAction) (enums.PartyRole, error) {
	recipient := enums.PartyRoleRenter
	if action == enums.ConsentActionRelease {
		recipient = auth.RecipientOr(enums.PartyRoleLandlord)
	}

	if auth.IsParty() && auth.Action == action && auth.HasJointConsent() {
		return recipient, nil
	}

	if !auth.IsParty() && !auth.IsSystem() {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "only the deposit parties may move funds")
	}
	if !deposit.WindowExpired(s.now()) {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "joint consent required while the release window is open")
	}
	active, err := repo.ActiveDispute(ctx, deposit.ID)
	if err != nil {
		return "", err
	}
	if active != nil {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "deposit has an open dispute")
	}

	switch action {
	case enums.ConsentActionRelease:
		if recipient != enums.PartyRoleLandlord {
			return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "releasing to the renter requires joint consent")
		}
	case enums.ConsentActionRefund:
		if auth.Role == enums.PartyRoleRenter {
			return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "renter cannot refund without the landlord's consent")
		}
	}
	return recipient, nil
}

// ReleaseExpired releases every funded deposit whose window has ended to its
// landlord. Deposits that changed underneath (disputed, already released) are
// skipped.
func (s *service) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	expired, err := s.repo.ExpiredFunded(ctx, now, limit)
	if err != nil {
		return 0, err
	}
	system := authz.System()
	released := 0
	var failures []error
	for _, deposit := range expired {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		_, err := s.Release(ctx, deposit.ID, system)
		switch {
		case err == nil:
			released++
		case skippable(err):
			if s.logg != nil {
				s.logg.Info(s.logg.WithDepositID(ctx, deposit.ID.String()), "auto-release skipped: "+err.Error())
			}
		default:
			failures = append(failures, fmt.Errorf("deposit %s: %w", deposit.ID, err))
		}
	}
	return released, combine(failures)
}

func skippable(err error) bool {
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeInvalidTransition, pkgerrors.CodeUnauthorized, pkgerrors.CodeConflict:
		return true
	}
	return false
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

func (s *service) record(op string, err error) {
	s.metrics.Transition(op, Outcome(err))
}

// Outcome buckets an engine error into a metrics label.
func Outcome(err error) string {
	if err == nil {
		return metrics.OutcomeOK
	}
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeConflict, pkgerrors.CodeVersionConflict:
		return metrics.OutcomeConflict
	case pkgerrors.CodeInternal, pkgerrors.CodeDependency, pkgerrors.CodeTimeout:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeRejected
	}
}

func (s *service) emitDeposit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, deposit *models.Deposit, actor authz.Authorization, recipient *enums.PartyRole) error {
	var source *enums.FundingSource
	if deposit.FundingSource != nil {
		fs := enums.FundingSource(*deposit.FundingSource)
		source = &fs
	}
	now := s.now()
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateDeposit,
		AggregateID:   deposit.ID,
		Actor:         actorRef(actor),
		OccurredAt:    now,
		Data: payloads.DepositEvent{
			DepositID:     deposit.ID,
			Reference:     deposit.Reference,
			Renter:        deposit.Renter,
			Landlord:      deposit.Landlord,
			Amount:        deposit.Amount,
			Token:         deposit.Token,
			Status:        deposit.Status,
			Version:       deposit.Version,
			FundingSource: source,
			FundingTxHash: deposit.FundingTxHash,
			Recipient:     recipient,
			OccurredAt:    now,
		},
	})
}

// ActorRef converts an authorization into the outbox actor reference.
func ActorRef(auth authz.Authorization) *outbox.ActorRef {
	return actorRef(auth)
}

func actorRef(auth authz.Authorization) *outbox.ActorRef {
	if auth.Actor == "" && auth.Role == "" {
		return nil
	}
	return &outbox.ActorRef{Wallet: auth.Actor, Role: string(auth.Role)}
}
