package disputes

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/rentescrow-backend/internal/authz"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/ledger"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/db"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/retry"
)

const (
	renterAddr   = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	landlordAddr = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	arbiterAddr  = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
)

type fixture struct {
	disputes Service
	custody  custody.Service
	repo     ledger.Repository
	conn     *gorm.DB
	chain    *chain.SimulatedClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := ledger.NewRepository(conn)
	txRunner := db.NewFromGorm(conn)
	publisher := outbox.NewService(outbox.NewRepository(conn), nil)
	sim := chain.NewSimulated()
	policy := retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}

	custodySvc, err := custody.NewService(custody.ServiceParams{
		Repo:          repo,
		Tx:            txRunner,
		Outbox:        publisher,
		Chain:         chain.NewBounded(sim, time.Second),
		Policy:        policy,
		ReleaseWindow: 24 * time.Hour,
	})
	require.NoError(t, err)

	disputeSvc, err := NewService(ServiceParams{
		Repo:   repo,
		Tx:     txRunner,
		Outbox: publisher,
		Funds:  custodySvc,
		Policy: policy,
	})
	require.NoError(t, err)
	return &fixture{disputes: disputeSvc, custody: custodySvc, repo: repo, conn: conn, chain: sim}
}

func renter() authz.Authorization {
	return authz.Authorization{Actor: renterAddr, TokenRole: enums.TokenRoleParty, Role: enums.PartyRoleRenter}
}

func landlord() authz.Authorization {
	return authz.Authorization{Actor: landlordAddr, TokenRole: enums.TokenRoleParty, Role: enums.PartyRoleLandlord}
}

func arbiter() authz.Authorization {
	return authz.Authorization{Actor: arbiterAddr, TokenRole: enums.TokenRoleArbiter, Role: enums.PartyRoleArbiter}
}

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func (f *fixture) fundedDeposit(t *testing.T, amount string) *models.Deposit {
	t.Helper()
	ctx := context.Background()
	deposit, err := f.custody.CreateDeposit(ctx, custody.CreateDepositInput{
		Renter:   renterAddr,
		Landlord: landlordAddr,
		Amount:   decimal.RequireFromString(amount),
		Token:    "USDC",
		Actor:    renter(),
	})
	require.NoError(t, err)
	hash := f.chain.RecordTransfer(renterAddr, deposit.Amount, deposit.Token, deposit.Reference)
	funded, err := f.custody.ConfirmFunding(ctx, deposit.ID, custody.FundingProof{
		TxHash: hash,
		Amount: deposit.Amount,
		Token:  deposit.Token,
		Source: enums.FundingSourceChain,
	})
	require.NoError(t, err)
	return funded
}

func (f *fixture) underReview(t *testing.T, amount string) (*models.Deposit, *models.Dispute) {
	t.Helper()
	deposit := f.fundedDeposit(t, amount)
	dispute, err := f.disputes.RaiseDispute(context.Background(), deposit.ID, renter(), "apartment returned clean")
	require.NoError(t, err)
	reviewed, err := f.disputes.BeginReview(context.Background(), dispute.ID, arbiter())
	require.NoError(t, err)
	return deposit, reviewed
}

func TestRaiseDispute(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit := f.fundedDeposit(t, "500")

	dispute, err := f.disputes.RaiseDispute(ctx, deposit.ID, landlord(), "  broken window  ")
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusOpen, dispute.Status)
	assert.Equal(t, landlordAddr, dispute.RaisedBy)
	assert.Equal(t, enums.PartyRoleLandlord, dispute.RaisedByRole)
	assert.Equal(t, "broken window", dispute.Reason)

	current, err := f.repo.GetDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusDisputed, current.Status)
	require.NotNil(t, current.DisputeID)
	assert.Equal(t, dispute.ID, *current.DisputeID)

	_, err = f.disputes.RaiseDispute(ctx, deposit.ID, renter(), "second claim")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeAlreadyDisputed))

	var events int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventDisputeRaised).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestRaiseDisputeRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	funded := f.fundedDeposit(t, "500")

	_, err := f.disputes.RaiseDispute(ctx, funded.ID, arbiter(), "arbiters cannot raise")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	_, err = f.disputes.RaiseDispute(ctx, funded.ID, authz.System(), "nor the system")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	impostor := renter()
	impostor.Actor = arbiterAddr
	_, err = f.disputes.RaiseDispute(ctx, funded.ID, impostor, "not my deposit")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	_, err = f.disputes.RaiseDispute(ctx, funded.ID, renter(), "   ")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	_, err = f.disputes.RaiseDispute(ctx, funded.ID, renter(), strings.Repeat("x", 1001))
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))

	created, err := f.custody.CreateDeposit(ctx, custody.CreateDepositInput{
		Renter: renterAddr, Landlord: landlordAddr, Amount: decimal.NewFromInt(10), Token: "USDC", Actor: renter(),
	})
	require.NoError(t, err)
	_, err = f.disputes.RaiseDispute(ctx, created.ID, renter(), "not funded yet")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	_, err = f.disputes.RaiseDispute(ctx, uuid.New(), renter(), "missing")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestBeginReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit := f.fundedDeposit(t, "500")
	dispute, err := f.disputes.RaiseDispute(ctx, deposit.ID, renter(), "deposit withheld")
	require.NoError(t, err)

	_, err = f.disputes.BeginReview(ctx, dispute.ID, landlord())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	partyArbiter := arbiter()
	partyArbiter.Actor = landlordAddr
	_, err = f.disputes.BeginReview(ctx, dispute.ID, partyArbiter)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	reviewed, err := f.disputes.BeginReview(ctx, dispute.ID, arbiter())
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusUnderReview, reviewed.Status)
	require.NotNil(t, reviewed.Arbiter)
	assert.Equal(t, arbiterAddr, *reviewed.Arbiter)
	require.NotNil(t, reviewed.ReviewedAt)

	again, err := f.disputes.BeginReview(ctx, dispute.ID, arbiter())
	require.NoError(t, err)
	assert.Equal(t, reviewed.Version, again.Version)
}

func TestResolveRequiresReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit := f.fundedDeposit(t, "500")
	dispute, err := f.disputes.RaiseDispute(ctx, deposit.ID, renter(), "deposit withheld")
	require.NoError(t, err)

	_, err = f.disputes.Resolve(ctx, dispute.ID, Resolution{Outcome: enums.ResolutionRefundRenter}, arbiter())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	_, err = f.disputes.Resolve(ctx, dispute.ID, Resolution{Outcome: enums.ResolutionRefundRenter}, renter())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))
}

func TestResolveInvalidSharesLeavesDisputeUnderReview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit, dispute := f.underReview(t, "500")

	_, err := f.disputes.Resolve(ctx, dispute.ID, Resolution{
		Outcome:       enums.ResolutionSplit,
		RenterShare:   dec("200"),
		LandlordShare: dec("250"),
	}, arbiter())
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidResolution))

	current, err := f.disputes.Get(ctx, dispute.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DisputeStatusUnderReview, current.Status)
	assert.Nil(t, current.ResolvedAt)

	payouts, err := f.repo.ListPayouts(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestResolveSplitScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit, dispute := f.underReview(t, "500")

	outcome, err := f.disputes.Resolve(ctx, dispute.ID, Resolution{
		Outcome:       enums.ResolutionSplit,
		RenterShare:   dec("200"),
		LandlordShare: dec("300"),
	}, arbiter())
	require.NoError(t, err)

	assert.Equal(t, enums.DisputeStatusResolved, outcome.Dispute.Status)
	require.NotNil(t, outcome.Dispute.ResolvedAt)
	assert.Equal(t, enums.DepositStatusResolved, outcome.Deposit.Status)
	require.NotNil(t, outcome.Deposit.ResolvedAt)
	require.Len(t, outcome.Payouts, 2)

	payouts, err := f.repo.ListPayouts(ctx, deposit.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	byRole := map[enums.PartyRole]models.Payout{}
	total := decimal.Zero
	for _, p := range payouts {
		byRole[p.RecipientRole] = p
		total = total.Add(p.Amount)
		assert.Equal(t, enums.PayoutKindResolution, p.Kind)
		assert.Equal(t, enums.PayoutStatusSettled, p.Status)
	}
	assert.True(t, byRole[enums.PartyRoleRenter].Amount.Equal(decimal.NewFromInt(200)))
	assert.True(t, byRole[enums.PartyRoleLandlord].Amount.Equal(decimal.NewFromInt(300)))
	assert.True(t, total.Equal(deposit.Amount))
	assert.Len(t, f.chain.Payouts(), 2)

	_, err = f.disputes.Resolve(ctx, dispute.ID, Resolution{Outcome: enums.ResolutionPayLandlord}, arbiter())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
	_, err = f.custody.Release(ctx, deposit.ID, authz.System())
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
}

func TestResolveFullRefundPaysOnlyRenter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	deposit, dispute := f.underReview(t, "750.25")

	outcome, err := f.disputes.Resolve(ctx, dispute.ID, Resolution{Outcome: enums.ResolutionRefundRenter}, arbiter())
	require.NoError(t, err)
	require.Len(t, outcome.Payouts, 1)
	assert.Equal(t, enums.PartyRoleRenter, outcome.Payouts[0].RecipientRole)
	assert.True(t, outcome.Payouts[0].Amount.Equal(deposit.Amount))
	require.NotNil(t, outcome.Dispute.LandlordShare)
	assert.True(t, outcome.Dispute.LandlordShare.IsZero())
}

func TestConcurrentReleaseAndRaiseDispute(t *testing.T) {
	f := newFixture(t)
	deposit := f.fundedDeposit(t, "500")

	consent := landlord().WithConsent(enums.PartyRoleRenter).WithConsent(enums.PartyRoleLandlord)
	consent.Action = enums.ConsentActionRelease

	var wg sync.WaitGroup
	var releaseErr, raiseErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, releaseErr = f.custody.Release(context.Background(), deposit.ID, consent)
	}()
	go func() {
		defer wg.Done()
		_, raiseErr = f.disputes.RaiseDispute(context.Background(), deposit.ID, renter(), "contested")
	}()
	wg.Wait()

	assert.True(t, (releaseErr == nil) != (raiseErr == nil), "release=%v raise=%v", releaseErr, raiseErr)

	current, err := f.repo.GetDeposit(context.Background(), deposit.ID)
	require.NoError(t, err)
	if releaseErr == nil {
		assert.Equal(t, enums.DepositStatusReleased, current.Status)
		active, err := f.repo.ActiveDispute(context.Background(), deposit.ID)
		require.NoError(t, err)
		assert.Nil(t, active)
	} else {
		assert.Equal(t, enums.DepositStatusDisputed, current.Status)
		payouts, err := f.repo.ListPayouts(context.Background(), deposit.ID)
		require.NoError(t, err)
		assert.Empty(t, payouts)
	}
}
