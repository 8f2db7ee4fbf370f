package gateway

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

type fundingFixture struct {
	engine  custody.Service
	funding *Funding
	sim     *chain.SimulatedClient
}

func newFundingFixture(t *testing.T) *fundingFixture {
	t.Helper()
	conn := dbtest.Open(t)
	sim := chain.NewSimulated()
	bounded := chain.NewBounded(sim, time.Second)
	policy := retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}
	engine, err := custody.NewService(custody.ServiceParams{
		Repo:          ledger.NewRepository(conn),
		Tx:            db.NewFromGorm(conn),
		Outbox:        outbox.NewService(outbox.NewRepository(conn), nil),
		Chain:         bounded,
		Policy:        policy,
		ReleaseWindow: 24 * time.Hour,
	})
	require.NoError(t, err)
	return &fundingFixture{engine: engine, funding: NewFunding(engine, bounded, policy), sim: sim}
}

func (f *fundingFixture) create(t *testing.T) *models.Deposit {
	t.Helper()
	deposit, err := f.engine.CreateDeposit(context.Background(), custody.CreateDepositInput{
		Renter:   renterAddr,
		Landlord: landlordAddr,
		Amount:   decimal.NewFromInt(500),
		Token:    "USDC",
		Actor:    authz.System(),
	})
	require.NoError(t, err)
	return deposit
}

func TestFromChainFundsOnce(t *testing.T) {
	f := newFundingFixture(t)
	ctx := context.Background()
	deposit := f.create(t)
	hash := f.sim.RecordTransfer(renterAddr, deposit.Amount, "USDC", deposit.Reference)

	first, err := f.funding.FromChain(ctx, deposit.ID, hash)
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, enums.DepositStatusFunded, first.Deposit.Status)

	again, err := f.funding.FromChain(ctx, deposit.ID, hash)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Deposit.Version, again.Deposit.Version)
}

func TestFromChainRejectsUnknownTransfer(t *testing.T) {
	f := newFundingFixture(t)
	deposit := f.create(t)

	_, err := f.funding.FromChain(context.Background(), deposit.ID, "0x"+strings.Repeat("ab", 32))
	require.Error(t, err)

	_, err = f.funding.FromChain(context.Background(), deposit.ID, "not-a-hash")
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestApplyRejectsTxReusedForAnotherDeposit(t *testing.T) {
	f := newFundingFixture(t)
	ctx := context.Background()
	first := f.create(t)
	second := f.create(t)
	hash := f.sim.RecordTransfer(renterAddr, first.Amount, "USDC", first.Reference)

	_, err := f.funding.FromChain(ctx, first.ID, hash)
	require.NoError(t, err)

	_, err = f.funding.Apply(ctx, second.ID, custody.FundingProof{
		TxHash: hash, Amount: second.Amount, Token: "USDC", Source: enums.FundingSourceOnramp,
	})
	assert.Equal(t, pkgerrors.CodeFundingMismatch, pkgerrors.CodeOf(err))
}

func TestApplyByReferenceRejectsWrongAmount(t *testing.T) {
	f := newFundingFixture(t)
	deposit := f.create(t)

	_, err := f.funding.ApplyByReference(context.Background(), deposit.Reference, custody.FundingProof{
		TxHash: "0x" + strings.Repeat("cd", 32), Amount: decimal.NewFromInt(499), Token: "USDC", Source: enums.FundingSourceOnramp,
	})
	assert.Equal(t, pkgerrors.CodeFundingMismatch, pkgerrors.CodeOf(err))

	res, err := f.funding.ApplyByReference(context.Background(), deposit.Reference, custody.FundingProof{
		TxHash: "0x" + strings.Repeat("cd", 32), Amount: decimal.NewFromInt(500), Token: "usdc", Source: enums.FundingSourceOnramp,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusFunded, res.Deposit.Status)
}

func TestFromChainByReference(t *testing.T) {
	f := newFundingFixture(t)
	deposit := f.create(t)
	hash := f.sim.RecordTransfer(renterAddr, deposit.Amount, "USDC", deposit.Reference)

	res, err := f.funding.FromChainByReference(context.Background(), deposit.Reference, hash)
	require.NoError(t, err)
	assert.Equal(t, deposit.ID, res.Deposit.ID)
	assert.Equal(t, enums.DepositStatusFunded, res.Deposit.Status)

	_, err = f.funding.FromChainByReference(context.Background(), "RD-missing", hash)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestFromChainRejectsTransferTaggedForAnotherDeposit(t *testing.T) {
	f := newFundingFixture(t)
	ctx := context.Background()
	a := f.create(t)
	b := f.create(t)
	hash := f.sim.RecordTransfer(renterAddr, b.Amount, "USDC", b.Reference)

	_, err := f.funding.FromChain(ctx, a.ID, hash)
	assert.Equal(t, pkgerrors.CodeFundingMismatch, pkgerrors.CodeOf(err))

	_, err = f.funding.FromChainByReference(ctx, a.Reference, hash)
	assert.Equal(t, pkgerrors.CodeFundingMismatch, pkgerrors.CodeOf(err))

	view, err := f.engine.GetDeposit(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusCreated, view.Deposit.Status)

	res, err := f.funding.FromChain(ctx, b.ID, hash)
	require.NoError(t, err)
	assert.Equal(t, b.ID, res.Deposit.ID)
	assert.Equal(t, enums.DepositStatusFunded, res.Deposit.Status)
}

func TestFromChainRetriesTransferLookupTimeout(t *testing.T) {
	f := newFundingFixture(t)
	deposit := f.create(t)
	hash := f.sim.RecordTransfer(renterAddr, deposit.Amount, "USDC", deposit.Reference)

	f.sim.FailNext(context.DeadlineExceeded)
	res, err := f.funding.FromChain(context.Background(), deposit.ID, hash)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusFunded, res.Deposit.Status)
}

func TestFromChainSurfacesTimeoutAfterBudget(t *testing.T) {
	f := newFundingFixture(t)
	deposit := f.create(t)
	hash := f.sim.RecordTransfer(renterAddr, deposit.Amount, "USDC", deposit.Reference)

	f.sim.SetDelay(200 * time.Millisecond)
	slow := NewFunding(f.engine, chain.NewBounded(f.sim, 20*time.Millisecond), retry.Policy{Attempts: 2, BaseDelay: time.Millisecond})

	_, err := slow.FromChain(context.Background(), deposit.ID, hash)
	assert.Equal(t, pkgerrors.CodeTimeout, pkgerrors.CodeOf(err))

	view, err := f.engine.GetDeposit(context.Background(), deposit.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusCreated, view.Deposit.Status)
}
