package custody

import (
	"context"
	"errors"
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
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc   Service
	repo  ledger.Repository
	conn  *gorm.DB
	chain *chain.SimulatedClient
	clock *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	repo := ledger.NewRepository(conn)
	sim := chain.NewSimulated()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	svc, err := NewService(ServiceParams{
		Repo:          repo,
		Tx:            db.NewFromGorm(conn),
		Outbox:        outbox.NewService(outbox.NewRepository(conn), nil),
		Chain:         chain.NewBounded(sim, time.Second),
		Policy:        retry.Policy{Attempts: 3, BaseDelay: time.Millisecond},
		ReleaseWindow: 24 * time.Hour,
		Clock:         clock.Now,
	})
	require.NoError(t, err)
	return &harness{svc: svc, repo: repo, conn: conn, chain: sim, clock: clock}
}

func party(addr string, role enums.PartyRole) authz.Authorization {
	return authz.Authorization{Actor: addr, TokenRole: enums.TokenRoleParty, Role: role}
}

func jointConsent(addr string, role enums.PartyRole, action enums.ConsentAction) authz.Authorization {
	auth := party(addr, role).
		WithConsent(enums.PartyRoleRenter).
		WithConsent(enums.PartyRoleLandlord)
	auth.Action = action
	return auth
}

func (h *harness) create(t *testing.T, amount string) *models.Deposit {
	t.Helper()
	deposit, err := h.svc.CreateDeposit(context.Background(), CreateDepositInput{
		Renter:   renterAddr,
		Landlord: landlordAddr,
		Amount:   decimal.RequireFromString(amount),
		Token:    "usdc",
		Actor:    party(renterAddr, ""),
	})
	require.NoError(t, err)
	return deposit
}

func (h *harness) fund(t *testing.T, deposit *models.Deposit) *models.Deposit {
	t.Helper()
	hash := h.chain.RecordTransfer(renterAddr, deposit.Amount, deposit.Token, deposit.Reference)
	funded, err := h.svc.ConfirmFunding(context.Background(), deposit.ID, FundingProof{
		TxHash: hash,
		Amount: deposit.Amount,
		Token:  deposit.Token,
		Source: enums.FundingSourceChain,
	})
	require.NoError(t, err)
	return funded
}

func (h *harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&n).Error)
	return n
}

func TestCreateDepositValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input CreateDepositInput
		code  pkgerrors.Code
	}{
		{"zero amount", CreateDepositInput{Renter: renterAddr, Landlord: landlordAddr, Amount: decimal.Zero, Token: "USDC", Actor: party(renterAddr, "")}, pkgerrors.CodeInvalidAmount},
		{"negative amount", CreateDepositInput{Renter: renterAddr, Landlord: landlordAddr, Amount: decimal.NewFromInt(-1), Token: "USDC", Actor: party(renterAddr, "")}, pkgerrors.CodeInvalidAmount},
		{"same party", CreateDepositInput{Renter: renterAddr, Landlord: strings.ToLower(renterAddr), Amount: decimal.NewFromInt(5), Token: "USDC", Actor: party(renterAddr, "")}, pkgerrors.CodeValidation},
		{"bad address", CreateDepositInput{Renter: "0x1234", Landlord: landlordAddr, Amount: decimal.NewFromInt(5), Token: "USDC", Actor: party(renterAddr, "")}, pkgerrors.CodeValidation},
		{"bad token", CreateDepositInput{Renter: renterAddr, Landlord: landlordAddr, Amount: decimal.NewFromInt(5), Token: "$", Actor: party(renterAddr, "")}, pkgerrors.CodeValidation},
		{"outsider", CreateDepositInput{Renter: renterAddr, Landlord: landlordAddr, Amount: decimal.NewFromInt(5), Token: "USDC", Actor: party("0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB", "")}, pkgerrors.CodeUnauthorized},
		{"arbiter", CreateDepositInput{Renter: renterAddr, Landlord: landlordAddr, Amount: decimal.NewFromInt(5), Token: "USDC", Actor: authz.Authorization{Actor: renterAddr, TokenRole: enums.TokenRoleArbiter}}, pkgerrors.CodeUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateDeposit(ctx, tc.input)
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}

	var count int64
	require.NoError(t, h.conn.Model(&models.Deposit{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCreateDeposit(t *testing.T) {
	h := newHarness(t)
	deposit := h.create(t, "500")

	assert.Equal(t, enums.DepositStatusCreated, deposit.Status)
	assert.Equal(t, "USDC", deposit.Token)
	assert.Equal(t, int64(1), deposit.Version)
	assert.True(t, strings.HasPrefix(deposit.Reference, "RD-"))
	assert.Len(t, deposit.Reference, len("RD-")+15)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventDepositCreated))

	byRef, err := h.svc.GetByReference(context.Background(), deposit.Reference)
	require.NoError(t, err)
	assert.Equal(t, deposit.ID, byRef.ID)
}

func TestConfirmFunding(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.create(t, "500")

	_, err := h.svc.ConfirmFunding(ctx, deposit.ID, FundingProof{TxHash: "0xabc", Amount: decimal.NewFromInt(499), Token: "USDC", Source: enums.FundingSourceChain})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeFundingMismatch))

	_, err = h.svc.ConfirmFunding(ctx, deposit.ID, FundingProof{TxHash: "0xabc", Amount: decimal.NewFromInt(500), Token: "DAI", Source: enums.FundingSourceChain})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeFundingMismatch))

	still, err := h.repo.GetDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	require.Equal(t, enums.DepositStatusCreated, still.Status)
	require.Equal(t, int64(1), still.Version)

	funded := h.fund(t, deposit)
	assert.Equal(t, enums.DepositStatusFunded, funded.Status)
	require.NotNil(t, funded.FundedAt)
	require.NotNil(t, funded.ReleaseWindowEndsAt)
	assert.True(t, funded.ReleaseWindowEndsAt.Equal(h.clock.Now().Add(24*time.Hour)))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventDepositFunded))

	_, err = h.svc.ConfirmFunding(ctx, deposit.ID, FundingProof{TxHash: *funded.FundingTxHash, Amount: deposit.Amount, Token: "USDC", Source: enums.FundingSourceChain})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	replay, err := h.svc.FindFundedByTx(ctx, strings.ToUpper(*funded.FundingTxHash))
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, deposit.ID, replay.ID)

	unknown, err := h.svc.FindFundedByTx(ctx, "0xdead")
	require.NoError(t, err)
	assert.Nil(t, unknown)
}

func TestConfirmFundingRejectsReusedTransaction(t *testing.T) {
	h := newHarness(t)
	first := h.fund(t, h.create(t, "500"))
	second := h.create(t, "500")

	_, err := h.svc.ConfirmFunding(context.Background(), second.ID, FundingProof{
		TxHash: *first.FundingTxHash,
		Amount: second.Amount,
		Token:  second.Token,
		Source: enums.FundingSourceChain,
	})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeFundingMismatch))
}

func TestReleaseRequiresConsentOrExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.fund(t, h.create(t, "500"))

	_, err := h.svc.Release(ctx, deposit.ID, party(landlordAddr, enums.PartyRoleLandlord))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	single := party(landlordAddr, enums.PartyRoleLandlord).WithConsent(enums.PartyRoleLandlord)
	single.Action = enums.ConsentActionRelease
	_, err = h.svc.Release(ctx, deposit.ID, single)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	wrongAction := jointConsent(landlordAddr, enums.PartyRoleLandlord, enums.ConsentActionRefund)
	_, err = h.svc.Release(ctx, deposit.ID, wrongAction)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	_, err = h.svc.Release(ctx, deposit.ID, authz.Authorization{Actor: "0xarb", TokenRole: enums.TokenRoleArbiter, Role: enums.PartyRoleArbiter})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	current, err := h.repo.GetDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	require.Equal(t, enums.DepositStatusFunded, current.Status)
}

func TestReleaseWithJointConsentPaysFullAmountOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.fund(t, h.create(t, "500"))

	released, err := h.svc.Release(ctx, deposit.ID, jointConsent(renterAddr, enums.PartyRoleRenter, enums.ConsentActionRelease))
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusReleased, released.Status)
	require.NotNil(t, released.ReleasedAt)

	view, err := h.svc.GetDeposit(ctx, deposit.ID)
	require.NoError(t, err)
	require.Len(t, view.Payouts, 1)
	payout := view.Payouts[0]
	assert.Equal(t, enums.PartyRoleLandlord, payout.RecipientRole)
	assert.Equal(t, landlordAddr, payout.Recipient)
	assert.True(t, payout.Amount.Equal(deposit.Amount))
	assert.Equal(t, enums.PayoutKindRelease, payout.Kind)
	assert.Equal(t, enums.PayoutStatusSettled, payout.Status)
	require.NotNil(t, payout.TxHash)

	require.Len(t, h.chain.Payouts(), 1)
	assert.Equal(t, deposit.Reference, h.chain.Payouts()[0].DepositRef)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventDepositReleased))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventPayoutScheduled))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventPayoutSettled))
}

func TestReleaseToStatedRecipient(t *testing.T) {
	h := newHarness(t)
	deposit := h.fund(t, h.create(t, "500"))

	auth := jointConsent(landlordAddr, enums.PartyRoleLandlord, enums.ConsentActionRelease)
	auth.Recipient = enums.PartyRoleRenter
	_, err := h.svc.Release(context.Background(), deposit.ID, auth)
	require.NoError(t, err)

	payouts, err := h.repo.ListPayouts(context.Background(), deposit.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, renterAddr, payouts[0].Recipient)
}

func TestWindowExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.fund(t, h.create(t, "500"))
	h.clock.Advance(25 * time.Hour)

	_, err := h.svc.Refund(ctx, deposit.ID, party(renterAddr, enums.PartyRoleRenter))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	toRenter := party(renterAddr, enums.PartyRoleRenter)
	toRenter.Recipient = enums.PartyRoleRenter
	_, err = h.svc.Release(ctx, deposit.ID, toRenter)
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeUnauthorized))

	released, err := h.svc.Release(ctx, deposit.ID, party(renterAddr, enums.PartyRoleRenter))
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusReleased, released.Status)

	payouts, err := h.repo.ListPayouts(ctx, deposit.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, enums.PartyRoleLandlord, payouts[0].RecipientRole)
}

func TestLandlordRefundAfterExpiry(t *testing.T) {
	h := newHarness(t)
	deposit := h.fund(t, h.create(t, "500"))
	h.clock.Advance(25 * time.Hour)

	refunded, err := h.svc.Refund(context.Background(), deposit.ID, party(landlordAddr, enums.PartyRoleLandlord))
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusReleased, refunded.Status)

	payouts, err := h.repo.ListPayouts(context.Background(), deposit.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, enums.PartyRoleRenter, payouts[0].RecipientRole)
	assert.Equal(t, enums.PayoutKindRefund, payouts[0].Kind)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventDepositRefunded))
}

func TestReleasedIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.fund(t, h.create(t, "500"))

	_, err := h.svc.Refund(ctx, deposit.ID, jointConsent(renterAddr, enums.PartyRoleRenter, enums.ConsentActionRefund))
	require.NoError(t, err)

	_, err = h.svc.Release(ctx, deposit.ID, jointConsent(renterAddr, enums.PartyRoleRenter, enums.ConsentActionRelease))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
	_, err = h.svc.Refund(ctx, deposit.ID, jointConsent(renterAddr, enums.PartyRoleRenter, enums.ConsentActionRefund))
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))
	_, err = h.svc.ConfirmFunding(ctx, deposit.ID, FundingProof{TxHash: "0x01", Amount: deposit.Amount, Token: "USDC", Source: enums.FundingSourceManual})
	require.True(t, pkgerrors.Is(err, pkgerrors.CodeInvalidTransition))

	payouts, err := h.repo.ListPayouts(ctx, deposit.ID)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
}

func TestConcurrentReleaseAndRefundSingleWinner(t *testing.T) {
	h := newHarness(t)
	deposit := h.fund(t, h.create(t, "500"))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = h.svc.Release(context.Background(), deposit.ID, jointConsent(landlordAddr, enums.PartyRoleLandlord, enums.ConsentActionRelease))
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = h.svc.Refund(context.Background(), deposit.ID, jointConsent(renterAddr, enums.PartyRoleRenter, enums.ConsentActionRefund))
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		code := pkgerrors.CodeOf(err)
		assert.True(t, code == pkgerrors.CodeInvalidTransition || code == pkgerrors.CodeConflict, "unexpected %v", err)
	}
	assert.Equal(t, 1, succeeded)

	payouts, err := h.repo.ListPayouts(context.Background(), deposit.ID)
	require.NoError(t, err)
	assert.Len(t, payouts, 1)
}

func TestSettlementFailureLeavesPayoutPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.fund(t, h.create(t, "500"))

	h.chain.FailNext(errors.New("relayer unavailable"))
	released, err := h.svc.Release(ctx, deposit.ID, jointConsent(renterAddr, enums.PartyRoleRenter, enums.ConsentActionRelease))
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusReleased, released.Status)

	pending, err := h.repo.PendingPayouts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	require.NotNil(t, pending[0].LastError)

	report, err := h.svc.SettlePending(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, SettleReport{Attempted: 1, Settled: 1}, report)

	pending, err = h.repo.PendingPayouts(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventPayoutSettled))
}

func TestReleaseExpired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.fund(t, h.create(t, "500"))
	second := h.fund(t, h.create(t, "120.5"))
	h.create(t, "75")

	released, err := h.svc.ReleaseExpired(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Zero(t, released)

	h.clock.Advance(48 * time.Hour)
	released, err = h.svc.ReleaseExpired(ctx, h.clock.Now(), 10)
	require.NoError(t, err)
	assert.Equal(t, 2, released)

	for _, id := range []uuid.UUID{first.ID, second.ID} {
		view, err := h.svc.GetDeposit(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, enums.DepositStatusReleased, view.Deposit.Status)
		require.Len(t, view.Payouts, 1)
		assert.Equal(t, enums.PartyRoleLandlord, view.Payouts[0].RecipientRole)
	}
}

func TestMoveFundsValidatesAllocations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deposit := h.fund(t, h.create(t, "500"))

	cases := []struct {
		name        string
		allocations []Allocation
		code        pkgerrors.Code
	}{
		{"empty", nil, pkgerrors.CodeValidation},
		{"short", []Allocation{{Role: enums.PartyRoleRenter, Amount: decimal.NewFromInt(200)}, {Role: enums.PartyRoleLandlord, Amount: decimal.NewFromInt(250)}}, pkgerrors.CodeInvalidResolution},
		{"zero share", []Allocation{{Role: enums.PartyRoleRenter, Amount: decimal.Zero}, {Role: enums.PartyRoleLandlord, Amount: decimal.NewFromInt(500)}}, pkgerrors.CodeInvalidAmount},
		{"duplicate", []Allocation{{Role: enums.PartyRoleRenter, Amount: decimal.NewFromInt(250)}, {Role: enums.PartyRoleRenter, Amount: decimal.NewFromInt(250)}}, pkgerrors.CodeValidation},
		{"arbiter", []Allocation{{Role: enums.PartyRoleArbiter, Amount: decimal.NewFromInt(500)}}, pkgerrors.CodeValidation},
	}
	txRunner := db.NewFromGorm(h.conn)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := txRunner.WithTx(ctx, func(tx *gorm.DB) error {
				_, err := h.svc.MoveFunds(ctx, tx, deposit, tc.allocations, enums.PayoutKindResolution)
				return err
			})
			require.Error(t, err)
			assert.Equal(t, tc.code, pkgerrors.CodeOf(err))
		})
	}

	payouts, err := h.repo.ListPayouts(ctx, deposit.ID)
	require.NoError(t, err)
	assert.Empty(t, payouts)
}

func TestOutcomeLabels(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "conflict", Outcome(pkgerrors.New(pkgerrors.CodeConflict, "x")))
	assert.Equal(t, "rejected", Outcome(pkgerrors.New(pkgerrors.CodeUnauthorized, "x")))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}
