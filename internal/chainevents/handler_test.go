package chainevents

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

type stubFunding struct {
	reference string
	txHash    string
	result    gateway.FundingResult
	err       error
}

func (s *stubFunding) FromChainByReference(_ context.Context, reference, txHash string) (gateway.FundingResult, error) {
	s.reference = reference
	s.txHash = txHash
	return s.result, s.err
}

func newTestHandler(t *testing.T, f *stubFunding) *Handler {
	t.Helper()
	h, err := NewHandler(f, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	return h
}

const event = `{"txHash":"0xabc","reference":" RD-123 ","amount":"500","token":"USDC","blockNumber":42}`

func TestHandleFundsDeposit(t *testing.T) {
	f := &stubFunding{result: gateway.FundingResult{Deposit: &models.Deposit{ID: uuid.New()}}}
	h := newTestHandler(t, f)

	assert.Equal(t, OutcomeAck, h.Handle(context.Background(), []byte(event)))
	assert.Equal(t, "RD-123", f.reference)
	assert.Equal(t, "0xabc", f.txHash)
}

func TestHandleReplayIsAcked(t *testing.T) {
	f := &stubFunding{result: gateway.FundingResult{Deposit: &models.Deposit{ID: uuid.New()}, Replayed: true}}
	assert.Equal(t, OutcomeAck, newTestHandler(t, f).Handle(context.Background(), []byte(event)))
}

func TestHandleClassifiesErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"unconfirmed", pkgerrors.New(pkgerrors.CodeStateConflict, "transfer is not confirmed yet"), OutcomeRetry},
		{"dependency", pkgerrors.New(pkgerrors.CodeDependency, "relayer down"), OutcomeRetry},
		{"untyped", errors.New("connection reset"), OutcomeRetry},
		{"unknown reference", pkgerrors.New(pkgerrors.CodeNotFound, "deposit not found"), OutcomeDrop},
		{"mismatch", pkgerrors.New(pkgerrors.CodeFundingMismatch, "amount differs"), OutcomeDrop},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(t, &stubFunding{err: tc.err})
			assert.Equal(t, tc.want, h.Handle(context.Background(), []byte(event)))
		})
	}
}

func TestHandleDropsMalformedEvents(t *testing.T) {
	f := &stubFunding{}
	h := newTestHandler(t, f)

	assert.Equal(t, OutcomeDrop, h.Handle(context.Background(), []byte("{")))
	assert.Equal(t, OutcomeDrop, h.Handle(context.Background(), []byte(`{"txHash":"0xabc"}`)))
	assert.Empty(t, f.reference)
}

type fakeDelivery struct {
	data    []byte
	acked   bool
	nakedAt time.Duration
	termed  bool
}

func (d *fakeDelivery) Data() []byte { return d.data }
func (d *fakeDelivery) Ack() error   { d.acked = true; return nil }
func (d *fakeDelivery) NakWithDelay(delay time.Duration) error {
	d.nakedAt = delay
	return nil
}
func (d *fakeDelivery) Term() error { d.termed = true; return nil }

type fixedHandler Outcome

func (f fixedHandler) Handle(context.Context, []byte) Outcome { return Outcome(f) }

func TestSettleMapsOutcomes(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	ack := &fakeDelivery{}
	(&Listener{handler: fixedHandler(OutcomeAck), logg: logg}).settle(context.Background(), ack)
	assert.True(t, ack.acked)

	retry := &fakeDelivery{}
	(&Listener{handler: fixedHandler(OutcomeRetry), logg: logg}).settle(context.Background(), retry)
	assert.Equal(t, retryDelay, retry.nakedAt)

	drop := &fakeDelivery{}
	(&Listener{handler: fixedHandler(OutcomeDrop), logg: logg}).settle(context.Background(), drop)
	assert.True(t, drop.termed)
}

func TestDepositedSubject(t *testing.T) {
	assert.Equal(t, "escrow.chain.deposited.>", DepositedSubject("escrow.chain."))
	assert.Equal(t, "escrow.chain.deposited.>", DepositedSubject("escrow.chain"))
}
