package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
)

// ErrTransferNotFound is returned when the chain has no record of a hash.
var ErrTransferNotFound = errors.New("transfer not found")

// Transfer is an inbound transfer into the escrow contract.
type Transfer struct {
	TxHash    string
	From      string
	Amount    decimal.Decimal
	Token     string
	Reference string
	Confirmed bool
}

// PayoutInstruction asks the custody contract to pay out of escrow.
type PayoutInstruction struct {
	IdempotencyKey string
	DepositRef     string
	Recipient      string
	Amount         decimal.Decimal
	Token          string
}

// Receipt is the outcome of an accepted payout instruction.
type Receipt struct {
	TxHash string
}

// Client is the custody contract surface the engines rely on.
type Client interface {
	GetTransfer(ctx context.Context, txHash string) (Transfer, error)
	Payout(ctx context.Context, instr PayoutInstruction) (Receipt, error)
}

// Bounded applies a deadline to every call on the wrapped client and maps
// an expired deadline to a retryable TIMEOUT error.
type Bounded struct {
	inner   Client
	timeout time.Duration
}

// NewBounded wraps inner. A non-positive timeout defaults to 10s.
func NewBounded(inner Client, timeout time.Duration) *Bounded {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Bounded{inner: inner, timeout: timeout}
}

func (b *Bounded) GetTransfer(ctx context.Context, txHash string) (Transfer, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	transfer, err := b.inner.GetTransfer(callCtx, txHash)
	if err != nil {
		return Transfer{}, classify(callCtx, err, "lookup transfer")
	}
	return transfer, nil
}

func (b *Bounded) Payout(ctx context.Context, instr PayoutInstruction) (Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	receipt, err := b.inner.Payout(callCtx, instr)
	if err != nil {
		return Receipt{}, classify(callCtx, err, "submit payout")
	}
	return receipt, nil
}

func classify(ctx context.Context, err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return pkgerrors.Wrap(pkgerrors.CodeTimeout, err, fmt.Sprintf("chain %s timed out", op))
	}
	if errors.Is(err, ErrTransferNotFound) {
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "transfer not found on chain")
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("chain %s failed", op))
}
