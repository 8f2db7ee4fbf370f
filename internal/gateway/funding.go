package gateway

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/retry"
)

type fundingEngine interface {
	ConfirmFunding(ctx context.Context, depositID uuid.UUID, proof custody.FundingProof) (*models.Deposit, error)
	FindFundedByTx(ctx context.Context, txHash string) (*models.Deposit, error)
	GetDeposit(ctx context.Context, id uuid.UUID) (*custody.DepositView, error)
	GetByReference(ctx context.Context, reference string) (*models.Deposit, error)
}

// Funding translates funding evidence from any channel into ConfirmFunding.
// Replays of evidence that already funded the same deposit succeed without a
// second transition.
type Funding struct {
	engine fundingEngine
	chain  chain.Client
	policy retry.Policy
}

// NewFunding builds a translator. Transfer lookups that time out are retried
// within policy.
func NewFunding(engine fundingEngine, client chain.Client, policy retry.Policy) *Funding {
	return &Funding{engine: engine, chain: client, policy: policy}
}

// FundingResult reports the funded deposit and whether the evidence had been
// applied before.
type FundingResult struct {
	Deposit  *models.Deposit
	Replayed bool
}

// Apply confirms funding of depositID with proof exactly once.
func (f *Funding) Apply(ctx context.Context, depositID uuid.UUID, proof custody.FundingProof) (FundingResult, error) {
	if prior, err := f.priorFunding(ctx, depositID, proof.TxHash); err != nil || prior != nil {
		return FundingResult{Deposit: prior, Replayed: prior != nil}, err
	}

	deposit, err := f.engine.ConfirmFunding(ctx, depositID, proof)
	if err != nil {
		if pkgerrors.Is(err, pkgerrors.CodeInvalidTransition) {
			if prior, lookupErr := f.priorFunding(ctx, depositID, proof.TxHash); lookupErr == nil && prior != nil {
				return FundingResult{Deposit: prior, Replayed: true}, nil
			}
		}
		return FundingResult{}, err
	}
	return FundingResult{Deposit: deposit}, nil
}

// ApplyByReference resolves the deposit from its public reference first.
func (f *Funding) ApplyByReference(ctx context.Context, reference string, proof custody.FundingProof) (FundingResult, error) {
	deposit, err := f.engine.GetByReference(ctx, reference)
	if err != nil {
		return FundingResult{}, err
	}
	return f.Apply(ctx, deposit.ID, proof)
}

// FromChain looks txHash up through the chain client and confirms funding
// with what the chain reports, not what the caller claims. A transfer tagged
// with another deposit's reference is rejected.
func (f *Funding) FromChain(ctx context.Context, depositID uuid.UUID, txHash string) (FundingResult, error) {
	view, err := f.engine.GetDeposit(ctx, depositID)
	if err != nil {
		return FundingResult{}, err
	}
	return f.fromChain(ctx, &view.Deposit, txHash)
}

// FromChainByReference is FromChain for evidence that names the deposit by
// its public reference.
func (f *Funding) FromChainByReference(ctx context.Context, reference, txHash string) (FundingResult, error) {
	deposit, err := f.engine.GetByReference(ctx, reference)
	if err != nil {
		return FundingResult{}, err
	}
	return f.fromChain(ctx, deposit, txHash)
}

func (f *Funding) fromChain(ctx context.Context, deposit *models.Deposit, txHash string) (FundingResult, error) {
	if f.chain == nil {
		return FundingResult{}, pkgerrors.New(pkgerrors.CodeDependency, "chain client not configured")
	}
	hash, err := chain.NormalizeTxHash(txHash)
	if err != nil {
		return FundingResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction hash")
	}

	var transfer chain.Transfer
	err = retry.Do(ctx, f.policy, func(ctx context.Context) error {
		var lookupErr error
		transfer, lookupErr = f.chain.GetTransfer(ctx, hash)
		return lookupErr
	})
	if err != nil {
		return FundingResult{}, err
	}
	if !transfer.Confirmed {
		return FundingResult{}, pkgerrors.New(pkgerrors.CodeStateConflict, "transfer is not confirmed yet")
	}
	if transfer.Reference != "" && transfer.Reference != deposit.Reference {
		return FundingResult{}, pkgerrors.New(pkgerrors.CodeFundingMismatch,
			fmt.Sprintf("transfer is tagged for deposit %s", transfer.Reference))
	}
	return f.Apply(ctx, deposit.ID, custody.FundingProof{
		TxHash: hash,
		Amount: transfer.Amount,
		Token:  transfer.Token,
		Source: enums.FundingSourceChain,
	})
}

func (f *Funding) priorFunding(ctx context.Context, depositID uuid.UUID, txHash string) (*models.Deposit, error) {
	prior, err := f.engine.FindFundedByTx(ctx, txHash)
	if err != nil || prior == nil {
		return nil, err
	}
	if prior.ID != depositID {
		return nil, pkgerrors.New(pkgerrors.CodeFundingMismatch, fmt.Sprintf("transaction already funded deposit %s", prior.Reference))
	}
	return prior, nil
}
