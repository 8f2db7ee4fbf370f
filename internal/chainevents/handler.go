// Package chainevents turns on-chain Deposited events from the indexer into
// funding confirmations.
package chainevents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	pkgerrors "github.com/angelmondragon/rentescrow-backend/pkg/errors"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

// Deposited is the indexer's record of a transfer into the custody
// contract. Reference is the memo the renter attached to the transfer.
type Deposited struct {
	TxHash      string `json:"txHash"`
	Reference   string `json:"reference"`
	From        string `json:"from"`
	Amount      string `json:"amount"`
	Token       string `json:"token"`
	BlockNumber uint64 `json:"blockNumber"`
}

// Outcome tells the transport what to do with a delivery.
type Outcome int

const (
	OutcomeAck Outcome = iota
	OutcomeRetry
	OutcomeDrop
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAck:
		return "ack"
	case OutcomeRetry:
		return "retry"
	default:
		return "drop"
	}
}

type funding interface {
	FromChainByReference(ctx context.Context, reference, txHash string) (gateway.FundingResult, error)
}

type Handler struct {
	funding funding
	logg    *logger.Logger
}

func NewHandler(f funding, logg *logger.Logger) (*Handler, error) {
	if f == nil {
		return nil, fmt.Errorf("funding gateway required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Handler{funding: f, logg: logg}, nil
}

// Handle confirms funding for one Deposited event. The amount and token are
// re-read from the chain, so only the reference and hash are trusted from
// the message.
func (h *Handler) Handle(ctx context.Context, data []byte) Outcome {
	var event Deposited
	if err := json.Unmarshal(data, &event); err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "dropping undecodable deposited event")
		return OutcomeDrop
	}
	event.Reference = strings.TrimSpace(event.Reference)
	ctx = h.logg.WithFields(ctx, map[string]any{
		"txHash":    event.TxHash,
		"reference": event.Reference,
		"block":     event.BlockNumber,
	})
	if event.Reference == "" || strings.TrimSpace(event.TxHash) == "" {
		h.logg.Warn(ctx, "dropping deposited event without reference or hash")
		return OutcomeDrop
	}

	result, err := h.funding.FromChainByReference(ctx, event.Reference, event.TxHash)
	if err != nil {
		if retryable(err) {
			h.logg.Warn(h.logg.WithField(ctx, "reason", err.Error()), "funding confirmation deferred")
			return OutcomeRetry
		}
		h.logg.Error(ctx, "deposited event rejected", err)
		return OutcomeDrop
	}

	ctx = h.logg.WithDepositID(ctx, result.Deposit.ID.String())
	if result.Replayed {
		h.logg.Info(ctx, "deposited event already applied")
	} else {
		h.logg.Info(ctx, "deposit funded from chain")
	}
	return OutcomeAck
}

// Unconfirmed transfers surface as STATE_CONFLICT and are worth another
// delivery once more blocks land.
func retryable(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return true
	}
	if typed.Code() == pkgerrors.CodeStateConflict {
		return true
	}
	return pkgerrors.MetadataFor(typed.Code()).Retryable
}
