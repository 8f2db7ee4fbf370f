package chain

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// SimulatedClient keeps transfers and payouts in memory. It backs local runs
// and tests; payouts are idempotent on their key like the relayer.
type SimulatedClient struct {
	mu        sync.Mutex
	transfers map[string]Transfer
	payouts   map[string]Receipt
	ordered   []PayoutInstruction
	delay     time.Duration
	failNext  error
}

func NewSimulated() *SimulatedClient {
	return &SimulatedClient{
		transfers: map[string]Transfer{},
		payouts:   map[string]Receipt{},
	}
}

// RecordTransfer registers an inbound transfer and returns its hash.
func (s *SimulatedClient) RecordTransfer(from string, amount decimal.Decimal, token, reference string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := "0x" + hex.EncodeToString(Keccak256([]byte(from), []byte(amount.String()), []byte(token), []byte(reference), []byte(time.Now().String())))
	s.transfers[hash] = Transfer{
		TxHash:    hash,
		From:      from,
		Amount:    amount,
		Token:     token,
		Reference: reference,
		Confirmed: true,
	}
	return hash
}

// SetDelay makes every call wait d (or until ctx ends).
func (s *SimulatedClient) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

// FailNext makes the next call return err.
func (s *SimulatedClient) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Payouts returns the distinct payout instructions accepted so far.
func (s *SimulatedClient) Payouts() []PayoutInstruction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PayoutInstruction, len(s.ordered))
	copy(out, s.ordered)
	return out
}

func (s *SimulatedClient) GetTransfer(ctx context.Context, txHash string) (Transfer, error) {
	if err := s.wait(ctx); err != nil {
		return Transfer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	transfer, ok := s.transfers[txHash]
	if !ok {
		return Transfer{}, ErrTransferNotFound
	}
	return transfer, nil
}

func (s *SimulatedClient) Payout(ctx context.Context, instr PayoutInstruction) (Receipt, error) {
	if err := s.wait(ctx); err != nil {
		return Receipt{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if receipt, ok := s.payouts[instr.IdempotencyKey]; ok {
		return receipt, nil
	}
	receipt := Receipt{TxHash: "0x" + hex.EncodeToString(Keccak256([]byte("payout"), []byte(instr.IdempotencyKey)))}
	s.payouts[instr.IdempotencyKey] = receipt
	s.ordered = append(s.ordered, instr)
	return receipt, nil
}

func (s *SimulatedClient) wait(ctx context.Context) error {
	s.mu.Lock()
	delay := s.delay
	failure := s.failNext
	s.failNext = nil
	s.mu.Unlock()

	if failure != nil {
		return failure
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
