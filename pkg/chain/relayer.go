package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// RelayerClient talks to the custody relayer that owns the escrow contract's
// signing key.
type RelayerClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewRelayer(baseURL, apiKey string, httpClient *http.Client) (*RelayerClient, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("relayer url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse relayer url: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RelayerClient{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}, nil
}

type relayerTransfer struct {
	TxHash    string          `json:"tx_hash"`
	From      string          `json:"from"`
	Amount    decimal.Decimal `json:"amount"`
	Token     string          `json:"token"`
	Reference string          `json:"reference"`
	Confirmed bool            `json:"confirmed"`
}

type relayerPayoutRequest struct {
	DepositRef string          `json:"deposit_ref"`
	Recipient  string          `json:"recipient"`
	Amount     decimal.Decimal `json:"amount"`
	Token      string          `json:"token"`
}

type relayerPayoutResponse struct {
	TxHash string `json:"tx_hash"`
}

func (r *RelayerClient) GetTransfer(ctx context.Context, txHash string) (Transfer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/v1/transfers/"+url.PathEscape(txHash), nil)
	if err != nil {
		return Transfer{}, err
	}
	var body relayerTransfer
	if err := r.do(req, &body); err != nil {
		return Transfer{}, err
	}
	return Transfer(body), nil
}

func (r *RelayerClient) Payout(ctx context.Context, instr PayoutInstruction) (Receipt, error) {
	payload, err := json.Marshal(relayerPayoutRequest{
		DepositRef: instr.DepositRef,
		Recipient:  instr.Recipient,
		Amount:     instr.Amount,
		Token:      instr.Token,
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("encode payout: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/payouts", bytes.NewReader(payload))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", instr.IdempotencyKey)

	var body relayerPayoutResponse
	if err := r.do(req, &body); err != nil {
		return Receipt{}, err
	}
	if body.TxHash == "" {
		return Receipt{}, fmt.Errorf("relayer returned no transaction hash")
	}
	return Receipt{TxHash: body.TxHash}, nil
}

func (r *RelayerClient) do(req *http.Request, out any) error {
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrTransferNotFound
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("relayer %s %s: status %d: %s", req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode relayer response: %w", err)
	}
	return nil
}
