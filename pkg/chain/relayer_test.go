package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRelayerPayoutSendsIdempotencyKey(t *testing.T) {
	var gotKey, gotAuth string
	var gotBody relayerPayoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/payouts", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(relayerPayoutResponse{TxHash: "0xfeed"})
	}))
	defer srv.Close()

	client, err := NewRelayer(srv.URL, "key-1", srv.Client())
	require.NoError(t, err)

	receipt, err := client.Payout(context.Background(), PayoutInstruction{
		IdempotencyKey: "dep-1:renter",
		DepositRef:     "RD-1",
		Recipient:      "0xrenter",
		Amount:         decimal.RequireFromString("12.50"),
		Token:          "USDC",
	})
	require.NoError(t, err)
	require.Equal(t, "0xfeed", receipt.TxHash)
	require.Equal(t, "dep-1:renter", gotKey)
	require.Equal(t, "Bearer key-1", gotAuth)
	require.True(t, gotBody.Amount.Equal(decimal.RequireFromString("12.5")))
}

func TestRelayerTransferNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client, err := NewRelayer(srv.URL, "", nil)
	require.NoError(t, err)

	_, err = client.GetTransfer(context.Background(), "0xabc")
	require.ErrorIs(t, err, ErrTransferNotFound)
}

func TestNewRelayerRequiresURL(t *testing.T) {
	_, err := NewRelayer(" ", "", nil)
	require.Error(t, err)
}
