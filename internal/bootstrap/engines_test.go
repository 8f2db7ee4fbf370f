package bootstrap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/rentescrow-backend/internal/authz"
	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/db"
	"github.com/angelmondragon/rentescrow-backend/pkg/db/dbtest"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

func TestNewEnginesWiresSimulatedStack(t *testing.T) {
	cfg := &config.Config{
		JWT:    config.JWTConfig{Secret: "bootstrap-secret", Issuer: "rentescrow-test", ExpirationMinutes: 30},
		Chain:  config.ChainConfig{Mode: config.ChainModeSimulated, Timeout: time.Second},
		Escrow: config.EscrowConfig{ReleaseWindow: time.Hour, ConsentTTL: time.Hour, RetryAttempts: 2, ReasonMaxLen: 500},
	}
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	engines, err := NewEngines(cfg, db.NewFromGorm(dbtest.Open(t)), logg, nil)
	require.NoError(t, err)
	require.NotNil(t, engines.Funding)
	require.NotNil(t, engines.Resolver)

	deposit, err := engines.Custody.CreateDeposit(context.Background(), custody.CreateDepositInput{
		Renter:   "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		Landlord: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
		Amount:   decimal.NewFromInt(100),
		Token:    "USDC",
		Actor:    authz.System(),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.DepositStatusCreated, deposit.Status)
}

func TestNewChainClientRequiresRelayerURL(t *testing.T) {
	_, err := NewChainClient(config.ChainConfig{Mode: config.ChainModeRelayer, Timeout: time.Second})
	require.Error(t, err)

	client, err := NewChainClient(config.ChainConfig{Mode: config.ChainModeRelayer, RelayerURL: "https://relayer.internal", Timeout: time.Second})
	require.NoError(t, err)
	assert.NotNil(t, client)
}
