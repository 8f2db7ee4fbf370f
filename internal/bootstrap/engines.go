// Package bootstrap assembles the escrow engines shared by the binaries.
package bootstrap

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/internal/disputes"
	"github.com/angelmondragon/rentescrow-backend/internal/gateway"
	"github.com/angelmondragon/rentescrow-backend/internal/ledger"
	"github.com/angelmondragon/rentescrow-backend/internal/stats"
	"github.com/angelmondragon/rentescrow-backend/pkg/chain"
	"github.com/angelmondragon/rentescrow-backend/pkg/config"
	"github.com/angelmondragon/rentescrow-backend/pkg/db"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
	"github.com/angelmondragon/rentescrow-backend/pkg/metrics"
	"github.com/angelmondragon/rentescrow-backend/pkg/outbox"
	"github.com/angelmondragon/rentescrow-backend/pkg/retry"
)

// Engines groups the custody and dispute engines with the adapters built on
// top of them.
type Engines struct {
	Ledger   ledger.Repository
	Custody  custody.Service
	Disputes disputes.Service
	Stats    *stats.Service
	Resolver *gateway.Resolver
	Funding  *gateway.Funding
	Chain    chain.Client
	Metrics  *metrics.EscrowMetrics
}

// NewEngines wires every engine over dbClient. reg may be nil.
func NewEngines(cfg *config.Config, dbClient *db.Client, logg *logger.Logger, reg prometheus.Registerer) (*Engines, error) {
	chainClient, err := NewChainClient(cfg.Chain)
	if err != nil {
		return nil, err
	}

	escrowMetrics := metrics.NewEscrowMetrics(reg)
	repo := ledger.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.Escrow.RetryAttempts
	if cfg.Escrow.RetryBaseDelay > 0 {
		policy.BaseDelay = cfg.Escrow.RetryBaseDelay
	}

	custodySvc, err := custody.NewService(custody.ServiceParams{
		Repo:          repo,
		Tx:            dbClient,
		Outbox:        outboxSvc,
		Chain:         chainClient,
		Policy:        policy,
		ReleaseWindow: cfg.Escrow.ReleaseWindow,
		Metrics:       escrowMetrics,
		Logger:        logg,
	})
	if err != nil {
		return nil, fmt.Errorf("custody engine: %w", err)
	}

	disputeSvc, err := disputes.NewService(disputes.ServiceParams{
		Repo:         repo,
		Tx:           dbClient,
		Outbox:       outboxSvc,
		Funds:        custodySvc,
		Policy:       policy,
		ReasonMaxLen: cfg.Escrow.ReasonMaxLen,
		Metrics:      escrowMetrics,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("dispute engine: %w", err)
	}

	statsSvc, err := stats.NewService(repo)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}

	return &Engines{
		Ledger:   repo,
		Custody:  custodySvc,
		Disputes: disputeSvc,
		Stats:    statsSvc,
		Resolver: gateway.NewResolver(cfg.JWT, cfg.Escrow.ConsentTTL),
		Funding:  gateway.NewFunding(custodySvc, chainClient, policy),
		Chain:    chainClient,
		Metrics:  escrowMetrics,
	}, nil
}

// NewChainClient picks the simulated or relayer client and bounds it by the
// configured timeout.
func NewChainClient(cfg config.ChainConfig) (chain.Client, error) {
	var inner chain.Client
	if cfg.Simulated() {
		inner = chain.NewSimulated()
	} else {
		relayer, err := chain.NewRelayer(cfg.RelayerURL, cfg.APIKey, &http.Client{})
		if err != nil {
			return nil, err
		}
		inner = relayer
	}
	return chain.NewBounded(inner, cfg.Timeout), nil
}
