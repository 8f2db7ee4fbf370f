// Package stats computes read-only aggregates over the ledger.
package stats

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/rentescrow-backend/pkg/db/models"
	"github.com/angelmondragon/rentescrow-backend/pkg/enums"
)

type ledgerReader interface {
	CountDepositsByStatus(ctx context.Context) (map[enums.DepositStatus]int64, error)
	ScanDisputes(ctx context.Context, fn func(models.Dispute) error) error
}

type DepositStats struct {
	TotalDeposits    int64 `json:"totalDeposits"`
	ActiveDeposits   int64 `json:"activeDeposits"`
	ReleasedDeposits int64 `json:"releasedDeposits"`
	DisputedDeposits int64 `json:"disputedDeposits"`
	ResolvedDeposits int64 `json:"resolvedDeposits"`
}

type DisputeStats struct {
	TotalDisputes              int64   `json:"totalDisputes"`
	ActiveDisputes             int64   `json:"activeDisputes"`
	ResolvedDisputes           int64   `json:"resolvedDisputes"`
	AverageResolutionTimeHours float64 `json:"averageResolutionTimeHours"`
}

// Overview is the StatsSnapshot served by the combined endpoint.
type Overview struct {
	Deposits DepositStats `json:"deposits"`
	Disputes DisputeStats `json:"disputes"`
}

type Service struct {
	ledger ledgerReader
}

func NewService(reader ledgerReader) (*Service, error) {
	if reader == nil {
		return nil, fmt.Errorf("ledger reader required")
	}
	return &Service{ledger: reader}, nil
}

// DepositStats runs one grouped count over deposits.
func (s *Service) DepositStats(ctx context.Context) (DepositStats, error) {
	counts, err := s.ledger.CountDepositsByStatus(ctx)
	if err != nil {
		return DepositStats{}, err
	}
	var out DepositStats
	for status, n := range counts {
		out.TotalDeposits += n
		switch status {
		case enums.DepositStatusCreated, enums.DepositStatusFunded:
			out.ActiveDeposits += n
		case enums.DepositStatusReleased:
			out.ReleasedDeposits += n
		case enums.DepositStatusDisputed:
			out.DisputedDeposits += n
		case enums.DepositStatusResolved:
			out.ResolvedDeposits += n
		}
	}
	return out, nil
}

// DisputeStats reads every dispute once.
func (s *Service) DisputeStats(ctx context.Context) (DisputeStats, error) {
	var (
		out        DisputeStats
		totalHours float64
	)
	err := s.ledger.ScanDisputes(ctx, func(d models.Dispute) error {
		out.TotalDisputes++
		switch {
		case d.Status.IsActive():
			out.ActiveDisputes++
		case d.Status == enums.DisputeStatusResolved:
			out.ResolvedDisputes++
			if d.ResolvedAt != nil {
				totalHours += d.ResolvedAt.Sub(d.RaisedAt).Hours()
			}
		}
		return nil
	})
	if err != nil {
		return DisputeStats{}, err
	}
	if out.ResolvedDisputes > 0 {
		out.AverageResolutionTimeHours = round2(totalHours / float64(out.ResolvedDisputes))
	}
	return out, nil
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deposits, err := s.DepositStats(gctx)
		out.Deposits = deposits
		return err
	})
	g.Go(func() error {
		disputes, err := s.DisputeStats(gctx)
		out.Disputes = disputes
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
