package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/rentescrow-backend/internal/custody"
	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

const defaultEscrowBatch = 100

type autoReleaser interface {
	ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

type payoutSettler interface {
	SettlePending(ctx context.Context, limit int) (custody.SettleReport, error)
}

type AutoReleaseJobParams struct {
	Logger    *logger.Logger
	Custody   autoReleaser
	BatchSize int
}

// NewAutoReleaseJob releases funded deposits whose release window has ended
// and which nobody disputed.
func NewAutoReleaseJob(params AutoReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Custody == nil {
		return nil, fmt.Errorf("custody service required")
	}
	return &autoReleaseJob{
		logg:    params.Logger,
		custody: params.Custody,
		batch:   batchOrDefault(params.BatchSize),
		now:     time.Now,
	}, nil
}

type autoReleaseJob struct {
	logg    *logger.Logger
	custody autoReleaser
	batch   int
	now     func() time.Time
}

func (j *autoReleaseJob) Name() string { return "auto-release" }

func (j *autoReleaseJob) Run(ctx context.Context) (int, error) {
	now := j.now().UTC()
	var total int
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		released, err := j.custody.ReleaseExpired(ctx, now, j.batch)
		if err != nil {
			return total, fmt.Errorf("auto release: %w", err)
		}
		total += released
		if released < j.batch {
			break
		}
	}
	j.logg.Info(j.logg.WithField(ctx, "released", total), "auto release complete")
	return total, nil
}

type SettlementJobParams struct {
	Logger    *logger.Logger
	Custody   payoutSettler
	BatchSize int
}

// NewSettlementJob resubmits payouts whose chain transfer has not gone
// through yet.
func NewSettlementJob(params SettlementJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Custody == nil {
		return nil, fmt.Errorf("custody service required")
	}
	return &settlementJob{
		logg:    params.Logger,
		custody: params.Custody,
		batch:   batchOrDefault(params.BatchSize),
	}, nil
}

type settlementJob struct {
	logg    *logger.Logger
	custody payoutSettler
	batch   int
}

func (j *settlementJob) Name() string { return "payout-settlement" }

// Run makes one pass; payouts that fail again wait for the next cycle.
func (j *settlementJob) Run(ctx context.Context) (int, error) {
	report, err := j.custody.SettlePending(ctx, j.batch)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"attempted": report.Attempted,
		"settled":   report.Settled,
		"failed":    report.Failed,
	})
	if err != nil {
		return report.Settled, fmt.Errorf("settle pending payouts: %w", err)
	}
	if report.Failed > 0 {
		j.logg.Warn(logCtx, "some payouts are still unsettled")
		return report.Settled, nil
	}
	j.logg.Info(logCtx, "payout settlement complete")
	return report.Settled, nil
}

func batchOrDefault(n int) int {
	if n <= 0 {
		return defaultEscrowBatch
	}
	return n
}
