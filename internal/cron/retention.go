package cron

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

const day = 24 * time.Hour

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository interface {
		DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	}
	// Retention is in days; zero means 30.
	Retention int
	// BatchSize defaults to 1000.
	BatchSize int
}

// NewOutboxRetentionJob prunes published outbox rows. Unpublished rows are
// never touched, whatever their age.
func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	if p.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	job, err := newRetentionJob("outbox-retention", p.Logger, p.Retention, p.BatchSize, 1000, p.Repository.DeletePublishedBefore)
	if err != nil {
		return nil, err
	}
	return job, nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository interface {
		DeleteReadBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	}
	// Retention is in days since the notification was read; zero means 30.
	Retention int
	// BatchSize defaults to 500.
	BatchSize int
}

// NewNotificationCleanupJob removes notifications read long ago. Unread
// notifications are kept.
func NewNotificationCleanupJob(p NotificationCleanupJobParams) (Job, error) {
	if p.Repository == nil {
		return nil, errors.New("notifications repository required")
	}
	job, err := newRetentionJob("notification-cleanup", p.Logger, p.Retention, p.BatchSize, 500, p.Repository.DeleteReadBefore)
	if err != nil {
		return nil, err
	}
	return job, nil
}

type purgeFunc func(ctx context.Context, cutoff time.Time, limit int) (int64, error)

// retentionJob deletes rows older than a cutoff in bounded batches so one run
// never holds a long transaction.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention time.Duration
	batch     int
	purge     purgeFunc
	now       func() time.Time
}

func newRetentionJob(name string, logg *logger.Logger, days, batch, defaultBatch int, purge purgeFunc) (*retentionJob, error) {
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if days <= 0 {
		days = 30
	}
	if batch <= 0 {
		batch = defaultBatch
	}
	return &retentionJob{
		name:      name,
		logg:      logg,
		retention: time.Duration(days) * day,
		batch:     batch,
		purge:     purge,
		now:       time.Now,
	}, nil
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) (int, error) {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := drain(ctx, j.batch, func(ctx context.Context, limit int) (int64, error) {
		return j.purge(ctx, cutoff, limit)
	})
	if err != nil {
		return int(deleted), err
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"job":          j.name,
		"cutoff":       cutoff,
		"rows_deleted": deleted,
	}), "retention pass complete")
	return int(deleted), nil
}

// drain calls deleteBatch until a batch comes back short.
func drain(ctx context.Context, batch int, deleteBatch func(ctx context.Context, limit int) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := deleteBatch(ctx, batch)
		total += n
		if err != nil || n < int64(batch) {
			return total, err
		}
	}
}
