package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/angelmondragon/rentescrow-backend/pkg/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

// batchRepo answers both retention interfaces from a queue of batch sizes.
type batchRepo struct {
	batches    []int64
	err        error
	calls      int
	lastCutoff time.Time
	lastLimit  int
}

func (r *batchRepo) next(cutoff time.Time, limit int) (int64, error) {
	r.calls++
	r.lastCutoff, r.lastLimit = cutoff, limit
	if r.err != nil {
		return 0, r.err
	}
	if len(r.batches) == 0 {
		return 0, nil
	}
	n := r.batches[0]
	r.batches = r.batches[1:]
	return n, nil
}

func (r *batchRepo) DeletePublishedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	return r.next(cutoff, limit)
}

func (r *batchRepo) DeleteReadBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	return r.next(cutoff, limit)
}

func TestRetentionJobsDrainInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	build := map[string]func(*batchRepo) (Job, error){
		"outbox-retention": func(r *batchRepo) (Job, error) {
			return NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), Repository: r, BatchSize: 3, Retention: 7})
		},
		"notification-cleanup": func(r *batchRepo) (Job, error) {
			return NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: quietLogger(), Repository: r, BatchSize: 3, Retention: 7})
		},
	}
	for name, newJob := range build {
		t.Run(name, func(t *testing.T) {
			repo := &batchRepo{batches: []int64{3, 3, 1}}
			job, err := newJob(repo)
			if err != nil {
				t.Fatalf("constructor: %v", err)
			}
			if job.Name() != name {
				t.Fatalf("expected name %s, got %s", name, job.Name())
			}
			job.(*retentionJob).now = func() time.Time { return now }

			deleted, err := job.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if deleted != 7 || repo.calls != 3 || repo.lastLimit != 3 {
				t.Fatalf("deleted=%d calls=%d limit=%d", deleted, repo.calls, repo.lastLimit)
			}
			if want := now.Add(-7 * day); !repo.lastCutoff.Equal(want) {
				t.Fatalf("expected cutoff %s, got %s", want, repo.lastCutoff)
			}
		})
	}
}

func TestRetentionJobDefaults(t *testing.T) {
	repo := &batchRepo{}
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{Logger: quietLogger(), Repository: repo})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	rj := job.(*retentionJob)
	if rj.batch != 500 || rj.retention != 30*day {
		t.Fatalf("unexpected defaults batch=%d retention=%s", rj.batch, rj.retention)
	}

	job, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), Repository: repo})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	if job.(*retentionJob).batch != 1000 {
		t.Fatalf("unexpected outbox batch %d", job.(*retentionJob).batch)
	}
}

func TestRetentionJobPropagatesErrors(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: quietLogger(), Repository: &batchRepo{err: errors.New("boom")}})
	if err != nil {
		t.Fatalf("constructor: %v", err)
	}
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if _, err := NewNotificationCleanupJob(NotificationCleanupJobParams{Repository: &batchRepo{}}); err == nil {
		t.Fatal("expected error without logger")
	}
}
