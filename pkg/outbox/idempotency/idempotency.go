// Package idempotency gives event consumers at-most-once side effects on top
// of at-least-once delivery.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/rentescrow-backend/pkg/redis"
)

// Manager records which events each consumer has handled. A mark lives under
// rentescrow:idempotency:evt:processed:<consumer>:<event_id> for ttl; a zero
// ttl keeps it forever.
type Manager struct {
	store redis.IdempotencyStore
	ttl   time.Duration
}

func NewManager(store redis.IdempotencyStore, ttl time.Duration) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case ttl < 0:
		return nil, fmt.Errorf("idempotency ttl %s is negative", ttl)
	}
	return &Manager{store: store, ttl: ttl}, nil
}

// Process runs fn unless consumer already handled eventID, and reports
// whether fn ran. A failing fn has its mark removed so the redelivery gets
// another attempt.
func (m *Manager) Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	claimed, err := m.store.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), m.ttl)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		return false, nil
	}

	runErr := fn(ctx)
	if runErr == nil {
		return true, nil
	}
	// the mark must go even if ctx was cancelled mid-handler
	if err := m.store.Del(context.WithoutCancel(ctx), key); err != nil {
		return true, errors.Join(runErr, fmt.Errorf("release %s: %w", key, err))
	}
	return true, runErr
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:processed:"+consumer, eventID.String()), nil
}
